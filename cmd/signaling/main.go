package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/config"
	"github.com/mossy-p/lanmesh/internal/handlers"
	"github.com/mossy-p/lanmesh/internal/logger"
	"github.com/mossy-p/lanmesh/internal/redis"
	"github.com/mossy-p/lanmesh/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	lg, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer lg.Sync()
	logger.SetDefault(lg)
	log := logger.NewNamed("signaling")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rooms store.RoomStore
	switch cfg.Store {
	case "memory":
		rooms = store.NewMemoryStore()
		log.Info("using in-memory room store")
	default:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("connect to redis", zap.Error(err))
		}
		defer client.Close()
		rooms = redis.NewStore(client)
		log.Info("redis connection established", zap.String("host", cfg.Redis.Host))
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := handlers.NewHub(rooms, cfg, logger.NewNamed("hub"))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(cfg, hub, logger.NewNamed("http")),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("starting signaling server", zap.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", zap.Error(err))
	}
	log.Info("signaling server stopped")
}
