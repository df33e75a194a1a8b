package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/config"
	"github.com/mossy-p/lanmesh/internal/logger"
	"github.com/mossy-p/lanmesh/internal/mesh"
	"github.com/mossy-p/lanmesh/internal/relay"
	"github.com/mossy-p/lanmesh/internal/transport"
)

const (
	dialTimeout  = 10 * time.Second
	leaveTimeout = 2 * time.Second
)

var _ mesh.Relay = (*relay.Client)(nil)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lanpeer:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("lanpeer", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	server := flags.String("server", "", "relay websocket url")
	token := flags.String("token", "", "relay auth token")
	username := flags.StringP("username", "u", "", "display name")
	room := flags.StringP("room", "r", "", "room to join")
	create := flags.Bool("create", false, "create the room instead of joining it")
	stun := flags.StringSlice("stun", nil, "ICE server urls")
	logLevel := flags.String("log-level", "", "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.LoadPeer(*configPath)
	if err != nil {
		return err
	}
	overrides := map[string]func(){
		"server":    func() { cfg.ServerURL = *server },
		"token":     func() { cfg.Token = *token },
		"username":  func() { cfg.Username = *username },
		"room":      func() { cfg.Room = *room },
		"create":    func() { cfg.Create = *create },
		"stun":      func() { cfg.ICEServers = *stun },
		"log-level": func() { cfg.Log.Level = *logLevel },
	}
	for name, apply := range overrides {
		if flags.Changed(name) {
			apply()
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer lg.Sync()
	logger.SetDefault(lg)
	log := logger.NewNamed("lanpeer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	client, err := relay.Dial(dialCtx, cfg.ServerURL, cfg.Token, logger.NewNamed("relay"))
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info("connected to relay", zap.String("id", client.ID()))

	factory := transport.NewWebRTCFactory(transport.ICEConfigFromURLs(cfg.ICEServers), logger.NewNamed("transport"))
	manager := mesh.NewManager(mesh.Config{
		ApplyDelay:       cfg.ApplyDelay,
		RecreateCooldown: cfg.RecreateCooldown,
		ProbeInterval:    cfg.ProbeInterval,
	}, client.ID(), client, factory, logObserver{log: log}, logger.NewNamed("mesh"))

	// The manager outlives ctx so it can still leave the room on shutdown.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	runErr := make(chan error, 1)
	go func() { runErr <- manager.Run(runCtx) }()
	go func() {
		for msg := range client.Events() {
			manager.HandleServerMessage(msg)
		}
	}()

	if cfg.Create {
		err = manager.CreateRoom(ctx, cfg.Room, cfg.Username)
	} else {
		err = manager.JoinRoom(ctx, cfg.Room, cfg.Username)
	}
	if err != nil {
		return err
	}

	go readConsole(ctx, manager, log)

	select {
	case <-ctx.Done():
	case err := <-runErr:
		return err
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := manager.Leave(leaveCtx); err != nil {
		log.Warn("leave", zap.Error(err))
	}
	return nil
}

// readConsole sends each stdin line as a game packet. "/status" prints the
// mesh state and "/leave" leaves the room.
func readConsole(ctx context.Context, m *mesh.Manager, log *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/status":
			st, err := m.Status(ctx)
			if err != nil {
				log.Warn("status", zap.Error(err))
				continue
			}
			printStatus(st)
		case "/leave":
			if err := m.Leave(ctx); err != nil {
				log.Warn("leave", zap.Error(err))
			}
		default:
			data, _ := json.Marshal(line)
			if err := m.SendGamePacket(ctx, data); err != nil {
				log.Warn("send packet", zap.Error(err))
			}
		}
	}
}

func printStatus(st mesh.Status) {
	mode := "relay"
	if st.Serverless {
		mode = "serverless"
	}
	fmt.Printf("self=%s user=%s room=%s ip=%s mode=%s\n", st.SelfID, st.Username, st.Room, st.VirtualIP, mode)
	for _, p := range st.Peers {
		fmt.Printf("  %s %-12s initiator=%-5t %s pending=%d\n",
			p.ID, p.Username, p.Initiator, p.State, len(st.Pending[p.ID]))
	}
}
