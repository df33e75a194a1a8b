package main

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/mesh"
	"github.com/mossy-p/lanmesh/internal/models"
)

// logObserver reports mesh activity on the console logger.
type logObserver struct {
	log *zap.Logger
}

var _ mesh.Observer = logObserver{}

func (o logObserver) RoomEntered(room, virtualIP string) {
	o.log.Info("joined room", zap.String("room", room), zap.String("virtualIP", virtualIP))
}

func (o logObserver) RoomLeft(room string) {
	o.log.Info("left room", zap.String("room", room))
}

func (o logObserver) MembersChanged(members []models.User) {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Username)
	}
	o.log.Info("members", zap.Strings("users", names))
}

func (o logObserver) LatencyMeasured(peerID string, rtt time.Duration) {
	o.log.Debug("latency", zap.String("peer", peerID), zap.Duration("rtt", rtt))
}

func (o logObserver) ConnectionTypeChanged(peerID string, kind mesh.ConnectionType) {
	if kind == mesh.ConnectionNone {
		return
	}
	o.log.Info("connection", zap.String("peer", peerID), zap.String("type", string(kind)))
}

func (o logObserver) ServerError(message string) {
	o.log.Error("server error", zap.String("message", message))
}

func (o logObserver) ServerlessActivated() {
	o.log.Warn("signaling server unreachable, switched to serverless mode")
}

func (o logObserver) GamePacket(from string, data json.RawMessage) {
	o.log.Info("packet", zap.String("from", from), zap.ByteString("data", data))
}
