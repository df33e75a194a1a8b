package mesh

import (
	"encoding/json"
	"time"

	"github.com/mossy-p/lanmesh/internal/models"
)

// ConnectionType is the indicator shown next to a peer link.
type ConnectionType string

const (
	ConnectionNone          ConnectionType = ""
	ConnectionPeerToPeer    ConnectionType = "peer-to-peer"
	ConnectionRelayFallback ConnectionType = "relay-fallback"
)

// Observer receives everything the user-facing layer displays. Calls are made
// from the manager's event loop and must not block.
type Observer interface {
	RoomEntered(room, virtualIP string)
	RoomLeft(room string)
	MembersChanged(members []models.User)
	LatencyMeasured(peerID string, rtt time.Duration)
	ConnectionTypeChanged(peerID string, kind ConnectionType)
	ServerError(message string)
	ServerlessActivated()
	// GamePacket hands an opaque application payload to the game hook.
	GamePacket(from string, data json.RawMessage)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) RoomEntered(string, string)                   {}
func (NopObserver) RoomLeft(string)                              {}
func (NopObserver) MembersChanged([]models.User)                 {}
func (NopObserver) LatencyMeasured(string, time.Duration)        {}
func (NopObserver) ConnectionTypeChanged(string, ConnectionType) {}
func (NopObserver) ServerError(string)                           {}
func (NopObserver) ServerlessActivated()                         {}
func (NopObserver) GamePacket(string, json.RawMessage)           {}
