package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/mossy-p/lanmesh/internal/models"
)

// PayloadType discriminates messages on the peer data channel.
type PayloadType string

const (
	PayloadMetadata             PayloadType = "metadata"
	PayloadPing                 PayloadType = "ping"
	PayloadPong                 PayloadType = "pong"
	PayloadGamePacket           PayloadType = "gamePacket"
	PayloadServerlessUserJoined PayloadType = "serverless-user-joined"
	PayloadServerlessUserLeft   PayloadType = "serverless-user-left"
	PayloadServerlessSignal     PayloadType = "serverless-signal"
)

// Payload is the JSON frame exchanged over a peer data channel. Only the
// fields relevant to Type are set.
type Payload struct {
	Type PayloadType `json:"type"`

	// metadata
	Username string `json:"username,omitempty"`
	ID       string `json:"id,omitempty"`

	// ping, pong: sender clock in unix milliseconds
	Timestamp int64 `json:"timestamp,omitempty"`

	// gamePacket
	Data json.RawMessage `json:"data,omitempty"`

	// serverless-user-joined, serverless-user-left
	User   *models.User `json:"user,omitempty"`
	UserID string       `json:"userId,omitempty"`

	// serverless-signal
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

func encodePayload(p Payload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Type, err)
	}
	return b, nil
}

func decodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode peer payload: %w", err)
	}
	if p.Type == "" {
		return Payload{}, fmt.Errorf("peer payload without type")
	}
	return p, nil
}
