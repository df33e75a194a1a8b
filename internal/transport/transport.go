// Package transport is the boundary between the mesh core and the channel
// primitive that negotiates and carries a direct peer link.
//
// A Transport is created for one remote peer with a fixed initiator role.
// It reports everything that happens to it through a Handler: local signals
// that must reach the remote side, the link coming up, inbound bytes, errors
// and closure. The core applies remote signals with Signal; an apply that
// hits an incompatible negotiation state fails with ErrInvalidState.
package transport

import (
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidState is returned (wrapped) when a signal cannot be applied in
	// the connection's current negotiation state.
	ErrInvalidState = errors.New("InvalidStateError")
	ErrNotConnected = errors.New("transport not connected")
	ErrDestroyed    = errors.New("transport destroyed")
)

// Kind discriminates signals. Only offers carry protocol meaning for the core.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Candidate is a trickled connectivity candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is an opaque negotiation message relayed between peers.
type Signal struct {
	Type      Kind       `json:"type,omitempty"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// Kind returns the discriminant. Untyped signals are candidates.
func (s Signal) Kind() Kind {
	if s.Type == "" {
		return KindCandidate
	}
	return s.Type
}

// DecodeSignal parses a relayed signal.
func DecodeSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// Options are fixed for the lifetime of a transport.
type Options struct {
	Initiator bool
}

// Handler receives transport events. Implementations must not block.
type Handler interface {
	HandleSignal(Signal)
	HandleConnect()
	HandleData([]byte)
	HandleError(error)
	HandleClose()
}

// Transport is one direct link to a remote peer.
type Transport interface {
	// Signal applies a signal produced by the remote side.
	Signal(Signal) error
	// Send writes bytes over the established data channel.
	Send([]byte) error
	// Destroy releases the link. Calling it more than once is allowed.
	Destroy() error
	Initiator() bool
}

// Factory creates a transport to remoteID.
type Factory func(remoteID string, opts Options, h Handler) (Transport, error)
