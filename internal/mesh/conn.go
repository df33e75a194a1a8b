package mesh

import (
	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/transport"
)

// State is the lifecycle of one peer connection.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerConn is the registry's record for one remote peer. Only the event loop
// touches it.
type peerConn struct {
	peerID    string
	gen       uint64
	initiator bool
	transport transport.Transport
	state     State
	metadata  *models.User
	yielded   bool // created by yielding to a competing offer

	stopProbe chan struct{}
}

func (c *peerConn) connected() bool {
	return c.state == StateConnected
}

func (c *peerConn) stopProber() {
	if c.stopProbe != nil {
		close(c.stopProbe)
		c.stopProbe = nil
	}
}
