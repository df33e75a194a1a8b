// Package mesh is the peer-side core: it turns relay messages and transport
// callbacks into a full mesh of direct connections, one per room member.
//
// All state lives on a single goroutine started by Manager.Run. Relay
// messages, transport callbacks, timers and API calls are posted to an
// unbounded mailbox and handled one at a time, so no handler observes another
// half-done.
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cheggaaa/mb/v3"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/transport"
)

var ErrStopped = errors.New("mesh manager stopped")

// Relay is the signaling server as seen by the core.
type Relay interface {
	CreateRoom(room, username string) error
	JoinRoom(room, username string) error
	LeaveRoom(room string) error
	Signal(to string, signal json.RawMessage) error
}

type inboundSignal struct {
	signal transport.Signal
	due    time.Time
}

type Manager struct {
	cfg    Config
	selfID string
	relay  Relay
	obs    Observer
	log    *zap.Logger

	queue   *mb.MB[event]
	stopped chan struct{}

	// owned by the loop
	reg        *registry
	pending    *pendingQueue
	inbox      map[string][]inboundSignal
	recreate   map[string]uint64 // peer -> generation a scheduled recreation targets
	room       *roomSession
	username   string
	members    map[string]models.User
	serverless bool
}

// NewManager builds a manager for the peer identified by selfID, the id the
// relay assigned in its welcome frame.
func NewManager(cfg Config, selfID string, relay Relay, factory transport.Factory, obs Observer, log *zap.Logger) *Manager {
	if obs == nil {
		obs = NopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg.withDefaults(),
		selfID:   selfID,
		relay:    relay,
		obs:      obs,
		log:      log.With(zap.String("self", selfID)),
		queue:    mb.New[event](0),
		stopped:  make(chan struct{}),
		pending:  newPendingQueue(),
		inbox:    make(map[string][]inboundSignal),
		recreate: make(map[string]uint64),
	}
	m.reg = newRegistry(selfID, factory, func(peerID string, gen uint64) transport.Handler {
		return connHandler{m: m, peerID: peerID, gen: gen}
	}, m.log)
	return m
}

func (m *Manager) SelfID() string {
	return m.selfID
}

// Run processes events until ctx is done. Every connection is disposed on
// return.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		m.reg.disposeAll()
		_ = m.queue.Close()
		close(m.stopped)
	}()
	for {
		ev, err := m.queue.WaitOne(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return nil
		}
		m.dispatch(ev)
	}
}

func (m *Manager) dispatch(ev event) {
	switch e := ev.(type) {
	case serverEvent:
		m.handleServerMessage(e.msg)
	case transportEvent:
		m.handleTransportEvent(e)
	case applyEvent:
		m.handleApply(e.peerID)
	case recreateEvent:
		m.handleRecreate(e)
	case probeEvent:
		m.handleProbe(e)
	case callEvent:
		e.fn()
		close(e.done)
	}
}

func (m *Manager) post(ev event) {
	if err := m.queue.TryAdd(ev); err != nil && !errors.Is(err, mb.ErrClosed) {
		m.log.Warn("drop event", zap.Error(err))
	}
}

// after posts ev once d has elapsed. Timers are never cancelled; handlers
// check generations instead.
func (m *Manager) after(d time.Duration, ev event) {
	time.AfterFunc(d, func() { m.post(ev) })
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case <-m.stopped:
		return ErrStopped
	default:
	}
	if err := m.queue.Add(ctx, callEvent{fn: fn, done: done}); err != nil {
		if errors.Is(err, mb.ErrClosed) {
			return ErrStopped
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleServerMessage feeds one relay frame to the core.
func (m *Manager) HandleServerMessage(msg models.Message) {
	m.post(serverEvent{msg: msg})
}

// SendGamePacket broadcasts an opaque payload to every connected peer.
func (m *Manager) SendGamePacket(ctx context.Context, data json.RawMessage) error {
	return m.call(ctx, func() {
		m.broadcast(Payload{Type: PayloadGamePacket, Data: data})
	})
}

// PeerStatus describes one registry entry.
type PeerStatus struct {
	ID         string
	Username   string
	Initiator  bool
	State      State
	Generation uint64
}

// Status is a point-in-time view of the core state.
type Status struct {
	SelfID     string
	Username   string
	Room       string
	VirtualIP  string
	Serverless bool
	Members    []models.User
	Peers      []PeerStatus
	Pending    map[string][]transport.Signal
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.call(ctx, func() {
		st = Status{
			SelfID:     m.selfID,
			Username:   m.username,
			Serverless: m.serverless,
			Members:    m.memberList(),
			Pending:    m.pending.snapshot(),
		}
		if m.room != nil {
			st.Room = m.room.name
			st.VirtualIP = m.room.virtualIP
		}
		for _, c := range m.reg.all() {
			ps := PeerStatus{ID: c.peerID, Initiator: c.initiator, State: c.state, Generation: c.gen}
			if c.metadata != nil {
				ps.Username = c.metadata.Username
			}
			st.Peers = append(st.Peers, ps)
		}
	})
	return st, err
}
