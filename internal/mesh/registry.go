package mesh

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/transport"
)

// registry owns the peerID -> connection map. Each slot carries a generation
// that moves on every create and dispose; events stamped with an older
// generation belong to a connection that no longer exists.
type registry struct {
	localID string
	factory transport.Factory
	bind    func(peerID string, gen uint64) transport.Handler
	log     *zap.Logger

	conns map[string]*peerConn
	gens  map[string]uint64
}

func newRegistry(localID string, factory transport.Factory, bind func(string, uint64) transport.Handler, log *zap.Logger) *registry {
	return &registry{
		localID: localID,
		factory: factory,
		bind:    bind,
		log:     log,
		conns:   make(map[string]*peerConn),
		gens:    make(map[string]uint64),
	}
}

func (r *registry) get(peerID string) *peerConn {
	return r.conns[peerID]
}

func (r *registry) generation(peerID string) uint64 {
	return r.gens[peerID]
}

// getOrCreate returns the existing connection or creates one whose role comes
// from ro.
func (r *registry) getOrCreate(peerID string, ro role) (*peerConn, error) {
	if c := r.conns[peerID]; c != nil {
		return c, nil
	}
	return r.create(peerID, ro)
}

func (r *registry) create(peerID string, ro role) (*peerConn, error) {
	if peerID == r.localID {
		return nil, fmt.Errorf("refusing connection to self")
	}
	if c := r.conns[peerID]; c != nil {
		return nil, fmt.Errorf("connection to %s already exists", peerID)
	}
	r.gens[peerID]++
	gen := r.gens[peerID]
	initiator := ro.initiator(r.localID, peerID)

	// Store the record before the factory runs; an initiating transport may
	// emit its offer synchronously and that event must find this generation.
	c := &peerConn{peerID: peerID, gen: gen, initiator: initiator, state: StateConnecting}
	r.conns[peerID] = c
	tr, err := r.factory(peerID, transport.Options{Initiator: initiator}, r.bind(peerID, gen))
	if err != nil {
		delete(r.conns, peerID)
		r.gens[peerID]++
		return nil, fmt.Errorf("create transport to %s: %w", peerID, err)
	}
	c.transport = tr
	r.log.Debug("connection created",
		zap.String("peer", peerID),
		zap.Uint64("gen", gen),
		zap.Bool("initiator", initiator))
	return c, nil
}

// dispose tears down the connection to peerID and frees the slot. Disposing
// an absent peer is a no-op returning nil. Destroy errors are logged only.
func (r *registry) dispose(peerID string) *peerConn {
	c := r.conns[peerID]
	if c == nil {
		return nil
	}
	delete(r.conns, peerID)
	r.gens[peerID]++
	c.state = StateClosed
	c.stopProber()
	if c.transport != nil {
		if err := c.transport.Destroy(); err != nil {
			r.log.Warn("destroy transport", zap.String("peer", peerID), zap.Error(err))
		}
	}
	r.log.Debug("connection disposed", zap.String("peer", peerID), zap.Uint64("gen", c.gen))
	return c
}

func (r *registry) disposeAll() {
	for _, id := range r.ids() {
		r.dispose(id)
	}
}

func (r *registry) ids() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *registry) all() []*peerConn {
	out := make([]*peerConn, 0, len(r.conns))
	for _, id := range r.ids() {
		out = append(out, r.conns[id])
	}
	return out
}
