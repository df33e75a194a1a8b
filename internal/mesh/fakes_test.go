package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/transport"
)

// fakeTransport imitates the negotiation rules of a real peer connection:
// an initiator offers on creation, an answerer answers the first offer, and
// any other sequence is an invalid state.
type fakeTransport struct {
	net       *fakeNet
	local     string
	remote    string
	initiator bool
	h         transport.Handler

	mu         sync.Mutex
	applied    []transport.Signal
	sent       [][]byte
	fail       error
	haveRemote bool
	connected  bool
	destroyed  int
}

func (f *fakeTransport) Initiator() bool { return f.initiator }

func (f *fakeTransport) Signal(s transport.Signal) error {
	f.mu.Lock()
	if f.destroyed > 0 {
		f.mu.Unlock()
		return transport.ErrDestroyed
	}
	f.applied = append(f.applied, s)
	if f.fail != nil {
		err := f.fail
		f.fail = nil
		f.mu.Unlock()
		return err
	}
	var answer, connect bool
	switch s.Kind() {
	case transport.KindOffer:
		if f.initiator || f.haveRemote {
			f.mu.Unlock()
			return fmt.Errorf("%w: offer in wrong state", transport.ErrInvalidState)
		}
		f.haveRemote = true
		answer = true
	case transport.KindAnswer:
		if !f.initiator || f.haveRemote {
			f.mu.Unlock()
			return fmt.Errorf("%w: answer in wrong state", transport.ErrInvalidState)
		}
		f.haveRemote = true
		connect = true
	}
	f.mu.Unlock()

	if answer {
		f.h.HandleSignal(transport.Signal{Type: transport.KindAnswer, SDP: "answer-from-" + f.local})
	}
	if connect && f.net != nil {
		f.net.connect(f)
	}
	return nil
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	if f.destroyed > 0 {
		f.mu.Unlock()
		return transport.ErrDestroyed
	}
	if !f.connected {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	f.mu.Unlock()
	if f.net != nil {
		if peer := f.net.counterpart(f); peer != nil {
			peer.h.HandleData(b)
		}
	}
	return nil
}

func (f *fakeTransport) Destroy() error {
	f.mu.Lock()
	f.destroyed++
	first := f.destroyed == 1
	wasConnected := f.connected
	f.connected = false
	f.mu.Unlock()
	if first && wasConnected && f.net != nil {
		if peer := f.net.counterpart(f); peer != nil {
			peer.h.HandleClose()
		}
	}
	return nil
}

// markConnected simulates the data channel opening.
func (f *fakeTransport) markConnected() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.h.HandleConnect()
}

func (f *fakeTransport) failNext(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeTransport) appliedSignals() []transport.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Signal(nil), f.applied...)
}

func (f *fakeTransport) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeTransport) sentPayloads(t *testing.T) []Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Payload, 0, len(f.sent))
	for _, b := range f.sent {
		p, err := decodePayload(b)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

// fakeFactory creates fakeTransports and remembers them in creation order.
type fakeFactory struct {
	local string
	net   *fakeNet

	mu      sync.Mutex
	created []*fakeTransport
}

func (ff *fakeFactory) New(remoteID string, opts transport.Options, h transport.Handler) (transport.Transport, error) {
	tr := &fakeTransport{net: ff.net, local: ff.local, remote: remoteID, initiator: opts.Initiator, h: h}
	ff.mu.Lock()
	ff.created = append(ff.created, tr)
	ff.mu.Unlock()
	if ff.net != nil {
		ff.net.register(tr)
	}
	if opts.Initiator {
		h.HandleSignal(transport.Signal{Type: transport.KindOffer, SDP: "offer-from-" + ff.local})
	}
	return tr, nil
}

func (ff *fakeFactory) all(remoteID string) []*fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	var out []*fakeTransport
	for _, tr := range ff.created {
		if tr.remote == remoteID {
			out = append(out, tr)
		}
	}
	return out
}

func (ff *fakeFactory) latest(remoteID string) *fakeTransport {
	all := ff.all(remoteID)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// fakeNet pairs transports of several managers so data and connection
// events flow between them.
type fakeNet struct {
	mu    sync.Mutex
	links map[[2]string]*fakeTransport
}

func newFakeNet() *fakeNet {
	return &fakeNet{links: make(map[[2]string]*fakeTransport)}
}

func (n *fakeNet) register(tr *fakeTransport) {
	n.mu.Lock()
	n.links[[2]string{tr.local, tr.remote}] = tr
	n.mu.Unlock()
}

func (n *fakeNet) counterpart(tr *fakeTransport) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[[2]string{tr.remote, tr.local}]
}

func (n *fakeNet) connect(tr *fakeTransport) {
	peer := n.counterpart(tr)
	if peer == nil {
		return
	}
	tr.markConnected()
	peer.markConnected()
}

// sentSignal is one signal handed to the relay.
type sentSignal struct {
	to     string
	signal transport.Signal
}

// fakeRelay records outbound requests. When route is set, signals are
// delivered to it as they would be by the server.
type fakeRelay struct {
	mu      sync.Mutex
	self    string
	signals []sentSignal
	creates []string
	joins   []string
	leaves  []string
	route   func(from, to string, raw json.RawMessage)
}

func (r *fakeRelay) CreateRoom(room, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates = append(r.creates, room+"/"+username)
	return nil
}

func (r *fakeRelay) JoinRoom(room, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, room+"/"+username)
	return nil
}

func (r *fakeRelay) LeaveRoom(room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, room)
	return nil
}

func (r *fakeRelay) Signal(to string, raw json.RawMessage) error {
	sig, err := transport.DecodeSignal(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.signals = append(r.signals, sentSignal{to: to, signal: sig})
	route := r.route
	r.mu.Unlock()
	if route != nil {
		route(r.self, to, raw)
	}
	return nil
}

func (r *fakeRelay) sent() []sentSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentSignal(nil), r.signals...)
}

// observed is what a recordingObserver has seen.
type observed struct {
	rooms       []string
	left        []string
	members     []models.User
	latencies   map[string][]time.Duration
	connTypes   map[string][]ConnectionType
	errors      []string
	serverless  int
	gamePackets []string
}

type recordingObserver struct {
	mu sync.Mutex
	observed
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{observed: observed{
		latencies: make(map[string][]time.Duration),
		connTypes: make(map[string][]ConnectionType),
	}}
}

func (o *recordingObserver) RoomEntered(room, ip string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rooms = append(o.rooms, room+"@"+ip)
}

func (o *recordingObserver) RoomLeft(room string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left = append(o.left, room)
}

func (o *recordingObserver) MembersChanged(members []models.User) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.members = members
}

func (o *recordingObserver) LatencyMeasured(peerID string, rtt time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latencies[peerID] = append(o.latencies[peerID], rtt)
}

func (o *recordingObserver) ConnectionTypeChanged(peerID string, kind ConnectionType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connTypes[peerID] = append(o.connTypes[peerID], kind)
}

func (o *recordingObserver) ServerError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, message)
}

func (o *recordingObserver) ServerlessActivated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.serverless++
}

func (o *recordingObserver) GamePacket(from string, data json.RawMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gamePackets = append(o.gamePackets, from+":"+string(data))
}

func (o *recordingObserver) snapshot() observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := observed{
		rooms:       append([]string(nil), o.rooms...),
		left:        append([]string(nil), o.left...),
		members:     append([]models.User(nil), o.members...),
		errors:      append([]string(nil), o.errors...),
		serverless:  o.serverless,
		gamePackets: append([]string(nil), o.gamePackets...),
		latencies:   make(map[string][]time.Duration),
		connTypes:   make(map[string][]ConnectionType),
	}
	for k, v := range o.latencies {
		cp.latencies[k] = append([]time.Duration(nil), v...)
	}
	for k, v := range o.connTypes {
		cp.connTypes[k] = append([]ConnectionType(nil), v...)
	}
	return cp
}

// testConfig keeps timers short enough for unit tests.
func testConfig() Config {
	return Config{
		ApplyDelay:       10 * time.Millisecond,
		RecreateCooldown: 150 * time.Millisecond,
		ProbeInterval:    time.Hour,
	}
}

type harness struct {
	t       *testing.T
	m       *Manager
	relay   *fakeRelay
	factory *fakeFactory
	obs     *recordingObserver
}

func newHarness(t *testing.T, self string, cfg Config, net *fakeNet) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		relay:   &fakeRelay{self: self},
		factory: &fakeFactory{local: self, net: net},
		obs:     newRecordingObserver(),
	}
	h.m = NewManager(cfg, self, h.relay, h.factory.New, h.obs, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) server(event models.Event, data any) {
	h.t.Helper()
	msg, err := models.NewMessage(event, data)
	require.NoError(h.t, err)
	h.m.HandleServerMessage(msg)
}

func (h *harness) enterRoom(room string, users ...string) {
	h.t.Helper()
	h.server(models.EventRoomJoined, models.RoomPayload{Room: room})
	if len(users) == 0 {
		return
	}
	members := make(map[string]models.User, len(users))
	for _, id := range users {
		members[id] = models.User{ID: id, Username: "user-" + id}
	}
	h.server(models.EventUserJoined, models.UsersPayload{Users: members})
}

func (h *harness) signalFrom(from string, sig transport.Signal) {
	h.t.Helper()
	raw, err := json.Marshal(sig)
	require.NoError(h.t, err)
	h.server(models.EventSignal, models.SignalPayload{From: from, To: h.m.SelfID(), Signal: raw})
}

func (h *harness) status() Status {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := h.m.Status(ctx)
	require.NoError(h.t, err)
	return st
}

func (h *harness) peer(id string) (PeerStatus, bool) {
	for _, p := range h.status().Peers {
		if p.ID == id {
			return p, true
		}
	}
	return PeerStatus{}, false
}

// waitTransport waits until the n-th transport to remoteID exists.
func (h *harness) waitTransport(remoteID string, n int) *fakeTransport {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.factory.all(remoteID)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return h.factory.all(remoteID)[n-1]
}

func (h *harness) waitConnected(id string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		p, ok := h.peer(id)
		return ok && p.State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func candidate(n int) transport.Signal {
	return transport.Signal{Type: transport.KindCandidate, Candidate: &transport.Candidate{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 1 127.0.0.1 %d typ host", n, 5000+n),
	}}
}

// signalGate routes relay signals between harnesses the way the server
// would. While closed it holds them back in arrival order.
type signalGate struct {
	peers map[string]*harness

	mu   sync.Mutex
	open bool
	held []heldSignal
}

type heldSignal struct {
	to  string
	msg models.Message
}

func newSignalGate(open bool, hs ...*harness) *signalGate {
	g := &signalGate{open: open, peers: make(map[string]*harness, len(hs))}
	for _, h := range hs {
		g.peers[h.m.SelfID()] = h
	}
	for _, h := range hs {
		h.relay.mu.Lock()
		h.relay.route = g.route
		h.relay.mu.Unlock()
	}
	return g
}

func (g *signalGate) route(from, to string, raw json.RawMessage) {
	msg, err := models.NewMessage(models.EventSignal, models.SignalPayload{From: from, To: to, Signal: raw})
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.held = append(g.held, heldSignal{to: to, msg: msg})
		return
	}
	g.deliver(to, msg)
}

// release delivers everything held and lets later signals through.
func (g *signalGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = true
	for _, s := range g.held {
		g.deliver(s.to, s.msg)
	}
	g.held = nil
}

func (g *signalGate) heldCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

func (g *signalGate) deliver(to string, msg models.Message) {
	if dst := g.peers[to]; dst != nil {
		dst.m.HandleServerMessage(msg)
	}
}

// forceInitiator opens an initiating connection to peerID regardless of
// role resolution.
func (h *harness) forceInitiator(peerID string) {
	h.t.Helper()
	var err error
	require.NoError(h.t, h.m.call(context.Background(), func() {
		_, err = h.m.reg.create(peerID, roleInitiator)
	}))
	require.NoError(h.t, err)
}
