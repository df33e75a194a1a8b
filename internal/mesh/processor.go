package mesh

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/transport"
)

func (m *Manager) handleServerMessage(msg models.Message) {
	log := m.log.With(zap.String("event", string(msg.Event)))
	switch msg.Event {
	case models.EventWelcome:
		// id is fixed at construction
	case models.EventRoomCreated, models.EventRoomJoined:
		var p models.RoomPayload
		if err := msg.Decode(&p); err != nil {
			log.Warn("bad room payload", zap.Error(err))
			return
		}
		m.enterRoom(p.Room)
	case models.EventUserJoined:
		var p models.UsersPayload
		if err := msg.Decode(&p); err != nil {
			log.Warn("bad user-joined payload", zap.Error(err))
			return
		}
		m.updateMembers(p.Users)
	case models.EventUserLeft:
		var p models.UserLeftPayload
		if err := msg.Decode(&p); err != nil {
			log.Warn("bad user-left payload", zap.Error(err))
			return
		}
		m.forgetPeer(p.UserID)
		if p.Users != nil {
			m.members = p.Users
			m.obs.MembersChanged(m.memberList())
		}
	case models.EventSignal:
		var p models.SignalPayload
		if err := msg.Decode(&p); err != nil {
			log.Warn("bad signal payload", zap.Error(err))
			return
		}
		sig, err := transport.DecodeSignal(p.Signal)
		if err != nil {
			log.Warn("bad signal", zap.String("from", p.From), zap.Error(err))
			return
		}
		m.handleSignal(p.From, sig)
	case models.EventError:
		var p models.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			log.Warn("bad error payload", zap.Error(err))
			return
		}
		log.Warn("server error", zap.String("message", p.Message))
		m.obs.ServerError(p.Message)
	case models.EventDisconnect:
		m.handleServerLoss()
	default:
		log.Debug("unhandled server event")
	}
}

// updateMembers adopts the server's member list and opens a connection to
// every member not yet in the registry.
func (m *Manager) updateMembers(users map[string]models.User) {
	m.members = users
	m.obs.MembersChanged(m.memberList())
	for _, id := range sortedIDs(users) {
		if id == m.selfID {
			continue
		}
		if _, err := m.reg.getOrCreate(id, roleResolve); err != nil {
			m.log.Warn("connect to member", zap.String("peer", id), zap.Error(err))
		}
	}
}

// forgetPeer drops every trace of a departed peer.
func (m *Manager) forgetPeer(peerID string) {
	m.reg.dispose(peerID)
	m.pending.clear(peerID)
	delete(m.inbox, peerID)
	delete(m.recreate, peerID)
	m.obs.ConnectionTypeChanged(peerID, ConnectionNone)
}

// handleSignal is the entry for a remote signal, relayed by the server or by
// a neighbour in serverless mode.
func (m *Manager) handleSignal(from string, sig transport.Signal) {
	if from == "" || from == m.selfID {
		return
	}
	log := m.log.With(zap.String("peer", from), zap.String("kind", string(sig.Kind())))

	conn := m.reg.get(from)
	offer := sig.Kind() == transport.KindOffer
	switch {
	case conn == nil && !offer && m.recreating(from):
		// Joins the signals queued by the failure once applied.
		log.Debug("recreation pending, signal will be queued")
	case conn == nil:
		// An offer means the sender initiated. A stray answer or candidate
		// means a connection should exist; create one rather than drop it.
		if _, err := m.reg.create(from, roleAnswerer); err != nil {
			log.Warn("create answering connection", zap.Error(err))
			return
		}
	case offer && conn.connected():
		// A live data channel outranks a renegotiation attempt; yielding here
		// would tear down a working link for an offer that is most likely stale.
		log.Debug("drop offer on established connection")
		return
	case offer && conn.initiator:
		// Glare: both sides offered. The receiver of the competing offer
		// yields and answers instead.
		log.Info("offer collision, yielding to remote offer")
		m.reg.dispose(from)
		c, err := m.reg.create(from, roleAnswerer)
		if err != nil {
			log.Warn("recreate as answerer", zap.Error(err))
			return
		}
		c.yielded = true
	}

	due := time.Now().Add(m.cfg.ApplyDelay)
	m.inbox[from] = append(m.inbox[from], inboundSignal{signal: sig, due: due})
	m.after(m.cfg.ApplyDelay, applyEvent{peerID: from})
}

// handleApply applies every inbound signal for peerID whose delay has
// elapsed, oldest first.
func (m *Manager) handleApply(peerID string) {
	q := m.inbox[peerID]
	now := time.Now()
	n := 0
	for n < len(q) && !q[n].due.After(now) {
		n++
	}
	if n == 0 {
		return
	}
	due := q[:n:n]
	if n == len(q) {
		delete(m.inbox, peerID)
	} else {
		m.inbox[peerID] = append([]inboundSignal(nil), q[n:]...)
	}
	for _, in := range due {
		m.applySignal(peerID, in.signal)
	}
}

func (m *Manager) applySignal(peerID string, sig transport.Signal) {
	log := m.log.With(zap.String("peer", peerID), zap.String("kind", string(sig.Kind())))
	conn := m.reg.get(peerID)
	if conn == nil {
		log.Debug("no connection, queueing signal")
		m.pending.push(peerID, sig)
		return
	}
	// Signals queued by an earlier failure wait for Connected; a live
	// replacement negotiates with whatever arrives now.
	err := conn.transport.Signal(sig)
	if err == nil {
		return
	}
	m.pending.push(peerID, sig)
	if errors.Is(err, transport.ErrInvalidState) {
		log.Info("invalid signaling state, recreating connection", zap.Error(err))
		m.obs.ConnectionTypeChanged(peerID, ConnectionRelayFallback)
		m.replace(peerID)
		return
	}
	log.Warn("apply signal", zap.Error(err))
}

// replace disposes the connection and schedules a fresh one with the
// opposite role after the cooldown. Anything that touches the slot in the
// meantime cancels the recreation.
//
// A connection that came from yielding falls back to role resolution
// instead: when offers cross, both ends yield and both answerers fail, and
// flipping would leave two initiators colliding again.
func (m *Manager) replace(peerID string) {
	old := m.reg.dispose(peerID)
	if old == nil {
		return
	}
	next := roleFor(!old.initiator)
	if old.yielded {
		next = roleResolve
	}
	gen := m.reg.generation(peerID)
	m.recreate[peerID] = gen
	m.after(m.cfg.RecreateCooldown, recreateEvent{peerID: peerID, gen: gen, role: next})
}

func (m *Manager) recreating(peerID string) bool {
	_, ok := m.recreate[peerID]
	return ok
}

func (m *Manager) handleRecreate(ev recreateEvent) {
	log := m.log.With(zap.String("peer", ev.peerID))
	if gen, ok := m.recreate[ev.peerID]; ok && gen == ev.gen {
		delete(m.recreate, ev.peerID)
	}
	if m.room == nil {
		log.Debug("skip recreation outside a room")
		return
	}
	if m.reg.generation(ev.peerID) != ev.gen || m.reg.get(ev.peerID) != nil {
		log.Debug("skip stale recreation")
		return
	}
	if _, err := m.reg.create(ev.peerID, ev.role); err != nil {
		log.Warn("recreate connection", zap.Error(err))
	}
}

func (m *Manager) handleTransportEvent(ev transportEvent) {
	conn := m.reg.get(ev.peerID)
	if conn == nil || conn.gen != ev.gen {
		m.log.Debug("ignore event from stale connection",
			zap.String("peer", ev.peerID), zap.Uint64("gen", ev.gen))
		return
	}
	switch ev.kind {
	case transportSignal:
		m.sendSignal(ev.peerID, ev.signal)
	case transportConnect:
		m.onConnect(conn)
	case transportData:
		m.onData(conn, ev.data)
	case transportError:
		m.onTransportError(conn, ev.err)
	case transportClose:
		m.log.Info("connection closed", zap.String("peer", conn.peerID))
		m.reg.dispose(conn.peerID)
		m.obs.ConnectionTypeChanged(conn.peerID, ConnectionNone)
		if m.serverless {
			m.publishServerlessMembers()
		}
	}
}

// sendSignal routes a locally produced signal to peerID.
func (m *Manager) sendSignal(peerID string, sig transport.Signal) {
	raw, err := json.Marshal(sig)
	if err != nil {
		m.log.Warn("encode signal", zap.Error(err))
		return
	}
	if m.serverless {
		m.broadcast(Payload{Type: PayloadServerlessSignal, From: m.selfID, To: peerID, Signal: raw})
		return
	}
	if err := m.relay.Signal(peerID, raw); err != nil {
		m.log.Warn("relay signal", zap.String("peer", peerID), zap.Error(err))
	}
}

func (m *Manager) onConnect(conn *peerConn) {
	log := m.log.With(zap.String("peer", conn.peerID))
	log.Info("peer connected", zap.Bool("initiator", conn.initiator))
	conn.state = StateConnected
	m.obs.ConnectionTypeChanged(conn.peerID, ConnectionPeerToPeer)

	for _, sig := range m.pending.take(conn.peerID) {
		if err := conn.transport.Signal(sig); err != nil {
			log.Warn("apply queued signal", zap.String("kind", string(sig.Kind())), zap.Error(err))
		}
	}
	m.startProbe(conn)
	m.sendPayload(conn, Payload{Type: PayloadMetadata, Username: m.username, ID: m.selfID})
}

func (m *Manager) onTransportError(conn *peerConn, err error) {
	m.obs.ConnectionTypeChanged(conn.peerID, ConnectionRelayFallback)
	if errors.Is(err, transport.ErrInvalidState) {
		m.log.Info("transport reported invalid state", zap.String("peer", conn.peerID), zap.Error(err))
		m.replace(conn.peerID)
		return
	}
	m.log.Warn("transport error", zap.String("peer", conn.peerID), zap.Error(err))
	m.reg.dispose(conn.peerID)
}

func (m *Manager) onData(conn *peerConn, data []byte) {
	p, err := decodePayload(data)
	if err != nil {
		m.log.Debug("ignore peer payload", zap.String("peer", conn.peerID), zap.Error(err))
		return
	}
	switch p.Type {
	case PayloadPing:
		m.sendPayload(conn, Payload{Type: PayloadPong, Timestamp: p.Timestamp})
	case PayloadPong:
		m.onPong(conn, p.Timestamp)
	case PayloadGamePacket:
		m.obs.GamePacket(conn.peerID, p.Data)
	case PayloadMetadata:
		m.setMetadata(conn, models.User{ID: conn.peerID, Username: p.Username})
	case PayloadServerlessUserJoined:
		m.onServerlessJoined(p.User)
	case PayloadServerlessUserLeft:
		m.onServerlessLeft(p.UserID)
	case PayloadServerlessSignal:
		m.onServerlessSignal(conn.peerID, p)
	default:
		m.log.Debug("unknown peer payload", zap.String("type", string(p.Type)))
	}
}

// setMetadata records a peer's identity. The first value wins; later
// conflicting values are logged and ignored.
func (m *Manager) setMetadata(conn *peerConn, u models.User) {
	if conn.metadata != nil {
		if conn.metadata.Username != u.Username {
			m.log.Warn("ignore conflicting metadata",
				zap.String("peer", conn.peerID),
				zap.String("have", conn.metadata.Username),
				zap.String("got", u.Username))
		}
		return
	}
	conn.metadata = &u
	if m.serverless {
		m.publishServerlessMembers()
	}
}

func (m *Manager) sendPayload(conn *peerConn, p Payload) {
	b, err := encodePayload(p)
	if err != nil {
		m.log.Warn("encode payload", zap.Error(err))
		return
	}
	if err := conn.transport.Send(b); err != nil {
		m.log.Debug("send payload", zap.String("peer", conn.peerID), zap.String("type", string(p.Type)), zap.Error(err))
	}
}

// broadcast sends p to every connected peer.
func (m *Manager) broadcast(p Payload) {
	b, err := encodePayload(p)
	if err != nil {
		m.log.Warn("encode payload", zap.Error(err))
		return
	}
	for _, c := range m.reg.all() {
		if !c.connected() {
			continue
		}
		if err := c.transport.Send(b); err != nil {
			m.log.Debug("broadcast payload", zap.String("peer", c.peerID), zap.String("type", string(p.Type)), zap.Error(err))
		}
	}
}
