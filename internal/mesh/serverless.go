package mesh

import (
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/transport"
)

// handleServerLoss switches to serverless mode once per room session.
func (m *Manager) handleServerLoss() {
	if m.room == nil {
		m.log.Info("relay connection lost outside a room")
		return
	}
	if m.serverless {
		return
	}
	m.serverless = true
	m.log.Warn("relay connection lost, continuing serverless", zap.String("room", m.room.name))
	m.obs.ServerlessActivated()

	self := models.User{ID: m.selfID, Username: m.username}
	m.broadcast(Payload{Type: PayloadServerlessUserJoined, User: &self})
	m.publishServerlessMembers()
}

// onServerlessJoined connects to a peer announced by a neighbour.
func (m *Manager) onServerlessJoined(u *models.User) {
	if u == nil || u.ID == "" || u.ID == m.selfID {
		return
	}
	conn, err := m.reg.getOrCreate(u.ID, roleResolve)
	if err != nil {
		m.log.Warn("connect to announced peer", zap.String("peer", u.ID), zap.Error(err))
		return
	}
	m.setMetadata(conn, *u)
	if m.serverless {
		m.publishServerlessMembers()
	}
}

func (m *Manager) onServerlessLeft(userID string) {
	if userID == "" || userID == m.selfID {
		return
	}
	m.forgetPeer(userID)
	if m.serverless {
		m.publishServerlessMembers()
	}
}

// onServerlessSignal consumes a signal addressed to this peer or forwards it
// once to the addressee if it is a direct neighbour.
func (m *Manager) onServerlessSignal(via string, p Payload) {
	if p.To == m.selfID {
		sig, err := transport.DecodeSignal(p.Signal)
		if err != nil {
			m.log.Warn("bad serverless signal", zap.String("from", p.From), zap.Error(err))
			return
		}
		m.handleSignal(p.From, sig)
		return
	}
	target := m.reg.get(p.To)
	if target == nil || !target.connected() || via == p.To || p.From == m.selfID {
		return
	}
	m.sendPayload(target, p)
}

// serverlessMembers is this peer plus every neighbour whose metadata is known.
func (m *Manager) serverlessMembers() []models.User {
	out := []models.User{{ID: m.selfID, Username: m.username}}
	for _, c := range m.reg.all() {
		if c.metadata != nil {
			out = append(out, *c.metadata)
		}
	}
	return out
}

func (m *Manager) publishServerlessMembers() {
	m.obs.MembersChanged(m.serverlessMembers())
}
