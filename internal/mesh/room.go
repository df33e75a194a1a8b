package mesh

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/models"
)

var ErrInvalidRoom = errors.New("room name and username are required")

// roomSession exists while the local peer is in a room.
type roomSession struct {
	name      string
	virtualIP string
}

func newVirtualIP() string {
	return fmt.Sprintf("10.0.0.%d", rand.IntN(253)+1)
}

// CreateRoom asks the relay to create room and join it as username.
func (m *Manager) CreateRoom(ctx context.Context, room, username string) error {
	return m.requestRoom(ctx, room, username, m.relay.CreateRoom)
}

// JoinRoom asks the relay to join an existing room as username.
func (m *Manager) JoinRoom(ctx context.Context, room, username string) error {
	return m.requestRoom(ctx, room, username, m.relay.JoinRoom)
}

func (m *Manager) requestRoom(ctx context.Context, room, username string, send func(string, string) error) error {
	room, username = strings.TrimSpace(room), strings.TrimSpace(username)
	if room == "" || username == "" {
		return ErrInvalidRoom
	}
	var err error
	if callErr := m.call(ctx, func() {
		m.username = username
		err = send(room, username)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Leave disposes every connection and ends the room session. In serverless
// mode neighbours are told first since there is no server to do it.
func (m *Manager) Leave(ctx context.Context) error {
	return m.call(ctx, m.leave)
}

func (m *Manager) enterRoom(name string) {
	m.room = &roomSession{name: name, virtualIP: newVirtualIP()}
	m.log.Info("entered room", zap.String("room", name), zap.String("ip", m.room.virtualIP))
	m.obs.RoomEntered(name, m.room.virtualIP)
}

func (m *Manager) leave() {
	if m.serverless {
		m.broadcast(Payload{Type: PayloadServerlessUserLeft, UserID: m.selfID})
	}
	for _, id := range m.reg.ids() {
		m.reg.dispose(id)
		m.obs.ConnectionTypeChanged(id, ConnectionNone)
	}
	m.pending.clearAll()
	m.inbox = make(map[string][]inboundSignal)
	m.recreate = make(map[string]uint64)
	m.members = nil

	if m.room == nil {
		return
	}
	name := m.room.name
	if !m.serverless {
		if err := m.relay.LeaveRoom(name); err != nil {
			m.log.Warn("leave room on relay", zap.Error(err))
		}
	}
	m.room = nil
	m.serverless = false
	m.log.Info("left room", zap.String("room", name))
	m.obs.RoomLeft(name)
}

func (m *Manager) memberList() []models.User {
	if m.serverless {
		return m.serverlessMembers()
	}
	out := make([]models.User, 0, len(m.members))
	for _, id := range sortedIDs(m.members) {
		out = append(out, m.members[id])
	}
	return out
}

func sortedIDs(users map[string]models.User) []string {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
