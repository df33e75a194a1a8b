// Package store defines room membership persistence for the relay server.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mossy-p/lanmesh/internal/models"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room does not exist")
	ErrRoomFull     = errors.New("room is full")
)

// RoomStore keeps room metadata and membership. Implementations must be safe
// for concurrent use.
type RoomStore interface {
	// CreateRoom stores new room metadata. Returns ErrRoomExists if the name is taken.
	CreateRoom(ctx context.Context, room models.RoomMetadata) error
	// GetRoom returns the room with its current player count.
	GetRoom(ctx context.Context, name string) (*models.RoomMetadata, error)
	DeleteRoom(ctx context.Context, name string) error
	// AddMember adds a user, enforcing MaxPlayers. Returns ErrRoomFull when at capacity.
	AddMember(ctx context.Context, room string, user models.User) error
	// RemoveMember removes a user and reports how many members remain. The
	// room is deleted in the same step when none do.
	RemoveMember(ctx context.Context, room, userID string) (int, error)
	Members(ctx context.Context, room string) (map[string]models.User, error)
}

// SortedUsers flattens a membership map in a stable order.
func SortedUsers(users map[string]models.User) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Compile-time interface check.
var _ RoomStore = (*MemoryStore)(nil)

// MemoryStore is an in-process RoomStore used when redis is disabled and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	rooms   map[string]models.RoomMetadata
	members map[string]map[string]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string]models.RoomMetadata),
		members: make(map[string]map[string]models.User),
	}
}

func (s *MemoryStore) CreateRoom(_ context.Context, room models.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.Name]; ok {
		return ErrRoomExists
	}
	s.rooms[room.Name] = room
	s.members[room.Name] = make(map[string]models.User)
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, name string) (*models.RoomMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room.PlayerCount = len(s.members[name])
	return &room, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, name)
	delete(s.members, name)
	return nil
}

func (s *MemoryStore) AddMember(_ context.Context, room string, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotFound
	}
	members := s.members[room]
	if _, already := members[user.ID]; !already && meta.MaxPlayers > 0 && len(members) >= meta.MaxPlayers {
		return ErrRoomFull
	}
	members[user.ID] = user
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, room, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[room]
	if !ok {
		return 0, ErrRoomNotFound
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(s.rooms, room)
		delete(s.members, room)
	}
	return len(members), nil
}

func (s *MemoryStore) Members(_ context.Context, room string) (map[string]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[room]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := make(map[string]models.User, len(members))
	for k, v := range members {
		cp[k] = v
	}
	return cp, nil
}
