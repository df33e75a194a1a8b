package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/store"
	"github.com/redis/go-redis/v9"
)

const roomTTL = 24 * time.Hour

// addMemberScript adds a member only while the room exists and the hash is
// below capacity.
// KEYS[1] room, KEYS[2] members hash, ARGV[1] user id, ARGV[2] encoded user,
// ARGV[3] max (0 = unlimited), ARGV[4] members ttl in seconds.
// Returns 1 on success, 0 when full, -1 when the room is gone.
var addMemberScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local max = tonumber(ARGV[3])
if redis.call("HEXISTS", KEYS[2], ARGV[1]) == 0 and max > 0 and redis.call("HLEN", KEYS[2]) >= max then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("EXPIRE", KEYS[2], ARGV[4])
return 1
`)

// removeMemberScript drops a member and deletes the room once the hash is
// empty, so a concurrent add either lands first or sees the room gone.
// KEYS[1] room, KEYS[2] members hash, ARGV[1] user id.
// Returns the remaining count, or -1 when the room is gone.
var removeMemberScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
redis.call("HDEL", KEYS[2], ARGV[1])
local n = redis.call("HLEN", KEYS[2])
if n == 0 then
	redis.call("DEL", KEYS[1], KEYS[2])
end
return n
`)

// Compile-time interface check.
var _ store.RoomStore = (*Store)(nil)

// Store is a RoomStore backed by Redis. Room metadata lives under
// "room:<name>" and members in the hash "room:<name>:users".
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func roomKey(name string) string    { return "room:" + name }
func membersKey(name string) string { return "room:" + name + ":users" }

func (s *Store) CreateRoom(ctx context.Context, room models.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	ok, err := s.client.SetNX(ctx, roomKey(room.Name), data, roomTTL).Result()
	if err != nil {
		return fmt.Errorf("store room: %w", err)
	}
	if !ok {
		return store.ErrRoomExists
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, name string) (*models.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	var room models.RoomMetadata
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}
	count, err := s.client.HLen(ctx, membersKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	room.PlayerCount = int(count)
	return &room, nil
}

func (s *Store) DeleteRoom(ctx context.Context, name string) error {
	return s.client.Del(ctx, roomKey(name), membersKey(name)).Err()
}

func (s *Store) AddMember(ctx context.Context, room string, user models.User) error {
	meta, err := s.GetRoom(ctx, room)
	if err != nil {
		return err
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	keys := []string{roomKey(room), membersKey(room)}
	ttl := int64(roomTTL / time.Second)
	added, err := addMemberScript.Run(ctx, s.client, keys, user.ID, data, meta.MaxPlayers, ttl).Int()
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	switch added {
	case -1:
		return store.ErrRoomNotFound
	case 0:
		return store.ErrRoomFull
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, room, userID string) (int, error) {
	count, err := removeMemberScript.Run(ctx, s.client, []string{roomKey(room), membersKey(room)}, userID).Int()
	if err != nil {
		return 0, fmt.Errorf("remove member: %w", err)
	}
	if count < 0 {
		return 0, store.ErrRoomNotFound
	}
	return count, nil
}

func (s *Store) Members(ctx context.Context, room string) (map[string]models.User, error) {
	raw, err := s.client.HGetAll(ctx, membersKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	users := make(map[string]models.User, len(raw))
	for id, v := range raw {
		var u models.User
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			continue
		}
		users[id] = u
	}
	return users, nil
}
