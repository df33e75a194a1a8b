package redis

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/lanmesh/config"
	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/store/storetest"
)

// TestStore runs against a live server named by REDIS_TEST_ADDR (host:port).
func TestStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	client, err := Connect(context.Background(), config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	st := NewStore(client)
	storetest.Run(t, st)

	t.Run("members expire with the room", func(t *testing.T) {
		ctx := context.Background()
		room := models.RoomMetadata{Name: "room-" + uuid.NewString(), MaxPlayers: 2}
		require.NoError(t, st.CreateRoom(ctx, room))
		t.Cleanup(func() { _ = st.DeleteRoom(ctx, room.Name) })
		require.NoError(t, st.AddMember(ctx, room.Name, models.User{ID: "a"}))

		ttl, err := client.TTL(ctx, membersKey(room.Name)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, roomTTL)
	})
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect(context.Background(), config.RedisConfig{Host: "127.0.0.1", Port: "1"})
	require.Error(t, err)
}
