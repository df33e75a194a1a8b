// Package storetest holds the behaviour every store.RoomStore must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/store"
)

// Run exercises s. Room names are random so a shared backend can be reused.
func Run(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	newRoom := func(max int) models.RoomMetadata {
		return models.RoomMetadata{
			Name:       "room-" + uuid.NewString(),
			CreatorID:  "creator",
			CreatedAt:  time.Now().UTC().Truncate(time.Second),
			MaxPlayers: max,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		room := newRoom(4)
		require.NoError(t, s.CreateRoom(ctx, room))
		assert.ErrorIs(t, s.CreateRoom(ctx, room), store.ErrRoomExists)

		got, err := s.GetRoom(ctx, room.Name)
		require.NoError(t, err)
		assert.Equal(t, room.Name, got.Name)
		assert.Equal(t, "creator", got.CreatorID)
		assert.Equal(t, 4, got.MaxPlayers)
		assert.Zero(t, got.PlayerCount)
		assert.True(t, room.CreatedAt.Equal(got.CreatedAt))

		_, err = s.GetRoom(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})

	t.Run("members", func(t *testing.T) {
		room := newRoom(2)
		require.NoError(t, s.CreateRoom(ctx, room))
		alice := models.User{ID: "a", Username: "alice"}
		bob := models.User{ID: "b", Username: "bob"}

		require.NoError(t, s.AddMember(ctx, room.Name, alice))
		require.NoError(t, s.AddMember(ctx, room.Name, bob))
		assert.ErrorIs(t, s.AddMember(ctx, room.Name, models.User{ID: "c"}), store.ErrRoomFull)
		require.NoError(t, s.AddMember(ctx, room.Name, alice), "re-adding a member is not a capacity error")

		members, err := s.Members(ctx, room.Name)
		require.NoError(t, err)
		assert.Equal(t, map[string]models.User{"a": alice, "b": bob}, members)
		assert.Equal(t, []models.User{alice, bob}, store.SortedUsers(members))

		got, err := s.GetRoom(ctx, room.Name)
		require.NoError(t, err)
		assert.Equal(t, 2, got.PlayerCount)

		remaining, err := s.RemoveMember(ctx, room.Name, "a")
		require.NoError(t, err)
		assert.Equal(t, 1, remaining)

		assert.ErrorIs(t, s.AddMember(ctx, "missing-"+uuid.NewString(), alice), store.ErrRoomNotFound)
	})

	t.Run("last member leaving deletes the room", func(t *testing.T) {
		room := newRoom(0)
		require.NoError(t, s.CreateRoom(ctx, room))
		require.NoError(t, s.AddMember(ctx, room.Name, models.User{ID: "a"}))

		remaining, err := s.RemoveMember(ctx, room.Name, "a")
		require.NoError(t, err)
		assert.Zero(t, remaining)
		_, err = s.GetRoom(ctx, room.Name)
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
		assert.ErrorIs(t, s.AddMember(ctx, room.Name, models.User{ID: "b"}), store.ErrRoomNotFound)
		_, err = s.RemoveMember(ctx, room.Name, "a")
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})

	t.Run("join racing the last leave", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			room := newRoom(0)
			require.NoError(t, s.CreateRoom(ctx, room))
			require.NoError(t, s.AddMember(ctx, room.Name, models.User{ID: "a"}))

			var wg sync.WaitGroup
			var addErr, removeErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, removeErr = s.RemoveMember(ctx, room.Name, "a")
			}()
			go func() {
				defer wg.Done()
				addErr = s.AddMember(ctx, room.Name, models.User{ID: "b"})
			}()
			wg.Wait()
			require.NoError(t, removeErr)

			got, err := s.GetRoom(ctx, room.Name)
			if addErr != nil {
				// the room emptied first
				require.ErrorIs(t, addErr, store.ErrRoomNotFound)
				assert.ErrorIs(t, err, store.ErrRoomNotFound)
				continue
			}
			require.NoError(t, err, "a successful join keeps the room")
			assert.Equal(t, 1, got.PlayerCount)
			members, err := s.Members(ctx, room.Name)
			require.NoError(t, err)
			assert.Contains(t, members, "b")
		}
	})

	t.Run("delete", func(t *testing.T) {
		room := newRoom(0)
		require.NoError(t, s.CreateRoom(ctx, room))
		require.NoError(t, s.AddMember(ctx, room.Name, models.User{ID: "a"}))
		require.NoError(t, s.DeleteRoom(ctx, room.Name))

		_, err := s.GetRoom(ctx, room.Name)
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
		require.NoError(t, s.CreateRoom(ctx, room), "name is free again")
	})
}
