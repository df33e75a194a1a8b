package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "http://a,http://b")
	t.Setenv("SIGNAL_RATE", "2.5")
	t.Setenv("MAX_PLAYERS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.Signal.PerSecond)
	assert.Equal(t, 8, cfg.MaxPlayers)
	assert.Equal(t, "redis", cfg.Store)
}

func TestLoadPeer(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadPeer("")
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, cfg.ApplyDelay)
		assert.Equal(t, 2*time.Second, cfg.RecreateCooldown)
		assert.Equal(t, 2*time.Second, cfg.ProbeInterval)
		assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	})
	t.Run("yaml overlay", func(t *testing.T) {
		t.Setenv("LANMESH_USERNAME", "from-env")
		path := filepath.Join(t.TempDir(), "peer.yaml")
		require.NoError(t, os.WriteFile(path, []byte("room: R1\napplyDelay: 250ms\nlog:\n  level: debug\n"), 0o644))

		cfg, err := LoadPeer(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Username)
		assert.Equal(t, "R1", cfg.Room)
		assert.Equal(t, 250*time.Millisecond, cfg.ApplyDelay)
		assert.Equal(t, "debug", cfg.Log.Level)
		require.NoError(t, cfg.Validate())
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPeer(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
	t.Run("validate", func(t *testing.T) {
		cfg, err := LoadPeer("")
		require.NoError(t, err)
		cfg.Username = "alice"
		require.Error(t, cfg.Validate())
		cfg.Room = "R1"
		require.NoError(t, cfg.Validate())
	})
}
