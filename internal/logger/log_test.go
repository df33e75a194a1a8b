package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/config"
)

func TestNew(t *testing.T) {
	lg, err := New(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, lg.Core().Enabled(zap.DebugLevel))

	lg, err = New(config.LogConfig{Level: "bogus"})
	require.NoError(t, err)
	assert.False(t, lg.Core().Enabled(zap.DebugLevel))
	assert.True(t, lg.Core().Enabled(zap.InfoLevel))
}

func TestNamed(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	lg, err := New(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	SetDefault(lg)
	named := NewNamed("mesh")
	assert.False(t, named.Core().Enabled(zap.InfoLevel))
}
