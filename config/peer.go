package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PeerConfig configures the lanpeer client.
type PeerConfig struct {
	ServerURL  string   `yaml:"server"`
	Token      string   `yaml:"token"`
	Username   string   `yaml:"username"`
	Room       string   `yaml:"room"`
	Create     bool     `yaml:"create"`
	ICEServers []string `yaml:"iceServers"`

	// Core timing. The defaults reproduce the original client behaviour.
	ApplyDelay       time.Duration `yaml:"applyDelay"`
	RecreateCooldown time.Duration `yaml:"recreateCooldown"`
	ProbeInterval    time.Duration `yaml:"probeInterval"`

	Log LogConfig `yaml:"log"`
}

// LoadPeer builds the peer config from environment defaults, then overlays
// the YAML file at path when path is not empty.
func LoadPeer(path string) (*PeerConfig, error) {
	cfg := &PeerConfig{
		ServerURL:        getEnv("LANMESH_SERVER", "ws://localhost:5500/ws"),
		Token:            getEnv("LANMESH_TOKEN", ""),
		Username:         getEnv("LANMESH_USERNAME", ""),
		Room:             getEnv("LANMESH_ROOM", ""),
		ICEServers:       strings.Split(getEnv("LANMESH_STUN", "stun:stun.l.google.com:19302"), ","),
		ApplyDelay:       getEnvDuration("LANMESH_APPLY_DELAY", 100*time.Millisecond),
		RecreateCooldown: getEnvDuration("LANMESH_RECREATE_COOLDOWN", 2*time.Second),
		ProbeInterval:    getEnvDuration("LANMESH_PROBE_INTERVAL", 2*time.Second),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read peer config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse peer config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *PeerConfig) Validate() error {
	switch {
	case c.ServerURL == "":
		return fmt.Errorf("server url is required")
	case strings.TrimSpace(c.Username) == "":
		return fmt.Errorf("username is required")
	case strings.TrimSpace(c.Room) == "":
		return fmt.Errorf("room is required")
	case c.ApplyDelay < 0 || c.RecreateCooldown < 0 || c.ProbeInterval <= 0:
		return fmt.Errorf("timings must be positive")
	}
	return nil
}
