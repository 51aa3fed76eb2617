// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, file overrides, environment overrides and validation
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netaudio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, audio.DefaultFormat(), cfg.Audio.Format())
	assert.Equal(t, 1250, cfg.Server.Port)
	assert.True(t, cfg.Server.MDNS)
	assert.Equal(t, time.Second, cfg.Server.AcceptTimeout)
	assert.Equal(t, 10, cfg.Client.BufferFrames)
	assert.Equal(t, 5, cfg.Client.ReadyThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.DialTimeout)
	assert.Equal(t, "oto", cfg.Client.Output)
	assert.Equal(t, 500*time.Millisecond, cfg.Conn.ReadTimeout)
	assert.Equal(t, 16<<20, cfg.Conn.MaxMessageSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1250, cfg.Server.Port)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  port: 4000
  mdns: false
  probe_interval: 2s
client:
  server: 10.0.0.2:4000
  location: -0.5
conn:
  write_timeout: 750ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.False(t, cfg.Server.MDNS)
	assert.Equal(t, 2*time.Second, cfg.Server.ProbeInterval)
	assert.Equal(t, "10.0.0.2:4000", cfg.Client.Server)
	assert.Equal(t, -0.5, cfg.Client.Location)
	assert.Equal(t, 750*time.Millisecond, cfg.Conn.WriteTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Conn.Protocol().WriteTimeout)

	// Untouched keys keep their defaults.
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NETAUDIO_SERVER_PORT", "5050")
	t.Setenv("NETAUDIO_CLIENT_OUTPUT", "clock")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5050, cfg.Server.Port)
	assert.Equal(t, "clock", cfg.Client.Output)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: [port"},
		{"24-bit", "audio:\n  bytes_per_sample: 3\n"},
		{"port", "server:\n  port: 70000\n"},
		{"location", "client:\n  location: 2\n"},
		{"threshold", "client:\n  buffer_frames: 4\n  ready_threshold: 6\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDump(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.Dump()
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg.Server.Port, back.Server.Port)
	assert.Equal(t, cfg.Client.Output, back.Client.Output)
}
