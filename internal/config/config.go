// ABOUTME: Layered configuration for the netaudio binaries
// ABOUTME: Defaults, then an optional YAML file, then NETAUDIO_* environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/netaudio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/playback"
	"github.com/Resonate-Protocol/netaudio-go/pkg/protocol"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. NETAUDIO_SERVER_PORT.
const EnvPrefix = "NETAUDIO"

// AudioConfig is the fixed stream format.
type AudioConfig struct {
	SampleRate      int `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels        int `mapstructure:"channels" yaml:"channels"`
	BytesPerSample  int `mapstructure:"bytes_per_sample" yaml:"bytes_per_sample"`
	SamplesPerFrame int `mapstructure:"samples_per_frame" yaml:"samples_per_frame"`
}

// Format converts to an audio.Format.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:      a.SampleRate,
		Channels:        a.Channels,
		BytesPerSample:  a.BytesPerSample,
		SamplesPerFrame: a.SamplesPerFrame,
	}
}

// ServerConfig configures netaudio-server.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	Name            string        `mapstructure:"name" yaml:"name"`
	QueueDepth      int           `mapstructure:"queue_depth" yaml:"queue_depth"`
	AcceptTimeout   time.Duration `mapstructure:"accept_timeout" yaml:"accept_timeout"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	MDNS            bool          `mapstructure:"mdns" yaml:"mdns"`
	FramesPerPacket int           `mapstructure:"frames_per_packet" yaml:"frames_per_packet"`
	WaitForClients  bool          `mapstructure:"wait_for_clients" yaml:"wait_for_clients"`
	Source          string        `mapstructure:"source" yaml:"source"`
	Loop            bool          `mapstructure:"loop" yaml:"loop"`
	StatusAddr      string        `mapstructure:"status_addr" yaml:"status_addr"`
}

// ClientConfig configures netaudio-player.
type ClientConfig struct {
	Server          string        `mapstructure:"server" yaml:"server"`
	Location        float64       `mapstructure:"location" yaml:"location"`
	BufferFrames    int           `mapstructure:"buffer_frames" yaml:"buffer_frames"`
	ReadyThreshold  int           `mapstructure:"ready_threshold" yaml:"ready_threshold"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RetryInterval   time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	Output          string        `mapstructure:"output" yaml:"output"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	DiscoverTimeout time.Duration `mapstructure:"discover_timeout" yaml:"discover_timeout"`
}

// ConnConfig tunes every peer connection.
type ConnConfig struct {
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	InboundDepth   int           `mapstructure:"inbound_depth" yaml:"inbound_depth"`
	OutboundDepth  int           `mapstructure:"outbound_depth" yaml:"outbound_depth"`
	MaxMessageSize int           `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// Protocol converts to a protocol.ConnConfig without a logger.
func (c ConnConfig) Protocol() protocol.ConnConfig {
	return protocol.ConnConfig{
		InboundDepth:   c.InboundDepth,
		OutboundDepth:  c.OutboundDepth,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		MaxMessageSize: c.MaxMessageSize,
	}
}

// Config is the complete configuration for both binaries.
type Config struct {
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string       `mapstructure:"log_file" yaml:"log_file"`
	Audio    AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
	Client   ClientConfig `mapstructure:"client" yaml:"client"`
	Conn     ConnConfig   `mapstructure:"conn" yaml:"conn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	f := audio.DefaultFormat()
	v.SetDefault("audio.sample_rate", f.SampleRate)
	v.SetDefault("audio.channels", f.Channels)
	v.SetDefault("audio.bytes_per_sample", f.BytesPerSample)
	v.SetDefault("audio.samples_per_frame", f.SamplesPerFrame)

	v.SetDefault("server.port", netaudio.DefaultPort)
	v.SetDefault("server.name", "netaudio")
	v.SetDefault("server.queue_depth", protocol.DefaultQueueDepth)
	v.SetDefault("server.accept_timeout", netaudio.DefaultAcceptTimeout)
	v.SetDefault("server.probe_interval", 5*time.Second)
	v.SetDefault("server.mdns", true)
	v.SetDefault("server.frames_per_packet", netaudio.DefaultFramesPerPacket)
	v.SetDefault("server.wait_for_clients", true)
	v.SetDefault("server.source", "")
	v.SetDefault("server.loop", false)
	v.SetDefault("server.status_addr", "")

	v.SetDefault("client.server", "")
	v.SetDefault("client.location", 0.0)
	v.SetDefault("client.buffer_frames", playback.DefaultCapacity)
	v.SetDefault("client.ready_threshold", playback.DefaultReadyThreshold)
	v.SetDefault("client.dial_timeout", netaudio.DefaultDialTimeout)
	v.SetDefault("client.retry_interval", netaudio.DefaultRetryInterval)
	v.SetDefault("client.output", "oto")
	v.SetDefault("client.probe_interval", 5*time.Second)
	v.SetDefault("client.discover_timeout", 10*time.Second)

	v.SetDefault("conn.read_timeout", protocol.DefaultReadTimeout)
	v.SetDefault("conn.write_timeout", protocol.DefaultWriteTimeout)
	v.SetDefault("conn.inbound_depth", protocol.DefaultQueueDepth)
	v.SetDefault("conn.outbound_depth", protocol.DefaultQueueDepth)
	v.SetDefault("conn.max_message_size", protocol.DefaultMaxMessageSize)
}

// New returns a viper instance with defaults and environment overrides
// registered but no file read.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, if non-empty, over the defaults and decodes the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadFile merges the YAML file at path into v. Empty or missing paths are
// ignored.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that no component can default.
func (c *Config) Validate() error {
	if err := c.Audio.Format().Validate(); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Client.Location < -1 || c.Client.Location > 1 {
		return fmt.Errorf("client location %v outside [-1, 1]", c.Client.Location)
	}
	if c.Client.ReadyThreshold > c.Client.BufferFrames {
		return fmt.Errorf("ready threshold %d exceeds buffer of %d frames",
			c.Client.ReadyThreshold, c.Client.BufferFrames)
	}
	return nil
}

// Dump renders c as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
