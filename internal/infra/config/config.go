// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Admin     AdminConfig             `yaml:"admin"`
	Playback  PlaybackConfig          `yaml:"playback"`
	Presence  PresenceConfig          `yaml:"presence"`
	Resolver  ResolverConfig          `yaml:"resolver"`
	Sink      SinkConfig              `yaml:"sink"`
	Filters   map[string]FilterConfig `yaml:"filters"`
	Favorites FavoritesConfig         `yaml:"favorites"`
	Events    EventsConfig            `yaml:"events"`
	Messages  MessagesConfig          `yaml:"messages"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr          string      `yaml:"addr" default:":8080"`
	MetricsPath   string      `yaml:"metrics_path" default:"/metrics"`
	WebsocketPath string      `yaml:"websocket_path" default:"/ws/status"`
	Hooks         HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// PlaybackConfig represents playback session configuration.
type PlaybackConfig struct {
	ResolveAttempts    int `yaml:"resolve_attempts" default:"3" validate:"gte=1,lte=10"`
	ResolveTimeoutMs   int `yaml:"resolve_timeout_ms" default:"20000" validate:"gte=100,lte=120000"`
	SinkStartAttempts  int `yaml:"sink_start_attempts" default:"3" validate:"gte=1,lte=10"`
	SinkStartTimeoutMs int `yaml:"sink_start_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
	DisplayTimeoutMs   int `yaml:"display_timeout_ms" default:"2000" validate:"gte=100,lte=30000"`
	DefaultVolume      int `yaml:"default_volume" default:"100" validate:"gte=1,lte=100"`
}

// ResolveTimeout returns the per-attempt resolution timeout.
func (p PlaybackConfig) ResolveTimeout() time.Duration {
	return time.Duration(p.ResolveTimeoutMs) * time.Millisecond
}

// SinkStartTimeout returns the per-attempt sink start timeout.
func (p PlaybackConfig) SinkStartTimeout() time.Duration {
	return time.Duration(p.SinkStartTimeoutMs) * time.Millisecond
}

// DisplayTimeout returns the per-render display timeout.
func (p PlaybackConfig) DisplayTimeout() time.Duration {
	return time.Duration(p.DisplayTimeoutMs) * time.Millisecond
}

// PresenceConfig represents auto-disconnect configuration.
// Per-room values in SettingsFile override these.
type PresenceConfig struct {
	AutoDisconnect *bool  `yaml:"auto_disconnect" default:"true"`
	GracePeriodSec int    `yaml:"grace_period_sec" default:"10" validate:"gte=0,lte=3600"`
	Threshold      int    `yaml:"threshold" default:"2" validate:"gte=1"`
	SettingsFile   string `yaml:"settings_file"`
}

// AutoDisconnectEnabled returns the default auto-disconnect switch.
func (p PresenceConfig) AutoDisconnectEnabled() bool {
	return p.AutoDisconnect == nil || *p.AutoDisconnect
}

// GracePeriod returns the default grace period.
func (p PresenceConfig) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodSec) * time.Second
}

// ResolverConfig represents track resolver configuration.
type ResolverConfig struct {
	Providers []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	Cache     CacheConfig      `yaml:"cache"`
}

// ProviderConfig represents a single resolver provider configuration.
type ProviderConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=ytdlp spotify"`
	Settings map[string]any `yaml:"settings"`
}

// CacheConfig represents the resolution cache configuration.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr" default:"localhost:6379"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	TTLSec    int    `yaml:"ttl_sec" default:"1800" validate:"gte=1"`
	KeyPrefix string `yaml:"key_prefix" default:"voicebox:resolve:"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// SinkConfig represents the audio sink configuration.
type SinkConfig struct {
	Type     string         `yaml:"type" default:"ffmpeg" validate:"oneof=ffmpeg"`
	Settings map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// FavoritesConfig represents favorites storage configuration.
type FavoritesConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn" default:"voicebox.db"`
}

// EventsConfig represents status event publishing configuration.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject" default:"voicebox.status"`
}

// MessagesConfig represents user-facing messages, keyed by error kind.
type MessagesConfig struct {
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
	WrongChannel          string `yaml:"wrong_channel" default:"Use the channel the player was started in."`
	InvalidVolume         string `yaml:"invalid_volume" default:"Volume must be between 0 and 100."`
	IndexOutOfRange       string `yaml:"index_out_of_range" default:"There is no track at that position."`
	NotPlaying            string `yaml:"not_playing" default:"Nothing is playing."`
	NoPrevious            string `yaml:"no_previous" default:"There is no previous track."`
	EmptyQueue            string `yaml:"empty_queue" default:"The queue is empty."`
	InvalidState          string `yaml:"invalid_state" default:"The player cannot do that right now."`
	ResolutionFailed      string `yaml:"resolution_failed" default:"Could not find that track."`
	SinkStartFailed       string `yaml:"sink_start_failed" default:"Could not start playback."`
	NoSession             string `yaml:"no_session" default:"There is no player in this room."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That track is already queued."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That track is too long or too short."`
	QueueFull             string `yaml:"queue_full" default:"The queue is full."`
	Disconnected          string `yaml:"disconnected" default:"Left the voice channel because everyone else left."`
	NoFavorites           string `yaml:"no_favorites" default:"You have no favorites yet."`
	FavoritesDisabled     string `yaml:"favorites_disabled" default:"Favorites are not enabled."`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Resolver.Cache.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("VOICEBOX_DB_DSN"); v != "" {
		c.Favorites.DSN = v
	}
}

// GetMessage returns the message for the given error kind or filter code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "wrong_channel":
		return c.Messages.WrongChannel
	case "invalid_volume":
		return c.Messages.InvalidVolume
	case "index_out_of_range":
		return c.Messages.IndexOutOfRange
	case "not_playing":
		return c.Messages.NotPlaying
	case "no_previous":
		return c.Messages.NoPrevious
	case "empty_queue":
		return c.Messages.EmptyQueue
	case "invalid_state":
		return c.Messages.InvalidState
	case "resolution_failed":
		return c.Messages.ResolutionFailed
	case "sink_start_failed":
		return c.Messages.SinkStartFailed
	case "no_session":
		return c.Messages.NoSession
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "queue_full":
		return c.Messages.QueueFull
	case "disconnected":
		return c.Messages.Disconnected
	case "no_favorites":
		return c.Messages.NoFavorites
	case "favorites_disabled":
		return c.Messages.FavoritesDisabled
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.HasProvider("spotify") && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "") {
		return errors.New("spotify provider requires spotify.client_id and spotify.client_secret")
	}

	return nil
}

// HasProvider checks if a resolver provider of the given type is configured.
func (c *Config) HasProvider(providerType string) bool {
	for _, p := range c.Resolver.Providers {
		if p.Type == providerType {
			return true
		}
	}
	return false
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}
