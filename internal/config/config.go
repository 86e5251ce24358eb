// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arxivist/fetchsession/internal/fetch"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Stream      StreamConfig      `mapstructure:"stream"`
	DB          DBConfig          `mapstructure:"db"`
	Prefs       PrefsConfig       `mapstructure:"prefs"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Arxiv       ArxivConfig       `mapstructure:"arxiv"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StreamConfig selects the progress event transport. An empty URL means the
// in-process bus; anything else is treated as a NATS URL.
type StreamConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// DBConfig controls access to the history database. An empty DSN keeps
// history in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PrefsConfig locates the persisted dialog preferences file.
type PrefsConfig struct {
	Path string `mapstructure:"path"`
}

// FetchConfig governs session protocol behavior.
type FetchConfig struct {
	FirstEventTimeoutSeconds int `mapstructure:"first_event_timeout_seconds"`
}

// ArxivConfig configures the arXiv discovery client.
type ArxivConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
}

// CredentialsConfig holds analysis provider API keys. It implements
// fetch.CredentialChecker.
type CredentialsConfig struct {
	OpenAIKey    string `mapstructure:"openai_key"`
	AnthropicKey string `mapstructure:"anthropic_key"`
}

// HasCredential reports whether a key is configured for the provider.
func (c CredentialsConfig) HasCredential(p fetch.Provider) bool {
	switch p {
	case fetch.ProviderOpenAI:
		return c.OpenAIKey != ""
	case fetch.ProviderAnthropic:
		return c.AnthropicKey != ""
	default:
		return false
	}
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("stream.subject", "fetch.progress")
	v.SetDefault("db.table", "fetch_sessions")
	v.SetDefault("prefs.path", "fetch_prefs.yaml")
	v.SetDefault("fetch.first_event_timeout_seconds", 30)
	v.SetDefault("arxiv.base_url", "https://export.arxiv.org/api/query")
	v.SetDefault("arxiv.user_agent", "arxivist-fetchd/0.1")
	v.SetDefault("arxiv.timeout_seconds", 15)
	v.SetDefault("arxiv.cache_ttl_minutes", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.FirstEventTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.first_event_timeout_seconds must be > 0")
	}
	if c.Arxiv.TimeoutSeconds <= 0 {
		return fmt.Errorf("arxiv.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FirstEventTimeout converts the watchdog knob into a duration.
func (c Config) FirstEventTimeout() time.Duration {
	return time.Duration(c.Fetch.FirstEventTimeoutSeconds) * time.Second
}

// ArxivTimeout converts the client timeout knob into a duration.
func (c Config) ArxivTimeout() time.Duration {
	return time.Duration(c.Arxiv.TimeoutSeconds) * time.Second
}

// ArxivCacheTTL converts the cache TTL knob into a duration.
func (c Config) ArxivCacheTTL() time.Duration {
	return time.Duration(c.Arxiv.CacheTTLMinutes) * time.Minute
}
