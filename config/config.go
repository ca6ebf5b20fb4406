package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Engines  EnginesConfig  `mapstructure:"engines"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Session  SessionConfig  `mapstructure:"session"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	StaticDir      string        `mapstructure:"static_dir"`
	TemplatesDir   string        `mapstructure:"templates_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json or logfmt
}

// EnginesConfig selects which engine plays the online and offline role.
type EnginesConfig struct {
	Default string `mapstructure:"default"` // the online or offline id; "gtts" always names the online engine
	Online  string `mapstructure:"online"`  // "gtts" or "google"
	Offline string `mapstructure:"offline"` // "system"

	// FallbackReserve is kept back from the request deadline for the
	// fallback engine.
	FallbackReserve time.Duration `mapstructure:"fallback_reserve"`

	GTTS   GTTSConfig   `mapstructure:"gtts"`
	Google GoogleConfig `mapstructure:"google"`
	System SystemConfig `mapstructure:"system"`
}

type GTTSConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`  // per chunk request
	BaseURL           string        `mapstructure:"base_url"` // %s is replaced by the TLD
	Slow              bool          `mapstructure:"slow"`
}

type GoogleConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	SampleRate      int32  `mapstructure:"sample_rate"`
}

type SystemConfig struct {
	Binary  string        `mapstructure:"binary"`
	Rate    int           `mapstructure:"rate"`   // words per minute
	Volume  float64       `mapstructure:"volume"` // 0.0 to 1.0
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	LocalSize int           `mapstructure:"local_size"`
	LocalTTL  time.Duration `mapstructure:"local_ttl"`
	RedisURL  string        `mapstructure:"redis_url"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AudioConfig struct {
	Dir           string        `mapstructure:"dir"`
	Retention     time.Duration `mapstructure:"retention"`
	MaxFiles      int           `mapstructure:"max_files"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// CatalogConfig overrides the built-in language table when Languages is non-empty.
type CatalogConfig struct {
	Languages []LanguageConfig `mapstructure:"languages"`
}

type LanguageConfig struct {
	Key             string         `mapstructure:"key"`
	Code            string         `mapstructure:"code"`
	Name            string         `mapstructure:"name"`
	GenderVariation bool           `mapstructure:"gender_variation"`
	Accents         []AccentConfig `mapstructure:"accents"`
}

type AccentConfig struct {
	Key    string              `mapstructure:"key"`
	Name   string              `mapstructure:"name"`
	TLD    string              `mapstructure:"tld"`
	Code   string              `mapstructure:"code"`
	Voices map[string][]string `mapstructure:"voices"` // gender -> TLDs
}

const envPrefix = "VOCALIZE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:8080"})
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 16*1024*1024)
	v.SetDefault("server.static_dir", "./web/static")
	v.SetDefault("server.templates_dir", "./web/templates")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("engines.default", "gtts")
	v.SetDefault("engines.online", "gtts")
	v.SetDefault("engines.offline", "system")
	v.SetDefault("engines.fallback_reserve", 15*time.Second)
	v.SetDefault("engines.gtts.requests_per_minute", 50)
	v.SetDefault("engines.gtts.timeout", 10*time.Second)
	v.SetDefault("engines.gtts.base_url", "https://translate.google.%s")
	v.SetDefault("engines.gtts.slow", false)
	v.SetDefault("engines.google.sample_rate", 24000)
	v.SetDefault("engines.system.binary", "espeak-ng")
	v.SetDefault("engines.system.rate", 180)
	v.SetDefault("engines.system.volume", 1.0)
	v.SetDefault("engines.system.timeout", 15*time.Second)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.local_size", 1000)
	v.SetDefault("cache.local_ttl", 10*time.Minute)
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("database.path", "./vocalize.db")

	v.SetDefault("audio.dir", "./web/static/audio")
	v.SetDefault("audio.retention", time.Hour)
	v.SetDefault("audio.max_files", 200)
	v.SetDefault("audio.prune_interval", 5*time.Minute)

	v.SetDefault("session.secret", "change-this-session-secret")
	v.SetDefault("session.max_age", 24*time.Hour)
}

// Load reads config.yaml (if any), merges config.local.yaml on top and
// applies VOCALIZE_* environment overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	// Local overrides (ignored by git)
	v.SetConfigName("config.local")
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to merge local config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	onlineEngines  = []string{"gtts", "google"}
	offlineEngines = []string{"system"}
)

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if !contains(onlineEngines, c.Engines.Online) {
		return fmt.Errorf("engines.online must be one of %v, got %q", onlineEngines, c.Engines.Online)
	}
	if !contains(offlineEngines, c.Engines.Offline) {
		return fmt.Errorf("engines.offline must be one of %v, got %q", offlineEngines, c.Engines.Offline)
	}
	// only the two configured engines are registered
	if !contains([]string{c.Engines.Online, c.Engines.Offline, "gtts"}, c.Engines.Default) {
		return fmt.Errorf("engines.default must be %q, %q or \"gtts\", got %q",
			c.Engines.Online, c.Engines.Offline, c.Engines.Default)
	}
	if c.Engines.FallbackReserve <= 0 || c.Engines.FallbackReserve >= c.Server.RequestTimeout {
		return fmt.Errorf("engines.fallback_reserve must be positive and below server.request_timeout")
	}
	if c.Engines.GTTS.RequestsPerMinute <= 0 {
		return fmt.Errorf("engines.gtts.requests_per_minute must be positive")
	}
	if c.Engines.System.Rate <= 0 {
		return fmt.Errorf("engines.system.rate must be positive")
	}
	if c.Engines.System.Volume < 0 || c.Engines.System.Volume > 1 {
		return fmt.Errorf("engines.system.volume must be between 0.0 and 1.0")
	}
	for i, lang := range c.Catalog.Languages {
		if lang.Key == "" || len(lang.Accents) == 0 {
			return fmt.Errorf("catalog.languages[%d] needs a key and at least one accent", i)
		}
	}
	return nil
}
