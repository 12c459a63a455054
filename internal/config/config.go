// Package config provides configuration management for intelstream.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"intelstream/internal/aiscore"
	"intelstream/internal/api"
	"intelstream/internal/enrichment"
	"intelstream/internal/feed"
	"intelstream/internal/observability"
)

// Config holds all intelstream configuration.
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	Cache     CacheConfig                 `yaml:"cache"`
	Redis     RedisConfig                 `yaml:"redis"`
	Store     StoreConfig                 `yaml:"store"`
	Providers ProvidersConfig             `yaml:"providers"`
	Feed      feed.Config                 `yaml:"feed"`
	AI        aiscore.Config              `yaml:"ai"`
	Logging   observability.LoggingConfig `yaml:"logging"`
	Metrics   MetricsConfig               `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int                 `yaml:"port"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RateLimit       api.RateLimitConfig `yaml:"rate_limit"`
}

// CacheConfig selects and tunes the enrichment cache backend.
type CacheConfig struct {
	// Backend is one of sqlite, redis, memory, none.
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"` // sqlite only
	Duration      time.Duration `yaml:"duration"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// RedisConfig holds Redis connection settings, used when either the cache
// backend or the event publisher runs on Redis.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	PasswordEnv   string `yaml:"password_env"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	PublishEvents bool   `yaml:"publish_events"`
	EventsChannel string `yaml:"events_channel"`
}

// StoreConfig holds threat record collection settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ProvidersConfig holds per-provider settings, in priority order.
type ProvidersConfig struct {
	VirusTotal enrichment.ProviderConfig `yaml:"virustotal"`
	AbuseIPDB  enrichment.ProviderConfig `yaml:"abuseipdb"`
	ThreatFox  enrichment.ProviderConfig `yaml:"threatfox"`
	PulseDive  enrichment.ProviderConfig `yaml:"pulsedive"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	vt := enrichment.DefaultVirusTotalConfig()
	abuse := enrichment.DefaultAbuseIPDBConfig()
	tfox := enrichment.DefaultThreatFoxConfig()
	pdive := enrichment.DefaultPulseDiveConfig()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       api.DefaultRateLimitConfig(),
		},
		Cache: CacheConfig{
			Backend:       "sqlite",
			Path:          "data/threat_cache.db",
			Duration:      1 * time.Hour,
			PruneInterval: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      10,
			EventsChannel: "intelstream:events",
		},
		Store: StoreConfig{
			Path: "data/threats.db",
		},
		Providers: ProvidersConfig{
			VirusTotal: vt,
			AbuseIPDB:  abuse,
			ThreatFox:  tfox,
			PulseDive:  pdive,
		},
		Feed: feed.DefaultConfig(),
		AI:   aiscore.DefaultConfig(),
		Logging: observability.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate catches configuration mistakes that should stop the process at
// startup rather than surface as runtime failures.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "sqlite", "redis", "memory", "none", "":
	default:
		return fmt.Errorf("unknown cache backend: %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "sqlite" && c.Cache.Path == "" {
		return fmt.Errorf("cache backend sqlite requires cache.path")
	}
	if c.Cache.Duration <= 0 {
		return fmt.Errorf("cache.duration must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	for _, p := range []struct {
		name string
		cfg  enrichment.ProviderConfig
	}{
		{"virustotal", c.Providers.VirusTotal},
		{"abuseipdb", c.Providers.AbuseIPDB},
		{"threatfox", c.Providers.ThreatFox},
		{"pulsedive", c.Providers.PulseDive},
	} {
		if p.cfg.Enabled && p.cfg.APIKeyEnv == "" {
			return fmt.Errorf("provider %s is enabled but has no api_key_env", p.name)
		}
	}
	return nil
}

// EnabledProviders returns the names of enabled providers in priority
// order.
func (c *Config) EnabledProviders() []string {
	var providers []string
	if c.Providers.VirusTotal.Enabled {
		providers = append(providers, "virustotal")
	}
	if c.Providers.AbuseIPDB.Enabled {
		providers = append(providers, "abuseipdb")
	}
	if c.Providers.ThreatFox.Enabled {
		providers = append(providers, "threatfox")
	}
	if c.Providers.PulseDive.Enabled {
		providers = append(providers, "pulsedive")
	}
	return providers
}
