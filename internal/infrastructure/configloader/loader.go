package configloader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-specific configurations.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ProfileServiceConfig holds settings for the third-party profile service
// the portfolio data is fetched from.
type ProfileServiceConfig struct {
	BaseURL              string `yaml:"baseURL"`
	RequestTimeoutMillis int64  `yaml:"requestTimeoutMillis"`
	InnerRetryAttempts   int    `yaml:"innerRetryAttempts"`
}

// FetchConfig holds the orchestrator retry and pacing policy.
type FetchConfig struct {
	OuterRetryAttempts     int   `yaml:"outerRetryAttempts"`
	OuterRetryBaseMillis   int64 `yaml:"outerRetryBaseMillis"`
	OuterRetryJitterMillis int64 `yaml:"outerRetryJitterMillis"`
	CooldownBaseMillis     int64 `yaml:"cooldownBaseMillis"`
	CooldownJitterMillis   int64 `yaml:"cooldownJitterMillis"`
	PacingMinMillis        int64 `yaml:"pacingMinMillis"`
	PacingMaxMillis        int64 `yaml:"pacingMaxMillis"`
}

// ProxyConfig holds proxy pool settings.
type ProxyConfig struct {
	SourcePath            string `yaml:"sourcePath"`
	BreakerTimeoutSeconds int    `yaml:"breakerTimeoutSeconds"`
}

// StoreConfig holds wallet store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WalletsConfig holds wallet list settings.
type WalletsConfig struct {
	Path string `yaml:"path"`
}

// GeoIPConfig holds GeoIP lookup settings.
type GeoIPConfig struct {
	BaseURL       string `yaml:"baseURL"`
	CachePath     string `yaml:"cachePath"`
	RatePerMinute int    `yaml:"ratePerMinute"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	Logging LoggingConfig        `yaml:"logging"`
	Profile ProfileServiceConfig `yaml:"profileService"`
	Fetch   FetchConfig          `yaml:"fetch"`
	Proxies ProxyConfig          `yaml:"proxies"`
	Store   StoreConfig          `yaml:"store"`
	Wallets WalletsConfig        `yaml:"wallets"`
	GeoIP   GeoIPConfig          `yaml:"geoip"`
}

// Load reads the YAML configuration file from the given path and unmarshals
// it, applying defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with the defaults the rest of the
// system assumes.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Profile.RequestTimeoutMillis <= 0 {
		cfg.Profile.RequestTimeoutMillis = 30000
	}
	if cfg.Profile.InnerRetryAttempts <= 0 {
		cfg.Profile.InnerRetryAttempts = 3
	}

	if cfg.Fetch.OuterRetryAttempts <= 0 {
		cfg.Fetch.OuterRetryAttempts = 4
	}
	if cfg.Fetch.OuterRetryBaseMillis <= 0 {
		cfg.Fetch.OuterRetryBaseMillis = 2000
	}
	if cfg.Fetch.OuterRetryJitterMillis <= 0 {
		cfg.Fetch.OuterRetryJitterMillis = 3000
	}
	if cfg.Fetch.CooldownBaseMillis <= 0 {
		cfg.Fetch.CooldownBaseMillis = 30000
	}
	if cfg.Fetch.CooldownJitterMillis <= 0 {
		cfg.Fetch.CooldownJitterMillis = 15000
	}
	if cfg.Fetch.PacingMinMillis <= 0 {
		cfg.Fetch.PacingMinMillis = 15000
	}
	if cfg.Fetch.PacingMaxMillis <= cfg.Fetch.PacingMinMillis {
		cfg.Fetch.PacingMaxMillis = cfg.Fetch.PacingMinMillis + 10000
	}

	if cfg.Proxies.SourcePath == "" {
		cfg.Proxies.SourcePath = "data/proxies.txt"
	}
	if cfg.Proxies.BreakerTimeoutSeconds <= 0 {
		cfg.Proxies.BreakerTimeoutSeconds = 300
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/wallets.json"
	}
	if cfg.Wallets.Path == "" {
		cfg.Wallets.Path = "data/wallets.txt"
	}

	if cfg.GeoIP.BaseURL == "" {
		cfg.GeoIP.BaseURL = "http://ip-api.com/json"
	}
	if cfg.GeoIP.CachePath == "" {
		cfg.GeoIP.CachePath = "data/geoip_cache.json"
	}
	if cfg.GeoIP.RatePerMinute <= 0 {
		cfg.GeoIP.RatePerMinute = 40
	}
}
