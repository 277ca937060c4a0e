// Package config loads the homeserver configuration from a YAML file with
// environment overrides for the deployment-sensitive knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		HTTPAddr  string `yaml:"http_addr"`
		HTTPSAddr string `yaml:"https_addr"`
		PublicIP  string `yaml:"public_ip"`
		// Reverse-proxy public port: TCP-forwarded, TLS not terminated by
		// the proxy. Only affects the endpoint written to published
		// records, never the certificate presented.
		ProxyPublicPort int `yaml:"proxy_public_port"`
		// Legacy ICANN domain for browser fallback. Route discovery only;
		// never a trust anchor.
		LegacyDomain string `yaml:"legacy_domain"`
	} `yaml:"server"`

	Identity struct {
		SeedFile string `yaml:"seed_file"`
		// When true the seed file is sealed with KEYHAVEN_MASTER_KEY.
		Sealed bool `yaml:"sealed"`
	} `yaml:"identity"`

	Storage struct {
		Driver     string `yaml:"driver"` // memory | sqlite | postgres
		SQLitePath string `yaml:"sqlite_path"`
		DSN        string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache struct {
		Driver string `yaml:"driver"` // memory | redis
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Auth struct {
		ChallengeTTL  time.Duration `yaml:"challenge_ttl"`
		ChannelTTL    time.Duration `yaml:"channel_ttl"`
		InactivityTTL time.Duration `yaml:"inactivity_ttl"`
		TokenMaxTTL   time.Duration `yaml:"token_max_ttl"`
		NonceSlack    time.Duration `yaml:"nonce_slack"`
	} `yaml:"auth"`
}

// Load reads path (optional; missing file yields pure defaults), applies
// defaults, then environment overrides.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}
	c.applyDefaults()
	c.applyEnv()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.HTTPSAddr == "" {
		c.Server.HTTPSAddr = ":8443"
	}
	if c.Identity.SeedFile == "" {
		c.Identity.SeedFile = "homeserver.key"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Auth.ChallengeTTL == 0 {
		c.Auth.ChallengeTTL = 2 * time.Minute
	}
	if c.Auth.ChannelTTL == 0 {
		c.Auth.ChannelTTL = 5 * time.Minute
	}
	if c.Auth.InactivityTTL == 0 {
		c.Auth.InactivityTTL = 30 * 24 * time.Hour
	}
	if c.Auth.TokenMaxTTL == 0 {
		c.Auth.TokenMaxTTL = time.Hour
	}
	if c.Auth.NonceSlack == 0 {
		c.Auth.NonceSlack = time.Minute
	}
}

// applyEnv overrides the knobs that commonly differ per deployment
// without editing the file.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.App.Env, "KEYHAVEN_ENV")
	setStr(&c.Log.Level, "KEYHAVEN_LOG_LEVEL")
	setStr(&c.Server.HTTPAddr, "KEYHAVEN_HTTP_ADDR")
	setStr(&c.Server.HTTPSAddr, "KEYHAVEN_HTTPS_ADDR")
	setStr(&c.Server.PublicIP, "KEYHAVEN_PUBLIC_IP")
	setStr(&c.Server.LegacyDomain, "KEYHAVEN_LEGACY_DOMAIN")
	setStr(&c.Identity.SeedFile, "KEYHAVEN_SEED_FILE")
	setStr(&c.Storage.Driver, "KEYHAVEN_STORAGE_DRIVER")
	setStr(&c.Storage.SQLitePath, "KEYHAVEN_SQLITE_PATH")
	setStr(&c.Storage.DSN, "KEYHAVEN_STORAGE_DSN")
	setStr(&c.Cache.Driver, "KEYHAVEN_CACHE_DRIVER")
	setStr(&c.Cache.Redis.Addr, "KEYHAVEN_REDIS_ADDR")
	setStr(&c.Cache.Redis.Password, "KEYHAVEN_REDIS_PASSWORD")

	if v := os.Getenv("KEYHAVEN_PROXY_PUBLIC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.ProxyPublicPort = n
		}
	}
	if v := os.Getenv("KEYHAVEN_SEED_SEALED"); v != "" {
		c.Identity.Sealed = v == "1" || v == "true"
	}
}
