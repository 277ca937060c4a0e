package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":8443", cfg.Server.HTTPSAddr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Auth.ChallengeTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ChannelTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.InactivityTTL)
	assert.Equal(t, time.Minute, cfg.Auth.NonceSlack)
	assert.Equal(t, time.Hour, cfg.Auth.TokenMaxTTL)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
app:
  env: prod
server:
  http_addr: ":9090"
  legacy_domain: haven.example.org
  proxy_public_port: 443
storage:
  driver: sqlite
  sqlite_path: /var/lib/keyhaven/data.db
auth:
  challenge_ttl: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "haven.example.org", cfg.Server.LegacyDomain)
	assert.Equal(t, 443, cfg.Server.ProxyPublicPort)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Auth.ChallengeTTL)
	// untouched keys keep defaults
	assert.Equal(t, ":8443", cfg.Server.HTTPSAddr)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ChannelTTL)
}

func TestLoadMissingFileIsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.App.Env)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEYHAVEN_ENV", "prod")
	t.Setenv("KEYHAVEN_HTTP_ADDR", ":7000")
	t.Setenv("KEYHAVEN_STORAGE_DRIVER", "postgres")
	t.Setenv("KEYHAVEN_PROXY_PUBLIC_PORT", "8443")
	t.Setenv("KEYHAVEN_SEED_SEALED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, ":7000", cfg.Server.HTTPAddr)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 8443, cfg.Server.ProxyPublicPort)
	assert.True(t, cfg.Identity.Sealed)
}
