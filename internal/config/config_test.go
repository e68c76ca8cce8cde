package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", testSecret)
	t.Setenv("AUTH_STORE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Token.RefreshTTL)
	assert.Equal(t, time.Hour, cfg.CSRF.TTL)
	assert.True(t, cfg.Lockout.Enabled)
	assert.Equal(t, 5, cfg.Lockout.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.DelayBase)
	assert.Equal(t, 8*time.Second, cfg.RateLimit.DelayCap)
	assert.False(t, cfg.App.Production())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_STORE_DRIVER", "memory")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token.secret")
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "too-short")
	t.Setenv("AUTH_STORE_DRIVER", "memory")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.yaml")
	yaml := `
app:
  env: production
server:
  http_addr: ":9999"
store:
  driver: memory
token:
  secret: "` + testSecret + `"
  access_ttl: 5m
admin_emails:
  - boss@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("AUTH_SERVER_HTTP_ADDR", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.HTTPAddr, "env overrides the file")
	assert.Equal(t, 5*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, []string{"boss@example.com"}, cfg.AdminEmails)
	assert.True(t, cfg.App.Production())
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", testSecret)
	t.Setenv("AUTH_STORE_DRIVER", "postgres")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
}

func TestLoadRejectsAccessLongerThanRefresh(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", testSecret)
	t.Setenv("AUTH_STORE_DRIVER", "memory")
	t.Setenv("AUTH_TOKEN_ACCESS_TTL", "200h")

	_, err := Load("")
	require.Error(t, err)
}
