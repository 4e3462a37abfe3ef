package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/timeaudit/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, RemoteMemory, cfg.Remote.Kind)
	assert.Equal(t, 30*time.Second, cfg.RetryInterval)
	assert.Equal(t, "time_audit_pending_activities", cfg.SlotKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromPath_missingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().RetryInterval, cfg.RetryInterval)
}

func TestLoadFromPath_file(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/timeaudit
store: file
owner_id: user-1
timezone: Asia/Taipei
retry_interval: 45s
remote:
  kind: rest
  url: https://example.supabase.co
  api_key: anon
  timeout: 3s
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/timeaudit", cfg.DataDir)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, "user-1", cfg.OwnerID)
	assert.Equal(t, 45*time.Second, cfg.RetryInterval)
	assert.Equal(t, RemoteREST, cfg.Remote.Kind)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "127.0.0.1:8787", cfg.HTTPAddr, "unset fields keep defaults")
	assert.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Taipei", loc.String())
}

func TestLoadFromPath_invalidYAML(t *testing.T) {
	path := writeConfig(t, "store: [unterminated")

	_, err := LoadFromPath(path)
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}

func TestLoadFromPath_envOverrides(t *testing.T) {
	path := writeConfig(t, "owner_id: from-file\nretry_interval: 45s\n")
	t.Setenv("TIMEAUDIT_OWNER_ID", "from-env")
	t.Setenv("TIMEAUDIT_RETRY_INTERVAL", "5s")
	t.Setenv("TIMEAUDIT_REMOTE_KIND", "postgres")
	t.Setenv("TIMEAUDIT_REMOTE_DSN", "postgres://localhost/timeaudit")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.OwnerID)
	assert.Equal(t, 5*time.Second, cfg.RetryInterval)
	assert.Equal(t, RemotePostgres, cfg.Remote.Kind)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromPath_invalidDurationEnvFallsBack(t *testing.T) {
	t.Setenv("TIMEAUDIT_RETRY_INTERVAL", "soon")

	cfg, err := LoadFromPath("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RetryInterval)
}

func TestLoadFromPath_expandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TIMEAUDIT_DATA_DIR", "~/audit")

	cfg, err := LoadFromPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "audit"), cfg.DataDir)
}

func TestPath_override(t *testing.T) {
	t.Setenv("TIMEAUDIT_CONFIG", "/etc/timeaudit.yaml")
	assert.Equal(t, "/etc/timeaudit.yaml", Path())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "redis" }},
		{"sqlite without data dir", func(c *Config) { c.DataDir = "" }},
		{"unknown remote", func(c *Config) { c.Remote.Kind = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Remote.Kind = RemotePostgres }},
		{"rest without url", func(c *Config) { c.Remote.Kind = RemoteREST }},
		{"zero retry interval", func(c *Config) { c.RetryInterval = 0 }},
		{"empty slot key", func(c *Config) { c.SlotKey = " " }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.DataDir = t.TempDir()
			tt.mutate(cfg)
			assert.True(t, errors.Is(cfg.Validate(), errors.ErrConfigInvalid))
		})
	}
}

func TestValidate_memoryStoreNeedsNoDataDir(t *testing.T) {
	cfg := Default()
	cfg.Store = StoreMemory
	cfg.DataDir = ""
	assert.NoError(t, cfg.Validate())
}
