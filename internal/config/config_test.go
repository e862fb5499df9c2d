package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default().Addr, cfg.Addr)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 500, cfg.MaxMessageLength)
	assert.False(t, cfg.RejectMalformed)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("addr: \":9000\"\nhistory_limit: 20\nreject_malformed: true\nshutdown_timeout: 2s\nallowed_origins:\n  - https://squad.example\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("SQUADUP_MAX_MESSAGE_LENGTH", "120")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 120, cfg.MaxMessageLength)
	assert.True(t, cfg.RejectMalformed)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"https://squad.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0o600))

	_, _, err := Load(nil, path)
	assert.Error(t, err)
}

func TestUpdateFromOnlyOverridesSetFields(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1", MessagesPerMinute: 30})

	assert.Equal(t, ":1", cfg.Addr)
	assert.Equal(t, 30, cfg.MessagesPerMinute)
	assert.Equal(t, Default().HistoryLimit, cfg.HistoryLimit)
	assert.Equal(t, Default().JWTSecret, cfg.JWTSecret)
}
