package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Channel.ReconnectMaxAttempts)
	assert.Equal(t, "5m", cfg.Engine.AnalysisCacheTTL)
	assert.Equal(t, 100, cfg.Sync.NotificationCapacity)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewdeck.toml")
	content := `
[server]
addr = ":9000"

[engine]
url = "https://engine.internal"
token = "tok"

[channel]
url = "wss://channel.internal/channel"
reconnect_max_attempts = 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "https://engine.internal", cfg.Engine.URL)
	assert.Equal(t, 3, cfg.Channel.ReconnectMaxAttempts)
	// File values merge over defaults, not replace them.
	assert.Equal(t, "10s", cfg.Sync.TypingTTL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("REVIEWDECK_SERVER_ADDR", ":7777")
	t.Setenv("REVIEWDECK_ENGINE_TOKEN", "env-token")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, "env-token", cfg.Engine.Token)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	assert.NoError(t, Validate(valid()))

	cfg := valid()
	cfg.Channel.URL = "http://not-a-socket"
	assert.ErrorContains(t, Validate(cfg), "ws://")

	cfg = valid()
	cfg.Channel.ReconnectMaxAttempts = 0
	assert.ErrorContains(t, Validate(cfg), "reconnect_max_attempts")

	cfg = valid()
	cfg.Sync.TypingTTL = "ten seconds"
	assert.ErrorContains(t, Validate(cfg), "invalid duration")

	cfg = valid()
	cfg.Engine.URL = ""
	assert.ErrorContains(t, Validate(cfg), "engine url")
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewdeck.toml")

	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))

	// Refuses to clobber an existing file.
	assert.Error(t, InitConfig(path))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
}
