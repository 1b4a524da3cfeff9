package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Addr      string `koanf:"addr"`
		JWTSecret string `koanf:"jwt_secret"`
	} `koanf:"server"`

	Engine struct {
		URL               string  `koanf:"url"`
		Token             string  `koanf:"token"`
		RequestsPerSecond float64 `koanf:"requests_per_second"`
		AnalysisCacheTTL  string  `koanf:"analysis_cache_ttl"`
		StatsCacheTTL     string  `koanf:"stats_cache_ttl"`
		CacheMaxEntries   int     `koanf:"cache_max_entries"`
	} `koanf:"engine"`

	Channel struct {
		URL                  string   `koanf:"url"`
		Token                string   `koanf:"token"`
		UserID               string   `koanf:"user_id"`
		TeamIDs              []string `koanf:"team_ids"`
		ReconnectMaxAttempts int      `koanf:"reconnect_max_attempts"`
		ReconnectBaseDelay   string   `koanf:"reconnect_base_delay"`
		ReconnectMaxDelay    string   `koanf:"reconnect_max_delay"`
		ReconnectMultiplier  float64  `koanf:"reconnect_multiplier"`
	} `koanf:"channel"`

	Sync struct {
		NotificationCapacity int    `koanf:"notification_capacity"`
		AutoReadDelay        string `koanf:"auto_read_delay"`
		TypingTTL            string `koanf:"typing_ttl"`
		CompletionGrace      string `koanf:"completion_grace"`
	} `koanf:"sync"`
}

// defaults mirror the documented behavior; a missing config file still yields
// a runnable setup pointed at localhost.
var defaults = map[string]interface{}{
	"server.addr":                    ":8090",
	"engine.url":                     "http://localhost:8091",
	"engine.requests_per_second":     5.0,
	"engine.analysis_cache_ttl":      "5m",
	"engine.stats_cache_ttl":         "1m",
	"engine.cache_max_entries":       500,
	"channel.url":                    "ws://localhost:8092/channel",
	"channel.reconnect_max_attempts": 5,
	"channel.reconnect_base_delay":   "1s",
	"channel.reconnect_max_delay":    "5s",
	"channel.reconnect_multiplier":   2.0,
	"sync.notification_capacity":     100,
	"sync.auto_read_delay":           "5s",
	"sync.typing_ttl":                "10s",
	"sync.completion_grace":          "5s",
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(defaults, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./reviewdeck.toml", "$HOME/.reviewdeck.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix REVIEWDECK_
	k.Load(env.Provider("REVIEWDECK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REVIEWDECK_")), "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# ReviewDeck Configuration

[server]
addr = ":8090"
jwt_secret = "change-me"

[engine]
url = "http://localhost:8091"
token = "your-engine-token"
requests_per_second = 5.0
analysis_cache_ttl = "5m"
stats_cache_ttl = "1m"

[channel]
url = "ws://localhost:8092/channel"
token = "your-channel-token"
user_id = "your-user-id"
team_ids = []
reconnect_max_attempts = 5
reconnect_base_delay = "1s"
reconnect_max_delay = "5s"
reconnect_multiplier = 2.0

[sync]
notification_capacity = 100
auto_read_delay = "5s"
typing_ttl = "10s"
completion_grace = "5s"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if config.Engine.URL == "" {
		return fmt.Errorf("engine url is required")
	}
	if config.Channel.URL == "" {
		return fmt.Errorf("channel url is required")
	}
	if !strings.HasPrefix(config.Channel.URL, "ws://") && !strings.HasPrefix(config.Channel.URL, "wss://") {
		return fmt.Errorf("channel url must be a ws:// or wss:// endpoint")
	}
	if config.Channel.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("channel reconnect_max_attempts must be at least 1")
	}

	durations := map[string]string{
		"engine.analysis_cache_ttl":    config.Engine.AnalysisCacheTTL,
		"engine.stats_cache_ttl":       config.Engine.StatsCacheTTL,
		"channel.reconnect_base_delay": config.Channel.ReconnectBaseDelay,
		"channel.reconnect_max_delay":  config.Channel.ReconnectMaxDelay,
		"sync.auto_read_delay":         config.Sync.AutoReadDelay,
		"sync.typing_ttl":              config.Sync.TypingTTL,
		"sync.completion_grace":        config.Sync.CompletionGrace,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: invalid duration %q", key, raw)
		}
	}

	return nil
}

// Duration parses one of the config's duration strings, falling back when the
// value is empty or malformed. Validate reports malformed values up front, so
// the fallback only covers configs built in code.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
