package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/reviewdeck/internal/analysis"
	"github.com/reviewdeck/internal/api"
	"github.com/reviewdeck/internal/cache"
	"github.com/reviewdeck/internal/config"
	"github.com/reviewdeck/internal/engine"
	"github.com/reviewdeck/internal/logging"
	"github.com/reviewdeck/internal/notifications"
	"github.com/reviewdeck/internal/presence"
	"github.com/reviewdeck/internal/realtime"
	"github.com/reviewdeck/internal/retry"
	"github.com/reviewdeck/internal/syncer"
	"github.com/reviewdeck/pkg/shared"
)

// ServeCommand returns the CLI command for running the sync core and its
// dashboard API.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Connect to the review server and serve the dashboard API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address for the dashboard API (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	logging.Setup(c.String("log-level"), c.Bool("pretty"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	addr := cfg.Server.Addr
	if c.String("addr") != "" {
		addr = c.String("addr")
	}

	sync := buildSyncer(cfg)
	defer sync.Stop()

	identity := shared.Identity{
		Token:   cfg.Channel.Token,
		UserID:  cfg.Channel.UserID,
		TeamIDs: cfg.Channel.TeamIDs,
	}

	// A dead channel at boot is not fatal: the manager keeps the error state
	// and a later Connect can be triggered once the server is reachable.
	if err := sync.Start(context.Background(), identity); err != nil {
		log.Error().Err(err).Msg("Initial channel connect failed, serving with local state only")
	}

	log.Info().
		Str("addr", addr).
		Str("channel_url", cfg.Channel.URL).
		Str("engine_url", cfg.Engine.URL).
		Msg("Starting reviewdeck")

	server := api.NewServer(api.Options{
		Addr:      addr,
		JWTSecret: cfg.Server.JWTSecret,
		Syncer:    sync,
	})
	return server.Start()
}

func buildSyncer(cfg *config.Config) *syncer.Syncer {
	resultCache := cache.New(cache.Options{MaxSize: cfg.Engine.CacheMaxEntries})

	engineClient := engine.NewClient(engine.Options{
		BaseURL:     cfg.Engine.URL,
		Token:       cfg.Engine.Token,
		Cache:       resultCache,
		AnalysisTTL: config.Duration(cfg.Engine.AnalysisCacheTTL, engine.DefaultAnalysisTTL),
		StatsTTL:    config.Duration(cfg.Engine.StatsCacheTTL, engine.DefaultStatsTTL),
		Limiter:     rate.NewLimiter(rate.Limit(cfg.Engine.RequestsPerSecond), int(cfg.Engine.RequestsPerSecond)+1),
	})

	manager := realtime.NewManager(realtime.Options{
		URL: cfg.Channel.URL,
		Retry: retry.Config{
			MaxAttempts: cfg.Channel.ReconnectMaxAttempts,
			BaseDelay:   config.Duration(cfg.Channel.ReconnectBaseDelay, time.Second),
			MaxDelay:    config.Duration(cfg.Channel.ReconnectMaxDelay, 5*time.Second),
			Multiplier:  cfg.Channel.ReconnectMultiplier,
			Jitter:      true,
			LogRetries:  true,
		},
	})

	return syncer.New(syncer.Options{
		Channel: manager,
		Engine:  engineClient,
		Analyses: analysis.NewTracker(analysis.Options{
			GracePeriod: config.Duration(cfg.Sync.CompletionGrace, 5*time.Second),
		}),
		Notifications: notifications.NewStore(notifications.Options{
			Capacity:      cfg.Sync.NotificationCapacity,
			AutoReadDelay: config.Duration(cfg.Sync.AutoReadDelay, 5*time.Second),
		}),
		Presence: presence.NewTracker(presence.Options{
			TypingTTL: config.Duration(cfg.Sync.TypingTTL, 10*time.Second),
		}),
	})
}
