// Package cli wires the feedsync commands.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bryan-buckman/feedsync/internal/config"
	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/rss"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedsync",
		Usage: "A Google Reader compatible feed aggregator",
		Description: `Feedsync polls RSS and Atom feeds on behalf of its users and
		serves the collected items over the Google Reader API, so existing
		mobile and desktop readers can sync against it.

		Flags can generally be set via environment variables or a .env file, e.g.:

		--database => FEEDSYNC_DATABASE=feedsync.db
		--addr => FEEDSYNC_ADDR=:8080
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "feedsync.toml",
				Usage:   "TOML configuration file",
				EnvVars: []string{"FEEDSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite file or postgres:// URL, overrides the config file",
				EnvVars: []string{"FEEDSYNC_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FEEDSYNC_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"FEEDSYNC_LOG_FORMAT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			return setupLogging(ctx.String("log-level"), ctx.String("log-format"))
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			refreshCmd(),
			tidyCmd(),
			subscribeCmd(),
			exportCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// LoadEnv reads .env into the process environment before flags are parsed.
// A missing file is fine.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to read .env")
	}
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if ctx.IsSet("database") {
		cfg.Database.DSN = ctx.String("database")
	}
	return cfg, nil
}

// engine is the store and sync service shared by the commands.
type engine struct {
	cfg    config.Config
	store  *database.SQLStore
	syncer *rss.Syncer
}

func openEngine(ctx *cli.Context) (*engine, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	store, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	log.WithField("type", store.DatabaseType()).Info("Database opened")

	fetcher := rss.NewFetcher(cfg.Fetcher(), nil)
	return &engine{
		cfg:    cfg,
		store:  store,
		syncer: rss.NewSyncer(store, store, fetcher, cfg.Sync.Retention.Duration),
	}, nil
}

func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}
