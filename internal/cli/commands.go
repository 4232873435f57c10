package cli

import (
	"fmt"
	"os"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bryan-buckman/feedsync/internal/config"
	"github.com/bryan-buckman/feedsync/internal/greader"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/rss"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Runs database migrations on the configured database. Will create the database if it does not exist.`,
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			fmt.Printf("%s database at %s is up to date\n", e.store.DatabaseType(), e.cfg.Database.DSN)
			return nil
		},
	}
}

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Run one refresh cycle and exit",
		Description: `Prunes items older than the retention window, then fetches every
		subscription of every user once.`,
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			stats := rss.NewPoller(e.syncer, e.cfg.Sync.Interval.Duration).RunOnce(ctx.Context)
			fmt.Printf("Refreshed %d subscriptions (%d failed), %d new items\n",
				stats.Subscriptions, stats.Failed, stats.NewItems)
			return nil
		},
	}
}

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Removes items older than the retention window.

		This keeps the database small. The refresh loop does the same on every cycle.`,
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.syncer.Prune(ctx.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d items\n", n)
			return nil
		},
	}
}

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe a user to one or more feeds",
		ArgsUsage: "<feed url>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User id from the config file",
				Required: true,
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return cli.Exit("at least one feed url is required", 1)
			}
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			user, err := configuredUser(e.cfg, ctx.String("user"))
			if err != nil {
				return err
			}

			failed := 0
			for _, feedURL := range lo.Uniq(ctx.Args().Slice()) {
				sub, err := e.syncer.AddSubscriptionFromURL(ctx.Context, user.ID, feedURL)
				if err != nil {
					failed++
					log.WithField("url", feedURL).WithError(err).Error("Subscribe failed")
					continue
				}
				fmt.Printf("%s\t%s\n", sub.ID, sub.Title)
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d feeds could not be subscribed", failed), 1)
			}
			return nil
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write a user's subscriptions as OPML to stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User id from the config file",
				Required: true,
			},
		},
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			user, err := configuredUser(e.cfg, ctx.String("user"))
			if err != nil {
				return err
			}
			data, err := greader.NewService(e.store, e.store, e.syncer).ExportOPML(ctx.Context, user)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func configuredUser(cfg config.Config, id string) (model.User, error) {
	u, ok := lo.Find(cfg.Users, func(u config.User) bool { return u.ID == id })
	if !ok {
		return model.User{}, fmt.Errorf("user %q is not configured", id)
	}
	return model.User{ID: u.ID, Email: u.Email}, nil
}
