package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bryan-buckman/feedsync/internal/greader"
	"github.com/bryan-buckman/feedsync/internal/rss"
	"github.com/bryan-buckman/feedsync/internal/server"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the Reader API and refresh feeds in the background",
		Description: `Starts the HTTP server and the refresh loop.

		Every interval the loop drops items older than the retention window
		and fetches all subscriptions of all users. Stops gracefully on
		SIGINT or SIGTERM.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address, overrides the config file",
				EnvVars: []string{"FEEDSYNC_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "no-refresh",
				Usage:   "Serve without the background refresh loop",
				EnvVars: []string{"FEEDSYNC_NO_REFRESH"},
			},
		},
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			addr := e.cfg.Server.Addr
			if ctx.IsSet("addr") {
				addr = ctx.String("addr")
			}
			if len(e.cfg.Users) == 0 {
				log.Warn("No users configured, every API call will be rejected")
			}

			auth, err := server.NewStaticAuthenticator(e.cfg.Accounts())
			if err != nil {
				return err
			}

			var poller *rss.Poller
			if !ctx.Bool("no-refresh") {
				poller = rss.NewPoller(e.syncer, e.cfg.Sync.Interval.Duration)
			}
			srv := server.New(greader.NewService(e.store, e.store, e.syncer), poller, auth)

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.Start(addr)
			}()

			select {
			case err := <-errChan:
				if err != nil {
					// Listener failed; still stop the poller.
					shutdownErr := srv.Shutdown(context.Background())
					return errors.Join(err, shutdownErr)
				}
				return nil
			case <-sigCtx.Done():
			}

			log.Info("Gracefully shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			log.Info("Done!")
			return nil
		},
	}
}
