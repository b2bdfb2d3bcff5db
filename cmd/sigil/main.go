package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"

	"github.com/arborlabs/sigil/catalog"
	"github.com/arborlabs/sigil/dedup"
	"github.com/arborlabs/sigil/jetstream"
	"github.com/arborlabs/sigil/labeler"
	"github.com/arborlabs/sigil/store"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "sigil",
		Usage:   "labeler daemon: likes on marker posts become account labels",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the labeler daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "feed-host",
			Usage:   "method, hostname, and port of the upstream event feed",
			Value:   "wss://jetstream1.us-east.bsky.network",
			EnvVars: []string{"SIGIL_FEED_HOST"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/sigil/sigil.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   10,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "catalog-file",
			Usage:   "path to the label catalog JSON file",
			Value:   "labels.json",
			EnvVars: []string{"SIGIL_CATALOG_FILE"},
		},
		&cli.StringFlag{
			Name:     "authority-did",
			Usage:    "DID of the account that owns the marker posts",
			Required: true,
			EnvVars:  []string{"SIGIL_AUTHORITY_DID"},
		},
		&cli.StringFlag{
			Name:     "mod-service-host",
			Usage:    "method, hostname, and port of the moderation service",
			Required: true,
			EnvVars:  []string{"SIGIL_MOD_SERVICE_HOST"},
		},
		&cli.StringFlag{
			Name:    "mod-handle",
			Usage:   "handle of the moderation service account",
			EnvVars: []string{"SIGIL_MOD_HANDLE"},
		},
		&cli.StringFlag{
			Name:    "mod-password",
			Usage:   "password of the moderation service account",
			EnvVars: []string{"SIGIL_MOD_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "mod-admin-token",
			Usage:   "admin token for privileged moderation calls",
			EnvVars: []string{"SIGIL_MOD_ADMIN_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "label-rate-limit",
			Usage:   "max label applications per second",
			Value:   5,
			EnvVars: []string{"SIGIL_LABEL_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "cursor-policy",
			Usage:   "startup cursor policy: resume or skip-to-now",
			Value:   string(store.ResumeFromStored),
			EnvVars: []string{"SIGIL_CURSOR_POLICY"},
		},
		&cli.DurationFlag{
			Name:    "checkpoint-interval",
			Usage:   "how often to persist the stream cursor",
			Value:   5 * time.Second,
			EnvVars: []string{"SIGIL_CHECKPOINT_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "shutdown-timeout",
			Usage:   "grace period for draining in-flight events on shutdown",
			Value:   7 * time.Second,
			EnvVars: []string{"SIGIL_SHUTDOWN_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "parallelism",
			Usage:   "number of event workers",
			Value:   4,
			EnvVars: []string{"SIGIL_PARALLELISM"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			Value:   ":3989",
			EnvVars: []string{"SIGIL_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		authority, err := syntax.ParseDID(cctx.String("authority-did"))
		if err != nil {
			return fmt.Errorf("invalid authority DID: %w", err)
		}

		cat, err := catalog.LoadFromFileJSON(cctx.String("catalog-file"))
		if err != nil {
			return fmt.Errorf("loading label catalog: %w", err)
		}
		logger.Info("loaded label catalog", "path", cctx.String("catalog-file"), "labels", cat.Size())

		policy, err := store.ParseResumePolicy(cctx.String("cursor-policy"))
		if err != nil {
			return err
		}

		db, err := store.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		cursors, err := store.NewCursorStore(db, policy)
		if err != nil {
			return err
		}

		mod, err := labeler.NewModServiceClient(ctx, labeler.ModServiceConfig{
			Host:       cctx.String("mod-service-host"),
			AdminToken: cctx.String("mod-admin-token"),
			Handle:     cctx.String("mod-handle"),
			Password:   cctx.String("mod-password"),
			RateLimit:  cctx.Int("label-rate-limit"),
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		seen := dedup.NewCache(dedup.DefaultRetention, dedup.DefaultSweepInterval)
		go seen.RunSweeper(ctx)

		engine := labeler.NewEngine(logger, authority, cat, seen, mod)

		consumer := jetstream.NewConsumer(jetstream.Config{
			Endpoint:    cctx.String("feed-host"),
			Collection:  "app.bsky.feed.like",
			Parallelism: cctx.Int("parallelism"),
			Policy:      jetstream.DefaultReconnectPolicy(),
			IdleTimeout: time.Minute,
			Logger:      logger,
		}, cursors.Load, engine.HandleEvent)

		srv := &Server{
			logger:          logger,
			db:              db,
			cursors:         cursors,
			consumer:        consumer,
			mod:             mod,
			checkpointEvery: cctx.Duration("checkpoint-interval"),
			shutdownTimeout: cctx.Duration("shutdown-timeout"),
		}

		logger.Info("starting sigil",
			"version", versioninfo.Short(),
			"feed", cctx.String("feed-host"),
			"authority", authority,
		)
		return srv.Run(ctx, cctx.String("metrics-listen"))
	},
}
