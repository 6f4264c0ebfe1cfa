package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/radosmigrate/internal/cache"
	"github.com/andresuchdata/radosmigrate/internal/cluster"
	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/internal/migrator"
	"github.com/andresuchdata/radosmigrate/internal/service"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

func exportFlag(cfg *config.Config) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "export",
		Aliases: []string{"e", "source"},
		Usage:   "Ceph configuration file of the cluster to export from",
		Value:   cfg.Source.ConfFile,
	}
}

func migrateFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		exportFlag(cfg),
		&cli.StringFlag{
			Name:    "import",
			Aliases: []string{"i", "dest"},
			Usage:   "Ceph configuration file of the cluster to import into",
			Value:   cfg.Dest.ConfFile,
		},
		&cli.StringFlag{Name: "source-user", Usage: "Client id on the export cluster", Value: cfg.Source.User},
		&cli.StringFlag{Name: "dest-user", Usage: "Client id on the import cluster", Value: cfg.Dest.User},
		&cli.StringFlag{Name: "source-keyring", Usage: "Keyring for the export cluster", Value: cfg.Source.Keyring},
		&cli.StringFlag{Name: "dest-keyring", Usage: "Keyring for the import cluster", Value: cfg.Dest.Keyring},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Concurrent object copies per pool",
			Value:   cfg.Migration.Workers,
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Maximum bytes per read call",
			Value: cfg.Migration.ChunkSizeBytes,
		},
		&cli.StringFlag{
			Name:  "pool-exists",
			Usage: "What to do with pools that already exist on the import cluster (skip, merge, fail)",
			Value: cfg.Migration.PoolExistsPolicy,
		},
		&cli.StringSliceFlag{
			Name:  "pool",
			Usage: "Only migrate this pool (repeatable)",
			Value: cli.NewStringSlice(cfg.Migration.IncludePools...),
		},
		&cli.StringSliceFlag{
			Name:  "exclude-pool",
			Usage: "Never migrate this pool (repeatable)",
			Value: cli.NewStringSlice(cfg.Migration.ExcludePools...),
		},
		&cli.BoolFlag{
			Name:  "no-placement",
			Usage: "Create pools with cluster defaults instead of the source pg_num/pgp_num/type",
			Value: !cfg.Migration.PreservePlacement,
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Read everything from the export cluster but write nothing",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the run summary as JSON",
		},
	}
}

func sourceConn(c *cli.Context, cfg *config.Config) cluster.ConnConfig {
	return cluster.ConnConfig{
		ConfFile:       c.String("export"),
		ClusterName:    cfg.Source.ClusterName,
		User:           c.String("source-user"),
		Keyring:        c.String("source-keyring"),
		MonHost:        cfg.Source.MonHost,
		ConnectTimeout: cfg.Source.ConnectTimeout,
	}
}

func destConn(c *cli.Context, cfg *config.Config) cluster.ConnConfig {
	return cluster.ConnConfig{
		ConfFile:       c.String("import"),
		ClusterName:    cfg.Dest.ClusterName,
		User:           c.String("dest-user"),
		Keyring:        c.String("dest-keyring"),
		MonHost:        cfg.Dest.MonHost,
		ConnectTimeout: cfg.Dest.ConnectTimeout,
	}
}

func optionsFromFlags(c *cli.Context) (migrator.Options, error) {
	policy, ok := domain.ParsePoolExistsPolicy(c.String("pool-exists"))
	if !ok {
		return migrator.Options{}, fmt.Errorf("invalid --pool-exists %q (want skip, merge or fail)", c.String("pool-exists"))
	}
	if c.Int("workers") < 1 {
		return migrator.Options{}, fmt.Errorf("--workers must be at least 1")
	}
	if c.Int("chunk-size") < 1 {
		return migrator.Options{}, fmt.Errorf("--chunk-size must be positive")
	}

	opts := migrator.DefaultOptions()
	opts.RunID = uuid.NewString()
	opts.Workers = c.Int("workers")
	opts.ChunkSize = c.Int("chunk-size")
	opts.PoolExists = policy
	opts.PreservePlacement = !c.Bool("no-placement")
	opts.DryRun = c.Bool("dry-run")
	opts.IncludePools = config.SplitList(c.StringSlice("pool"))
	opts.ExcludePools = config.SplitList(c.StringSlice("exclude-pool"))
	return opts, nil
}

func migrateAction(deps *runtimeDeps) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Args().Present() {
			return usageExit(c, "unexpected argument %q", c.Args().First())
		}
		if c.String("export") == "" || c.String("import") == "" {
			return usageExit(c, "both --export and --import are required")
		}
		opts, err := optionsFromFlags(c)
		if err != nil {
			return usageExit(c, "%v", err)
		}

		ctx := c.Context
		runs, release := openRunsBestEffort(ctx, deps)
		defer release()

		observers := migrator.Observers{migrator.LogObserver{RunID: opts.RunID}}
		if runs != nil {
			observers = append(observers, cache.NewProgressObserver(runs.Progress(), opts.RunID))
		}

		logger.Log.Info().
			Str("run_id", opts.RunID).
			Str("export", c.String("export")).
			Str("import", c.String("import")).
			Int("workers", opts.Workers).
			Str("pool_exists", string(opts.PoolExists)).
			Bool("dry_run", opts.DryRun).
			Msg("Starting migration")

		m := migrator.New(deps.connector, opts, observers)
		summary, runErr := m.RunWithSummary(ctx, sourceConn(c, deps.cfg), destConn(c, deps.cfg))

		if runs != nil {
			// The run context may already be cancelled; history is still written.
			if err := runs.Record(context.WithoutCancel(ctx), &summary); err != nil {
				logger.Log.Warn().Err(err).Str("run_id", summary.ID).Msg("Failed to record run")
			}
		}

		if c.Bool("json") {
			enc := json.NewEncoder(deps.stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
		} else {
			printSummary(deps.stdout, summary)
		}

		return migrationExit(summary, runErr)
	}
}

func migrationExit(summary domain.RunSummary, err error) error {
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return cli.Exit("migration interrupted", exitFatal)
	case err != nil:
		return cli.Exit(fmt.Sprintf("migration failed: %v", err), exitFatal)
	case summary.HasFailures():
		return cli.Exit("migration completed with failures", exitFailures)
	default:
		return nil
	}
}

// openRunsBestEffort wires the history sinks. A sink that cannot be reached
// is logged and left out; the migration itself never depends on it.
func openRunsBestEffort(ctx context.Context, deps *runtimeDeps) (*service.RunService, func()) {
	if deps.openRuns == nil {
		return nil, func() {}
	}
	svc, release, err := deps.openRuns(ctx, deps.cfg)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Run history unavailable, continuing without it")
		return nil, func() {}
	}
	return svc, release
}
