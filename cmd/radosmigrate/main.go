package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/radosmigrate/internal/cluster"
	"github.com/andresuchdata/radosmigrate/internal/cluster/rados"
	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/service"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

const (
	exitOK       = 0
	exitFatal    = 1
	exitUsage    = 2
	exitFailures = 3
)

// runtimeDeps are the collaborators the commands need. Tests swap them for
// in-memory versions.
type runtimeDeps struct {
	cfg       *config.Config
	connector cluster.Connector
	stdout    io.Writer
	stderr    io.Writer
	// openRuns builds the run history service. The returned func releases it.
	openRuns func(ctx context.Context, cfg *config.Config) (*service.RunService, func(), error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger.SetFormat(cfg.Log.Format)
	logger.SetLevel(cfg.Log.Level)

	app := newApp(&runtimeDeps{
		cfg:       cfg,
		connector: rados.NewConnector(),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		openRuns:  openRunService,
	})

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, "radosmigrate:", msg)
		}
	}
	stop()
	os.Exit(exitCode(err))
}

func newApp(deps *runtimeDeps) *cli.App {
	return &cli.App{
		Name:      "radosmigrate",
		Usage:     "Copy every pool, object and extended attribute from one Ceph cluster to another",
		UsageText: "radosmigrate [command] -e <export ceph.conf> -i <import ceph.conf> [options]",
		Writer:    deps.stdout,
		ErrWriter: deps.stderr,
		Flags:     append(globalFlags(deps.cfg), migrateFlags(deps.cfg)...),
		Before: func(c *cli.Context) error {
			if c.IsSet("log-level") {
				logger.SetLevel(c.String("log-level"))
			}
			if c.IsSet("log-format") {
				logger.SetFormat(c.String("log-format"))
			}
			return nil
		},
		Action:         migrateAction(deps),
		OnUsageError:   usageError,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:         "migrate",
				Usage:        "Replicate all pools from the export cluster into the import cluster (default)",
				Flags:        migrateFlags(deps.cfg),
				Action:       migrateAction(deps),
				OnUsageError: usageError,
			},
			{
				Name:         "pools",
				Usage:        "List pools and placement metadata on a cluster",
				Flags:        poolsFlags(deps.cfg),
				Action:       poolsAction(deps),
				OnUsageError: usageError,
			},
			historyCommand(deps),
			serveCommand(deps),
		},
	}
}

func globalFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (debug, info, warn, error)",
			Value: cfg.Log.Level,
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format (console, json)",
			Value: cfg.Log.Format,
		},
	}
}

func usageError(c *cli.Context, err error, _ bool) error {
	showHelp(c)
	return cli.Exit(err.Error(), exitUsage)
}

func usageExit(c *cli.Context, format string, args ...any) error {
	showHelp(c)
	return cli.Exit(fmt.Sprintf(format, args...), exitUsage)
}

func showHelp(c *cli.Context) {
	if c.Command == nil || c.Command.Name == "" || c.Command.Name == c.App.Name {
		_ = cli.ShowAppHelp(c)
		return
	}
	_ = cli.ShowSubcommandHelp(c)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitFatal
}
