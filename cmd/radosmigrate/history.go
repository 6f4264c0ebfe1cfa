package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/internal/service"
)

func historyCommand(deps *runtimeDeps) *cli.Command {
	return &cli.Command{
		Name:         "history",
		Usage:        "List recorded migration runs",
		OnUsageError: usageError,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs", Value: 20},
			&cli.StringSliceFlag{Name: "state", Usage: "Only runs in this state (repeatable)"},
			&cli.StringFlag{Name: "pool", Usage: "Only runs that touched this pool"},
			&cli.BoolFlag{Name: "json", Usage: "Print runs as JSON"},
		},
		Action: withRuns(deps, func(c *cli.Context, runs *service.RunService) error {
			filter := domain.RunFilter{Limit: c.Int("limit"), Pool: strings.TrimSpace(c.String("pool"))}
			for _, raw := range c.StringSlice("state") {
				state, ok := domain.ParseRunState(raw)
				if !ok {
					return usageExit(c, "unknown state %q", raw)
				}
				filter.States = append(filter.States, state)
			}

			list, err := runs.ListRuns(c.Context, filter)
			if err != nil {
				return cli.Exit(fmt.Sprintf("list runs: %v", err), exitFatal)
			}
			if c.Bool("json") {
				enc := json.NewEncoder(deps.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			printRuns(deps.stdout, list)
			return nil
		}),
		Subcommands: []*cli.Command{
			{
				Name:         "show",
				Usage:        "Show one run with its pool reports and failures",
				ArgsUsage:    "<run-id>",
				OnUsageError: usageError,
				Action: withRuns(deps, func(c *cli.Context, runs *service.RunService) error {
					if c.NArg() != 1 {
						return usageExit(c, "expected exactly one run id")
					}
					summary, err := runs.GetRun(c.Context, c.Args().First())
					if err != nil {
						return cli.Exit(fmt.Sprintf("get run: %v", err), exitFatal)
					}
					printSummary(deps.stdout, *summary)
					return nil
				}),
			},
			{
				Name:         "prune",
				Usage:        "Delete runs older than the given age",
				OnUsageError: usageError,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Usage: "Age threshold, e.g. 720h"},
				},
				Action: withRuns(deps, func(c *cli.Context, runs *service.RunService) error {
					if c.Duration("older-than") <= 0 {
						return usageExit(c, "--older-than must be positive")
					}
					deleted, err := runs.Prune(c.Context, c.Duration("older-than"))
					if err != nil {
						return cli.Exit(fmt.Sprintf("prune runs: %v", err), exitFatal)
					}
					fmt.Fprintf(deps.stdout, "Deleted %d run(s)\n", deleted)
					return nil
				}),
			},
		},
	}
}

// withRuns opens the run history service for the duration of one action.
func withRuns(deps *runtimeDeps, fn func(*cli.Context, *service.RunService) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if deps.openRuns == nil {
			return cli.Exit("run history is not configured", exitFatal)
		}
		runs, release, err := deps.openRuns(c.Context, deps.cfg)
		if err != nil {
			return cli.Exit(fmt.Sprintf("open run history: %v", err), exitFatal)
		}
		defer release()
		return fn(c, runs)
	}
}
