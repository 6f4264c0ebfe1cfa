package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

func poolsFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		exportFlag(cfg),
		&cli.StringFlag{Name: "source-user", Usage: "Client id on the cluster", Value: cfg.Source.User},
		&cli.StringFlag{Name: "source-keyring", Usage: "Keyring for the cluster", Value: cfg.Source.Keyring},
	}
}

func poolsAction(deps *runtimeDeps) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.String("export") == "" {
			return usageExit(c, "--export is required")
		}
		ctx := c.Context
		conn := sourceConn(c, deps.cfg)

		cl, err := deps.connector.Connect(ctx, conn)
		if err != nil {
			return cli.Exit(fmt.Sprintf("connect %s: %v", conn, err), exitFatal)
		}
		defer func() {
			if err := cl.Close(); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to close cluster handle")
			}
		}()

		names, err := cl.ListPools(ctx)
		if err != nil {
			return cli.Exit((&domain.DiscoveryError{Err: err}).Error(), exitFatal)
		}

		pools := make([]domain.PoolDescriptor, 0, len(names))
		for _, name := range names {
			desc, err := cl.DescribePool(ctx, name)
			if err != nil {
				logger.Log.Warn().Err(err).Str("pool", name).Msg("Could not read pool placement")
				desc = domain.PoolDescriptor{Name: name}
			}
			pools = append(pools, desc)
		}

		printPools(deps.stdout, pools)
		return nil
	}
}
