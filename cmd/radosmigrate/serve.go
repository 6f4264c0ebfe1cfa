package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/radosmigrate/internal/api"
	"github.com/andresuchdata/radosmigrate/internal/service"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

func serveCommand(deps *runtimeDeps) *cli.Command {
	return &cli.Command{
		Name:         "serve",
		Usage:        "Serve run history and live progress over HTTP",
		OnUsageError: usageError,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "Listen port", Value: deps.cfg.Server.Port},
		},
		Action: withRuns(deps, func(c *cli.Context, runs *service.RunService) error {
			if deps.cfg.Server.Mode == "debug" {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			router := api.NewRouter(&api.Services{RunService: runs}, deps.cfg.Server.AllowedOrigins)
			srv := &http.Server{
				Addr:         ":" + c.String("port"),
				Handler:      router,
				ReadTimeout:  time.Duration(deps.cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(deps.cfg.Server.WriteTimeout) * time.Second,
			}
			return serve(c.Context, srv)
		}),
	}
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return cli.Exit(fmt.Sprintf("server: %v", err), exitFatal)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return cli.Exit(fmt.Sprintf("server forced to shutdown: %v", err), exitFatal)
	}
	logger.Log.Info().Msg("Server exiting")
	return nil
}
