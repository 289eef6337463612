package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gabapcia/xcmwatch/internal/config"

	"github.com/urfave/cli/v3"
)

// startCommand returns a CLI command that loads the configuration, builds the
// service and runs it.
//
// Usage example:
//
//	xcmwatch start --env-file prod.env
//
// The process runs until it receives an interrupt (SIGINT or SIGTERM) or ctx is done.
func startCommand(build Factory) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts monitoring every configured network and serves the subscription API.",
		Usage:       "Runs the service. Terminates gracefully on Ctrl+C or termination signals.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Environment files to load before reading the environment (default: .env when present)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(c.StringSlice("env-file")...)
			if err != nil {
				return err
			}

			svc, err := build(ctx, cfg)
			if err != nil {
				return err
			}

			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Close()

			<-ctx.Done()
			return nil
		},
	}
}
