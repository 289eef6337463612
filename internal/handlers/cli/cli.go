package cli

import (
	"context"
	"os"

	"github.com/gabapcia/xcmwatch/internal/config"

	"github.com/urfave/cli/v3"
)

// Service is the monitoring pipeline run by the start command.
type Service interface {
	Start(ctx context.Context) error
	Close()
}

// Factory builds the Service from the loaded configuration.
type Factory func(ctx context.Context, cfg config.Config) (Service, error)

func newApp(build Factory) *cli.Command {
	return &cli.Command{
		EnableShellCompletion: true,
		Name:                  "xcmwatch",
		Description:           "Monitors cross-chain messages and notifies their subscribers.",
		Usage:                 "xcmwatch [command] [flags]",
		Commands: []*cli.Command{
			startCommand(build),
			networksCommand(),
		},
	}
}

// Run initializes and executes the xcmwatch CLI application.
//
// It registers the following commands:
//
//   - `start`: Loads the configuration and runs the service until interrupted.
//   - `networks`: Prints the networks listed in the network file.
func Run(ctx context.Context, build Factory) error {
	return newApp(build).Run(ctx, os.Args)
}
