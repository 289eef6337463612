package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gabapcia/xcmwatch/internal/config"
	"github.com/gabapcia/xcmwatch/internal/handlers/cli"
	"github.com/gabapcia/xcmwatch/internal/server"
)

func build(ctx context.Context, cfg config.Config) (cli.Service, error) {
	svc, err := server.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func main() {
	if err := cli.Run(context.Background(), build); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
