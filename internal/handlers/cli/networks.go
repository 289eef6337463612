package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/gabapcia/xcmwatch/internal/config"

	"github.com/urfave/cli/v3"
)

// networksCommand returns a CLI command printing the configured networks.
//
// Usage example:
//
//	xcmwatch networks --file networks.yaml
func networksCommand() *cli.Command {
	return &cli.Command{
		Name:        "networks",
		Description: "Validates the network file and prints every network it lists.",
		Usage:       "Prints the configured networks.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Usage:   "Path of the network file",
				Value:   "networks.yaml",
				Sources: cli.EnvVars(config.Prefix + "_NETWORKS_FILE"),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			networks, err := config.LoadNetworks(c.String("file"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER")
			for _, n := range networks {
				fmt.Fprintf(w, "%s\t%s\t%s\n", n.ID, n.Name, n.Provider)
			}
			return w.Flush()
		},
	}
}
