package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgerfeed/client"
	"github.com/urfave/cli/v2"
)

func watchCommands() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Manage addresses the service polls for new transfers",
		Subcommands: []*cli.Command{
			watchAddCommand(),
			watchRemoveCommand(),
			watchListCommand(),
		},
	}
}

func watchAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Watch an address, or update its poll interval",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Poll interval (server default when unset)",
			},
			&cli.IntFlag{
				Name:  "max-pages",
				Usage: "History pages fetched per poll (server default when unset)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			watch, err := newAPIClient(c).Watch(c.Context, client.WatchRequest{
				Network:      c.String("network"),
				Address:      c.Args().First(),
				PollInterval: c.Duration("interval"),
				MaxPages:     c.Int("max-pages"),
			})
			if err != nil {
				return fmt.Errorf("failed to watch address: %w", err)
			}

			return render(c, watch, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Watching %s on %s every %s\n", watch.Address, watch.Network, watch.PollInterval)
			})
		},
	}
}

func watchRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Aliases:   []string{"remove"},
		Usage:     "Stop watching an address (stored transfers are kept)",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			network := c.String("network")
			address := c.Args().First()

			if err := newAPIClient(c).Unwatch(c.Context, network, address); err != nil {
				return fmt.Errorf("failed to unwatch address: %w", err)
			}

			return render(c, map[string]string{"network": network, "address": address, "status": "unwatched"}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Stopped watching %s on %s\n", address, network)
			})
		},
	}
}

func watchListCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Aliases: []string{"list"},
		Usage:   "List watched addresses",
		Action: func(c *cli.Context) error {
			watches, err := newAPIClient(c).ListWatches(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list watches: %w", err)
			}

			return render(c, watches, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NETWORK\tADDRESS\tPOLL INTERVAL\tLAST POLL\tLAST TX\tCREATED")
				for _, watch := range watches {
					lastPoll := "never"
					if watch.LastPolledAt != nil {
						lastPoll = watch.LastPolledAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\t%s\n",
						watch.Network,
						watch.Address,
						watch.PollInterval,
						lastPoll,
						optional(watch.LastTxHash, "-"),
						watch.CreatedAt.Format(time.RFC3339),
					)
				}
				tw.Flush()
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d watches\n", len(watches))
			})
		},
	}
}
