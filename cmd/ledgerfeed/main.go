package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brojonat/ledgerfeed/service/config"
	"github.com/brojonat/ledgerfeed/service/ripple"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ledgerfeed",
		Usage: "XRP Ledger explorer and transfer feed CLI",
		Description: `A command-line tool for reading XRP Ledger accounts and managing the ledgerfeed service.

Ledger commands (balance, txs, tx, nodes) talk to the rippled nodes directly
unless --via-api is set. Watch and transfer commands always go through the API.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			balanceCommand(),
			txsCommand(),
			txCommand(),
			nodesCommand(),
			watchCommands(),
			transfersCommands(),
			scheduleCommands(),
			{
				Name:  "db",
				Usage: "Database commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listWatchedCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "ledgerfeed API URL",
				EnvVars: []string{"LEDGERFEED_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "via-api",
				Usage:   "Read ledger data through the API instead of the nodes",
				EnvVars: []string{"LEDGERFEED_VIA_API"},
			},
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Network id",
				Value:   ripple.NetworkID,
			},
			&cli.StringSliceFlag{
				Name:    "nodes",
				Usage:   "rippled JSON-RPC endpoints, in failover order",
				EnvVars: []string{"LEDGERFEED_XRP_NODES", "XRP_NODES"},
				Value:   cli.NewStringSlice(config.DefaultXRPNodes...),
			},
			&cli.StringFlag{
				Name:    "selection",
				Usage:   "Node selection policy: ordered, round_robin or random",
				EnvVars: []string{"LEDGERFEED_XRP_SELECTION", "XRP_NODE_SELECTION"},
				Value:   "ordered",
			},
			&cli.DurationFlag{
				Name:    "attempt-timeout",
				Usage:   "Timeout for a single node attempt",
				EnvVars: []string{"LEDGERFEED_XRP_ATTEMPT_TIMEOUT", "XRP_ATTEMPT_TIMEOUT"},
				Value:   10 * time.Second,
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"LEDGERFEED_DATABASE_URL", "DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"LEDGERFEED_NATS_URL", "NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for diagnostics on stderr",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Filter JSON output through a jq expression (implies --json)",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "ledgerfeed CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
