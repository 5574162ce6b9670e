package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/brojonat/ledgerfeed/service/temporal"
	"github.com/urfave/cli/v2"
)

func scheduleCommands() *cli.Command {
	return &cli.Command{
		Name:  "schedules",
		Usage: "Temporal polling schedule commands",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"LEDGERFEED_TEMPORAL_HOST", "TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"LEDGERFEED_TEMPORAL_NAMESPACE", "TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue for created schedules",
				EnvVars: []string{"LEDGERFEED_TEMPORAL_TASK_QUEUE", "TEMPORAL_TASK_QUEUE"},
				Value:   "ledgerfeed-address-polling",
			},
		},
		Subcommands: []*cli.Command{
			listSchedulesCommand(),
			reconcileCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		newLogger(c),
	)
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Aliases: []string{"list"},
		Usage:   "List address polling schedules",
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			schedules, err := temporalClient.ListAddressSchedules(c.Context)
			if err != nil {
				return err
			}

			return render(c, schedules, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SCHEDULE ID\tNETWORK\tADDRESS")
				for _, s := range schedules {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Network, s.Address)
				}
				tw.Flush()
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d schedules\n", len(schedules))
			})
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Check for inconsistencies between watched addresses and Temporal schedules",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "Create missing schedules and delete orphaned ones",
			},
			&cli.IntFlag{
				Name:  "max-pages",
				Usage: "History pages per poll for created schedules",
				Value: 10,
			},
		},
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			watches, err := db.NewStore(pool, nil).ListWatchedAddresses(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list watched addresses: %w", err)
			}
			schedules, err := temporalClient.ListAddressSchedules(c.Context)
			if err != nil {
				return err
			}

			result := temporal.Reconcile(watches, schedules)
			if err := render(c, result, func(w io.Writer) {
				if result.Consistent() {
					fmt.Fprintln(w, "✓ Every watched address has exactly one schedule")
					return
				}
				for _, m := range result.Missing {
					fmt.Fprintf(w, "missing schedule:  %s %s\n", m.Network, m.Address)
				}
				for _, o := range result.Orphaned {
					fmt.Fprintf(w, "orphaned schedule: %s\n", o.ID)
				}
			}); err != nil {
				return err
			}

			if result.Consistent() {
				return nil
			}
			if !c.Bool("fix") {
				return fmt.Errorf("found %d missing and %d orphaned schedules (run with --fix to repair)",
					len(result.Missing), len(result.Orphaned))
			}
			if err := result.Apply(c.Context, temporalClient, c.Int("max-pages")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "✓ Fixed %d missing and %d orphaned schedules\n",
				len(result.Missing), len(result.Orphaned))
			return nil
		},
	}
}
