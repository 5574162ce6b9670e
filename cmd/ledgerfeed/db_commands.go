package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			version, err := db.Migrate(c.Context, pool)
			if err != nil {
				return err
			}

			return render(c, map[string]int64{"version": version}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Database at schema version %d\n", version)
			})
		},
	}
}

func listWatchedCommand() *cli.Command {
	return &cli.Command{
		Name:  "watches",
		Usage: "List watched addresses straight from the database",
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			watches, err := db.NewStore(pool, nil).ListWatchedAddresses(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list watched addresses: %w", err)
			}

			return render(c, watches, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NETWORK\tADDRESS\tPOLL INTERVAL\tLAST POLL\tLAST TX")
				for _, watch := range watches {
					lastPoll := "never"
					if watch.LastPolledAt != nil {
						lastPoll = watch.LastPolledAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\n",
						watch.Network, watch.Address, watch.PollInterval, lastPoll, optional(watch.LastTxHash, "-"))
				}
				tw.Flush()
			})
		},
	}
}

// Helper function to connect to database
func getPool(c *cli.Context) (*pgxpool.Pool, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
