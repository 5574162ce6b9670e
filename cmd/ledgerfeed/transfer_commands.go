package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgerfeed/client"
	natspkg "github.com/brojonat/ledgerfeed/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func transfersCommands() *cli.Command {
	return &cli.Command{
		Name:  "transfers",
		Usage: "Stored transfers of watched addresses",
		Subcommands: []*cli.Command{
			transfersListCommand(),
			transfersFollowCommand(),
		},
	}
}

func transfersListCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Aliases: []string{"list"},
		Usage:   "List stored transfers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Filter by watched address (uses --network)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Limit number of transfers",
				Value: 50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many transfers",
			},
		},
		Action: func(c *cli.Context) error {
			filter := client.StoredFilter{
				Address: c.String("address"),
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			}
			if filter.Address != "" || c.IsSet("network") {
				filter.Network = c.String("network")
			}

			transfers, err := newAPIClient(c).ListStoredTransfers(c.Context, filter)
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			return render(c, transfers, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NETWORK\tADDRESS\tDIRECTION\tHASH\tLEDGER\tVALUE\tMEMO\tDATE")
				for _, t := range transfers {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s %s\t%s\t%s\n",
						t.Network,
						t.Address,
						t.Direction,
						t.TxHash,
						t.BlockHeight,
						t.Value.String(),
						t.Symbol,
						optional(t.Memo, "-"),
						t.Date.Format(time.RFC3339),
					)
				}
				tw.Flush()
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transfers\n", len(transfers))
			})
		},
	}
}

// transfersFollowCommand streams newly stored transfers from JetStream.
func transfersFollowCommand() *cli.Command {
	return &cli.Command{
		Name:      "follow",
		Usage:     "Stream transfers as the worker stores them",
		ArgsUsage: "[ADDRESS]",
		Description: `Subscribe to transfer events published to NATS JetStream.

Events are published to the subject transfers.{network}.{address}. Without an
address every watched address of the network is followed.

Example:
  ledgerfeed transfers follow rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "ledgerfeed-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: account address")
			}

			subject := fmt.Sprintf("%s.%s.*", natspkg.SubjectPrefix, c.String("network"))
			if c.NArg() == 1 {
				subject = (&natspkg.TransferEvent{Network: c.String("network"), Address: c.Args().First()}).Subject()
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return followTransfers(ctx, c, subject)
		},
	}
}

func followTransfers(ctx context.Context, c *cli.Context, subject string) error {
	natsURL := c.String("nats-url")
	durable := c.Bool("durable")
	consumerName := c.String("consumer-name")
	jsonOutput := c.Bool("json") || c.String("jq") != ""

	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(c.App.ErrWriter, "   NATS: %s\n", natsURL)
		if durable {
			fmt.Fprintf(c.App.ErrWriter, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(c.App.ErrWriter, "\nWaiting for transfers... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			count++

			if err := render(c, event, func(w io.Writer) { printTransferEvent(w, count, &event) }); err != nil {
				return err
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "\n\n✅ Received %d transfers\n", count)
			}
			return nil
		}
	}
}

func printTransferEvent(w io.Writer, n int, event *natspkg.TransferEvent) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Transfer #%d (%s)\n", n, event.Direction)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Hash:         %s\n", event.TxHash)
	fmt.Fprintf(w, "Address:      %s\n", event.Address)
	fmt.Fprintf(w, "From:         %s\n", event.FromAddress)
	fmt.Fprintf(w, "To:           %s\n", event.ToAddress)
	fmt.Fprintf(w, "Value:        %s %s\n", event.Value.String(), event.Symbol)
	fmt.Fprintf(w, "Ledger:       %d\n", event.BlockHeight)
	fmt.Fprintf(w, "Date:         %s\n", event.Date.Format(time.RFC3339))
	if event.Memo != nil {
		fmt.Fprintf(w, "Memo:         %s\n", *event.Memo)
	}
	fmt.Fprintf(w, "Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "\n")
}
