package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgerfeed/client"
	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/urfave/cli/v2"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the validated balance of an account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			src, err := getSource(c)
			if err != nil {
				return err
			}

			balance, err := src.Balance(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			return render(c, balance, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", balance.Balance.String(), balance.Symbol)
			})
		},
	}
}

func txsCommand() *cli.Command {
	return &cli.Command{
		Name:      "txs",
		Usage:     "List recent payments of an account",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max-pages",
				Usage: "Maximum number of history pages to fetch",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "marker",
				Usage: "Resume from the marker printed by a previous call",
			},
			&cli.StringFlag{
				Name:  "stop-at",
				Usage: "Stop before the transaction with this hash",
			},
			&cli.BoolFlag{
				Name:  "aggregate",
				Usage: "Sum transfers sharing sender, recipient and memo",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			if c.Int("max-pages") < 1 {
				return fmt.Errorf("--max-pages must be at least 1")
			}
			src, err := getSource(c)
			if err != nil {
				return err
			}

			result, err := src.Transfers(c.Context, c.Args().First(), client.ListOptions{
				Marker:    c.String("marker"),
				MaxPages:  c.Int("max-pages"),
				StopAt:    c.String("stop-at"),
				Aggregate: c.Bool("aggregate"),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			return render(c, result, func(w io.Writer) {
				printTransfers(w, result.Transfers)
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transfers from %d pages\n", result.Count, result.Pages)
				if result.NextMarker != "" {
					fmt.Fprintf(c.App.ErrWriter, "More: --marker %s\n", result.NextMarker)
				}
			})
		},
	}
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "Show the transfers of one transaction",
		ArgsUsage: "HASH",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "confirmations",
				Usage: "Count confirmations against the current validated ledger",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}
			src, err := getSource(c)
			if err != nil {
				return err
			}

			tx, err := src.Transaction(c.Context, c.Args().First(), c.Bool("confirmations"))
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			return render(c, tx, func(w io.Writer) {
				if len(tx.Transfers) == 0 {
					fmt.Fprintf(w, "%s is not a successful validated payment\n", tx.Hash)
					return
				}
				for _, t := range tx.Transfers {
					printTransferDetailed(w, t)
				}
			})
		},
	}
}

func nodesCommand() *cli.Command {
	return &cli.Command{
		Name:  "nodes",
		Usage: "Check every configured ledger node",
		Action: func(c *cli.Context) error {
			src, err := getSource(c)
			if err != nil {
				return err
			}

			report, err := src.Nodes(c.Context)
			if err != nil {
				return fmt.Errorf("failed to check nodes: %w", err)
			}

			if err := render(c, report, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NODE\tHEALTHY\tLATENCY\tLEDGER\tERROR")
				for _, n := range report.Nodes {
					ledger := "-"
					if n.LedgerIndex > 0 {
						ledger = fmt.Sprint(n.LedgerIndex)
					}
					fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n",
						n.Node, n.Healthy, n.Latency.Round(time.Millisecond), ledger, n.Error)
				}
				tw.Flush()
			}); err != nil {
				return err
			}

			if report.Healthy == 0 {
				return fmt.Errorf("no healthy nodes for %s", report.Network)
			}
			return nil
		},
	}
}

func printTransfers(w io.Writer, transfers []chain.TransferTx) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tLEDGER\tDATE\tFROM\tTO\tVALUE\tMEMO\tOK")
	for _, t := range transfers {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s %s\t%s\t%t\n",
			t.TxHash,
			t.BlockHeight,
			t.Date.Format(time.RFC3339),
			t.FromAddress,
			t.ToAddress,
			t.Value.String(),
			t.Symbol,
			optional(t.Memo, "-"),
			t.Success,
		)
	}
	tw.Flush()
}

func printTransferDetailed(w io.Writer, t chain.TransferTx) {
	fmt.Fprintf(w, "Hash:          %s\n", t.TxHash)
	fmt.Fprintf(w, "Success:       %t\n", t.Success)
	fmt.Fprintf(w, "From:          %s\n", t.FromAddress)
	fmt.Fprintf(w, "To:            %s\n", t.ToAddress)
	fmt.Fprintf(w, "Value:         %s %s\n", t.Value.String(), t.Symbol)
	fmt.Fprintf(w, "Fee:           %s %s\n", t.TxFee.String(), t.Symbol)
	fmt.Fprintf(w, "Memo:          %s\n", optional(t.Memo, "(none)"))
	fmt.Fprintf(w, "Ledger:        %d\n", t.BlockHeight)
	fmt.Fprintf(w, "Ledger Hash:   %s\n", optional(t.BlockHash, "(unknown)"))
	fmt.Fprintf(w, "Confirmations: %d\n", t.Confirmations)
	fmt.Fprintf(w, "Date:          %s\n", t.Date.Format(time.RFC3339))
	fmt.Fprintln(w)
}
