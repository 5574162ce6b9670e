package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/ledgerfeed/client"
	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/cluster"
	"github.com/brojonat/ledgerfeed/service/ripple"
	"github.com/urfave/cli/v2"
)

// ledgerSource answers the read-only ledger commands either from the nodes
// or from the API. Both return the API's response shapes.
type ledgerSource interface {
	Balance(ctx context.Context, address string) (*client.Balance, error)
	Transfers(ctx context.Context, address string, opts client.ListOptions) (*client.AddressTransfers, error)
	Transaction(ctx context.Context, hash string, confirmations bool) (*client.Transaction, error)
	Nodes(ctx context.Context) (*client.NodesReport, error)
}

func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newAPIClient(c *cli.Context) *client.Client {
	return client.New(strings.TrimRight(c.String("server"), "/"), nil, newLogger(c))
}

// getSource picks the API or a direct node cluster from the global flags.
func getSource(c *cli.Context) (ledgerSource, error) {
	network := c.String("network")
	if c.Bool("via-api") {
		return &apiSource{client: newAPIClient(c), network: network}, nil
	}

	explorer, err := newExplorer(c)
	if err != nil {
		return nil, err
	}
	registry := chain.NewRegistry(explorer)
	e, err := registry.Get(network)
	if err != nil {
		return nil, err
	}
	return &directSource{explorer: e}, nil
}

func newExplorer(c *cli.Context) (*ripple.Explorer, error) {
	logger := newLogger(c)

	selection, err := cluster.ParseSelection(c.String("selection"))
	if err != nil {
		return nil, err
	}
	rpc, err := cluster.New(ripple.NetworkID, c.StringSlice("nodes"),
		cluster.WithSelection(selection),
		cluster.WithAttemptTimeout(c.Duration("attempt-timeout")),
		cluster.WithRetryableErrors(ripple.OverloadCodes...),
		cluster.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create node cluster: %w", err)
	}
	return ripple.NewExplorer(rpc, 0, nil, logger), nil
}

// apiSource reads through the ledgerfeed API.
type apiSource struct {
	client  *client.Client
	network string
}

func (s *apiSource) Balance(ctx context.Context, address string) (*client.Balance, error) {
	return s.client.GetBalance(ctx, s.network, address)
}

func (s *apiSource) Transfers(ctx context.Context, address string, opts client.ListOptions) (*client.AddressTransfers, error) {
	return s.client.ListAddressTransfers(ctx, s.network, address, opts)
}

func (s *apiSource) Transaction(ctx context.Context, hash string, confirmations bool) (*client.Transaction, error) {
	return s.client.GetTransaction(ctx, s.network, hash, confirmations)
}

func (s *apiSource) Nodes(ctx context.Context) (*client.NodesReport, error) {
	return s.client.Nodes(ctx, s.network)
}

// directSource reads from the ledger nodes.
type directSource struct {
	explorer chain.Explorer
}

func (s *directSource) Balance(ctx context.Context, address string) (*client.Balance, error) {
	balance, err := s.explorer.GetBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	return &client.Balance{
		Network: s.explorer.Network().ID,
		Address: address,
		Balance: balance,
		Symbol:  s.explorer.Network().Symbol,
	}, nil
}

func (s *directSource) Transfers(ctx context.Context, address string, opts client.ListOptions) (*client.AddressTransfers, error) {
	cursor, err := chain.DecodeCursor(opts.Marker)
	if err != nil {
		return nil, fmt.Errorf("invalid marker: %w", err)
	}

	walk, err := chain.WalkAddressTxs(ctx, s.explorer, address, chain.WalkOptions{
		Cursor:     cursor,
		MaxPages:   opts.MaxPages,
		StopAtHash: opts.StopAt,
	})
	if err != nil {
		return nil, err
	}

	transfers := walk.Transfers
	if opts.Aggregate {
		transfers = chain.AggregateByMemo(transfers)
	}
	next, err := chain.EncodeCursor(walk.NextCursor)
	if err != nil {
		return nil, err
	}
	return &client.AddressTransfers{
		Network:    s.explorer.Network().ID,
		Address:    address,
		Transfers:  transfers,
		Count:      len(transfers),
		Pages:      walk.Pages,
		NextMarker: next,
	}, nil
}

func (s *directSource) Transaction(ctx context.Context, hash string, confirmations bool) (*client.Transaction, error) {
	resp, err := s.explorer.GetTxDetails(ctx, hash)
	if err != nil {
		return nil, err
	}

	var ref *int64
	if confirmations {
		head, err := s.explorer.GetBlockHead(ctx)
		if err != nil {
			return nil, err
		}
		ref = &head
	}

	transfers, err := s.explorer.ParseTxDetails(resp, ref)
	if err != nil {
		return nil, err
	}
	return &client.Transaction{
		Network:   s.explorer.Network().ID,
		Hash:      hash,
		Transfers: transfers,
	}, nil
}

func (s *directSource) Nodes(ctx context.Context) (*client.NodesReport, error) {
	nodes := s.explorer.CheckNodes(ctx)
	healthy := 0
	for _, n := range nodes {
		if n.Healthy {
			healthy++
		}
	}
	return &client.NodesReport{
		Network: s.explorer.Network().ID,
		Healthy: healthy,
		Nodes:   nodes,
	}, nil
}
