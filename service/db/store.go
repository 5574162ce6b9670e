package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned by InsertTransfer when the transfer is already
// stored for that address.
var ErrDuplicate = errors.New("transfer already stored")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// A nil metrics disables query recording.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Transfer is a canonical transfer as stored for one watched address. The
// same ledger transaction is stored once per address it involves.
type Transfer struct {
	Network   string          `json:"network"`
	Address   string          `json:"address"`
	Direction chain.Direction `json:"direction"`
	chain.TransferTx
	CreatedAt time.Time `json:"created_at"`
}

// WatchedAddress is an address polled for new transfers.
type WatchedAddress struct {
	Network      string        `json:"network"`
	Address      string        `json:"address"`
	PollInterval time.Duration `json:"poll_interval"`
	LastPolledAt *time.Time    `json:"last_polled_at,omitempty"`
	LastTxHash   *string       `json:"last_tx_hash,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ListTransfersParams contains filter and pagination parameters. Empty
// Network or Address match everything.
type ListTransfersParams struct {
	Network string
	Address string
	Limit   int32
	Offset  int32
}

// UpsertWatchedAddressParams contains the parameters for watching an address.
type UpsertWatchedAddressParams struct {
	Network      string
	Address      string
	PollInterval time.Duration
}

const transferColumns = `network, address, tx_hash, direction, success, from_address, to_address,
	value::text, symbol, tx_fee::text, confirmations, block_height, block_hash, tx_date, memo, created_at`

const watchedColumns = `network, address, poll_interval_ms, last_polled_at, last_tx_hash, created_at, updated_at`

// observe records query duration and outcome.
func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrDuplicate) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// InsertTransfer stores tx for address. It returns ErrDuplicate when the
// (network, tx_hash, address) row already exists.
func (s *Store) InsertTransfer(ctx context.Context, network, address string, tx chain.TransferTx) (_ *Transfer, err error) {
	defer func(start time.Time) { s.observe("insert", "transfers", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (
			network, address, tx_hash, direction, success, from_address, to_address,
			value, symbol, tx_fee, confirmations, block_height, block_hash, tx_date, memo
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10::numeric, $11, $12, $13, $14, $15)
		ON CONFLICT (network, tx_hash, address) DO NOTHING
		RETURNING `+transferColumns,
		network, address, tx.TxHash, string(tx.Direction(address)), tx.Success, tx.FromAddress, tx.ToAddress,
		tx.Value.String(), tx.Symbol, tx.TxFee.String(), tx.Confirmations, tx.BlockHeight, tx.BlockHash,
		tx.Date.UTC(), tx.Memo,
	)

	t, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s for %s", ErrDuplicate, network, tx.TxHash, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert transfer: %w", err)
	}
	return t, nil
}

// GetTransfer retrieves a stored transfer. It returns pgx.ErrNoRows when
// absent.
func (s *Store) GetTransfer(ctx context.Context, network, txHash, address string) (_ *Transfer, err error) {
	defer func(start time.Time) { s.observe("select", "transfers", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE network = $1 AND tx_hash = $2 AND address = $3`,
		network, txHash, address,
	)
	t, err := scanTransfer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// ListTransfers returns stored transfers, newest ledger first.
func (s *Store) ListTransfers(ctx context.Context, params ListTransfersParams) (_ []*Transfer, err error) {
	defer func(start time.Time) { s.observe("select", "transfers", start, err) }(time.Now())

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE ($1 = '' OR network = $1) AND ($2 = '' OR address = $2)
		ORDER BY block_height DESC, tx_hash
		LIMIT $3 OFFSET $4`,
		params.Network, params.Address, limit, params.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	transfers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Transfer, error) {
		return scanTransfer(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transfers: %w", err)
	}
	return transfers, nil
}

// ExistingTxHashes returns up to limit stored hashes for address, newest
// ledger first.
func (s *Store) ExistingTxHashes(ctx context.Context, network, address string, limit int32) (_ []string, err error) {
	defer func(start time.Time) { s.observe("select", "transfers", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash
		FROM transfers
		WHERE network = $1 AND address = $2
		ORDER BY block_height DESC, created_at DESC
		LIMIT $3`,
		network, address, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer hashes: %w", err)
	}

	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan transfer hashes: %w", err)
	}
	return hashes, nil
}

// UpsertWatchedAddress adds an address to the watch list or updates its
// poll interval.
func (s *Store) UpsertWatchedAddress(ctx context.Context, params UpsertWatchedAddressParams) (_ *WatchedAddress, err error) {
	defer func(start time.Time) { s.observe("upsert", "watched_addresses", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		INSERT INTO watched_addresses (network, address, poll_interval_ms)
		VALUES ($1, $2, $3)
		ON CONFLICT (network, address)
		DO UPDATE SET poll_interval_ms = EXCLUDED.poll_interval_ms, updated_at = NOW()
		RETURNING `+watchedColumns,
		params.Network, params.Address, params.PollInterval.Milliseconds(),
	)
	w, err := scanWatched(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert watched address: %w", err)
	}
	return w, nil
}

// GetWatchedAddress retrieves a watched address. It returns pgx.ErrNoRows
// when the address is not watched.
func (s *Store) GetWatchedAddress(ctx context.Context, network, address string) (_ *WatchedAddress, err error) {
	defer func(start time.Time) { s.observe("select", "watched_addresses", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT `+watchedColumns+`
		FROM watched_addresses
		WHERE network = $1 AND address = $2`,
		network, address,
	)
	w, err := scanWatched(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get watched address: %w", err)
	}
	return w, nil
}

// ListWatchedAddresses returns every watched address.
func (s *Store) ListWatchedAddresses(ctx context.Context) (_ []*WatchedAddress, err error) {
	defer func(start time.Time) { s.observe("select", "watched_addresses", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+watchedColumns+`
		FROM watched_addresses
		ORDER BY network, created_at, address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched addresses: %w", err)
	}

	watched, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*WatchedAddress, error) {
		return scanWatched(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan watched addresses: %w", err)
	}
	return watched, nil
}

// DeleteWatchedAddress removes an address from the watch list. Stored
// transfers are kept. It returns pgx.ErrNoRows when nothing was deleted.
func (s *Store) DeleteWatchedAddress(ctx context.Context, network, address string) (err error) {
	defer func(start time.Time) { s.observe("delete", "watched_addresses", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `DELETE FROM watched_addresses WHERE network = $1 AND address = $2`, network, address)
	if err != nil {
		return fmt.Errorf("failed to delete watched address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete watched address %s/%s: %w", network, address, pgx.ErrNoRows)
	}
	return nil
}

// UpdatePollTime records a completed poll and, when lastTxHash is non-nil,
// the newest transfer hash seen.
func (s *Store) UpdatePollTime(ctx context.Context, network, address string, polledAt time.Time, lastTxHash *string) (_ *WatchedAddress, err error) {
	defer func(start time.Time) { s.observe("update", "watched_addresses", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		UPDATE watched_addresses
		SET last_polled_at = $3, last_tx_hash = COALESCE($4, last_tx_hash), updated_at = NOW()
		WHERE network = $1 AND address = $2
		RETURNING `+watchedColumns,
		network, address, polledAt.UTC(), lastTxHash,
	)
	w, err := scanWatched(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update poll time: %w", err)
	}
	return w, nil
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var (
		t                 Transfer
		direction         string
		value, fee        string
		blockHash, memo   pgtype.Text
		txDate, createdAt pgtype.Timestamptz
	)
	err := row.Scan(
		&t.Network, &t.Address, &t.TxHash, &direction, &t.Success, &t.FromAddress, &t.ToAddress,
		&value, &t.Symbol, &fee, &t.Confirmations, &t.BlockHeight, &blockHash, &txDate, &memo, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if t.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("invalid stored value %q: %w", value, err)
	}
	if t.TxFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("invalid stored fee %q: %w", fee, err)
	}
	t.Direction = chain.Direction(direction)
	t.Date = txDate.Time.UTC()
	t.CreatedAt = createdAt.Time
	if blockHash.Valid {
		t.BlockHash = &blockHash.String
	}
	if memo.Valid {
		t.Memo = &memo.String
	}
	return &t, nil
}

func scanWatched(row pgx.Row) (*WatchedAddress, error) {
	var (
		w          WatchedAddress
		intervalMS int64
		polledAt   pgtype.Timestamptz
		lastHash   pgtype.Text
	)
	if err := row.Scan(&w.Network, &w.Address, &intervalMS, &polledAt, &lastHash, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.PollInterval = time.Duration(intervalMS) * time.Millisecond
	if polledAt.Valid {
		ts := polledAt.Time
		w.LastPolledAt = &ts
	}
	if lastHash.Valid {
		w.LastTxHash = &lastHash.String
	}
	return &w, nil
}
