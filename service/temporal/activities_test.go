package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/db"
	natspkg "github.com/brojonat/ledgerfeed/service/nats"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

const (
	testNetwork = "tst"
	testAddress = "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh"
	testSender  = "rpHTHXGZddjVWrVDm7zj7bvXfAJ8FWwt8k"
)

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertTransfer(ctx context.Context, network, address string, tx chain.TransferTx) (*db.Transfer, error) {
	args := m.Called(ctx, network, address, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Transfer), args.Error(1)
}

func (m *MockStore) ExistingTxHashes(ctx context.Context, network, address string, limit int32) ([]string, error) {
	args := m.Called(ctx, network, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) UpdatePollTime(ctx context.Context, network, address string, polledAt time.Time, lastTxHash *string) (*db.WatchedAddress, error) {
	args := m.Called(ctx, network, address, polledAt, lastTxHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.WatchedAddress), args.Error(1)
}

// fakeExplorer serves history pages of canned transfers; page i has cursor i.
type fakeExplorer struct {
	pages       [][]chain.TransferTx
	fetchErr    error
	invalidAddr bool
	calls       int
}

func (f *fakeExplorer) Network() chain.Network {
	return chain.Network{ID: testNetwork, Symbol: "TST", Exponent: -6}
}

func (f *fakeExplorer) ValidateAddress(address string) error {
	if f.invalidAddr {
		return fmt.Errorf("%w: %q", chain.ErrInvalidAddress, address)
	}
	return nil
}

func (f *fakeExplorer) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeExplorer) GetBalances(context.Context, []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}

func (f *fakeExplorer) GetAddressTxs(_ context.Context, _ string, cursor any) (map[string]any, error) {
	f.calls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	page := 0
	switch c := cursor.(type) {
	case int:
		page = c
	case json.Number:
		n, _ := c.Int64()
		page = int(n)
	}
	return map[string]any{"page": page}, nil
}

func (f *fakeExplorer) GetTxDetails(context.Context, string) (map[string]any, error) { return nil, nil }
func (f *fakeExplorer) GetBlockHead(context.Context) (int64, error)                  { return 0, nil }
func (f *fakeExplorer) CheckNodes(context.Context) []chain.NodeHealth                 { return nil }

func (f *fakeExplorer) ParseAddressTxs(_ string, resp map[string]any, _ *int64) ([]chain.TransferTx, error) {
	return f.pages[resp["page"].(int)], nil
}

func (f *fakeExplorer) ParseTxDetails(map[string]any, *int64) ([]chain.TransferTx, error) {
	return nil, nil
}

func (f *fakeExplorer) NextCursor(resp map[string]any) (any, bool) {
	next := resp["page"].(int) + 1
	if next >= len(f.pages) {
		return nil, false
	}
	return next, true
}

func testTransfer(hash string, height int64) chain.TransferTx {
	return chain.TransferTx{
		TxHash:      hash,
		Success:     true,
		FromAddress: testSender,
		ToAddress:   testAddress,
		Value:       decimal.RequireFromString("25"),
		Symbol:      "TST",
		BlockHeight: height,
		Date:        time.Date(2024, 6, 29, 7, 33, 51, 0, time.UTC),
		TxFee:       decimal.RequireFromString("0.000012"),
	}
}

func stored(tx chain.TransferTx) *db.Transfer {
	return &db.Transfer{
		Network:    testNetwork,
		Address:    testAddress,
		Direction:  tx.Direction(testAddress),
		TransferTx: tx,
		CreatedAt:  time.Now(),
	}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func stringPtr(s string) *string { return &s }

func TestActivities_GetExistingTxHashes(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		store := new(MockStore)
		store.On("ExistingTxHashes", mock.Anything, testNetwork, testAddress, int32(maxKnownHashes)).
			Return([]string{"H2", "H1"}, nil)

		activities := NewActivities(store, nil, nil, nil, testLogger())
		result, err := activities.GetExistingTxHashes(context.Background(), GetExistingTxHashesInput{
			Network: testNetwork,
			Address: testAddress,
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"H2", "H1"}, result.TxHashes)
		store.AssertExpectations(t)
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("ExistingTxHashes", mock.Anything, testNetwork, testAddress, int32(5)).
			Return(nil, errors.New("connection refused"))

		activities := NewActivities(store, nil, nil, nil, testLogger())
		_, err := activities.GetExistingTxHashes(context.Background(), GetExistingTxHashesInput{
			Network: testNetwork,
			Address: testAddress,
			Limit:   5,
		})

		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestActivities_FetchTransfers(t *testing.T) {
	tests := []struct {
		name          string
		explorer      *fakeExplorer
		input         FetchTransfersInput
		expectedError string
		nonRetryable  bool
		validate      func(*testing.T, *FetchTransfersResult)
	}{
		{
			name: "walks every page",
			explorer: &fakeExplorer{pages: [][]chain.TransferTx{
				{testTransfer("H4", 40), testTransfer("H3", 30)},
				{testTransfer("H2", 20)},
			}},
			input: FetchTransfersInput{Network: testNetwork, Address: testAddress},
			validate: func(t *testing.T, r *FetchTransfersResult) {
				require.Len(t, r.Transfers, 3)
				assert.Equal(t, "H4", r.Transfers[0].TxHash)
				assert.Equal(t, 2, r.Pages)
				assert.False(t, r.ReachedStop)
			},
		},
		{
			name: "stops at the stored watermark",
			explorer: &fakeExplorer{pages: [][]chain.TransferTx{
				{testTransfer("H4", 40), testTransfer("H3", 30)},
				{testTransfer("H2", 20)},
			}},
			input: FetchTransfersInput{Network: testNetwork, Address: testAddress, StopAtHash: "H3"},
			validate: func(t *testing.T, r *FetchTransfersResult) {
				require.Len(t, r.Transfers, 1)
				assert.Equal(t, "H4", r.Transfers[0].TxHash)
				assert.Equal(t, 1, r.Pages)
				assert.True(t, r.ReachedStop)
			},
		},
		{
			name: "page cap before the watermark returns a cursor",
			explorer: &fakeExplorer{pages: [][]chain.TransferTx{
				{testTransfer("H4", 40)},
				{testTransfer("H3", 30)},
				{testTransfer("H2", 20)},
			}},
			input: FetchTransfersInput{Network: testNetwork, Address: testAddress, StopAtHash: "H2", MaxPages: 1},
			validate: func(t *testing.T, r *FetchTransfersResult) {
				require.Len(t, r.Transfers, 1)
				assert.Equal(t, "H4", r.Transfers[0].TxHash)
				assert.False(t, r.ReachedStop)
				assert.NotEmpty(t, r.NextCursor)
			},
		},
		{
			name: "watermark reached leaves no cursor",
			explorer: &fakeExplorer{pages: [][]chain.TransferTx{
				{testTransfer("H4", 40), testTransfer("H3", 30)},
				{testTransfer("H2", 20)},
			}},
			input: FetchTransfersInput{Network: testNetwork, Address: testAddress, StopAtHash: "H3", MaxPages: 1},
			validate: func(t *testing.T, r *FetchTransfersResult) {
				assert.True(t, r.ReachedStop)
				assert.Empty(t, r.NextCursor)
			},
		},
		{
			name:          "malformed cursor is not retried",
			explorer:      &fakeExplorer{},
			input:         FetchTransfersInput{Network: testNetwork, Address: testAddress, Cursor: "%%%"},
			expectedError: "cursor",
			nonRetryable:  true,
		},
		{
			name: "drops known hashes",
			explorer: &fakeExplorer{pages: [][]chain.TransferTx{
				{testTransfer("H4", 40), testTransfer("H3", 30), testTransfer("H2", 20)},
			}},
			input: FetchTransfersInput{Network: testNetwork, Address: testAddress, Known: []string{"H3"}},
			validate: func(t *testing.T, r *FetchTransfersResult) {
				require.Len(t, r.Transfers, 2)
				assert.Equal(t, "H4", r.Transfers[0].TxHash)
				assert.Equal(t, "H2", r.Transfers[1].TxHash)
				assert.Equal(t, 1, r.KnownSkips)
			},
		},
		{
			name: "unfunded account has no history",
			explorer: &fakeExplorer{fetchErr: &chain.ParseError{
				Field: "result.error", Code: "actNotFound", NotFound: true, Err: errors.New("Account not found."),
			}},
			input: FetchTransfersInput{Network: testNetwork, Address: testAddress},
			validate: func(t *testing.T, r *FetchTransfersResult) {
				assert.Empty(t, r.Transfers)
			},
		},
		{
			name:          "malformed payload is not retried",
			explorer:      &fakeExplorer{fetchErr: chain.NewParseError("result.transactions", nil)},
			input:         FetchTransfersInput{Network: testNetwork, Address: testAddress},
			expectedError: "unparseable",
			nonRetryable:  true,
		},
		{
			name:          "unknown network",
			explorer:      &fakeExplorer{},
			input:         FetchTransfersInput{Network: "nope", Address: testAddress},
			expectedError: "unknown network",
			nonRetryable:  true,
		},
		{
			name:          "invalid address",
			explorer:      &fakeExplorer{invalidAddr: true},
			input:         FetchTransfersInput{Network: testNetwork, Address: "bogus"},
			expectedError: "invalid",
			nonRetryable:  true,
		},
		{
			name:          "transport failure is retryable",
			explorer:      &fakeExplorer{fetchErr: chain.ErrTransportExhausted},
			input:         FetchTransfersInput{Network: testNetwork, Address: testAddress},
			expectedError: "failed to fetch transfers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activities := NewActivities(new(MockStore), chain.NewRegistry(tt.explorer), nil, nil, testLogger())

			result, err := activities.FetchTransfers(context.Background(), tt.input)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, strings.ToLower(err.Error()), tt.expectedError)
				var appErr *temporalsdk.ApplicationError
				isApp := errors.As(err, &appErr)
				assert.Equal(t, tt.nonRetryable, isApp && appErr.NonRetryable())
				return
			}
			require.NoError(t, err)
			tt.validate(t, result)
		})
	}
}

func TestActivities_FetchTransfers_ResumesFromCursor(t *testing.T) {
	explorer := &fakeExplorer{pages: [][]chain.TransferTx{
		{testTransfer("H4", 40)},
		{testTransfer("H3", 30)},
		{testTransfer("H2", 20), testTransfer("H1", 10)},
	}}
	activities := NewActivities(new(MockStore), chain.NewRegistry(explorer), nil, nil, testLogger())
	input := FetchTransfersInput{Network: testNetwork, Address: testAddress, StopAtHash: "H1", MaxPages: 1}

	var hashes []string
	for i := 0; i < 3; i++ {
		result, err := activities.FetchTransfers(context.Background(), input)
		require.NoError(t, err)
		for _, tx := range result.Transfers {
			hashes = append(hashes, tx.TxHash)
		}
		if result.NextCursor == "" {
			assert.True(t, result.ReachedStop)
			break
		}
		input.Cursor = result.NextCursor
	}

	assert.Equal(t, []string{"H4", "H3", "H2"}, hashes)
	assert.Equal(t, 3, explorer.calls)
}

func TestActivities_WriteTransfers(t *testing.T) {
	t.Run("writes new and skips duplicates", func(t *testing.T) {
		tx1 := testTransfer("H2", 20)
		tx2 := testTransfer("H1", 10)

		store := new(MockStore)
		store.On("InsertTransfer", mock.Anything, testNetwork, testAddress, tx1).Return(stored(tx1), nil)
		store.On("InsertTransfer", mock.Anything, testNetwork, testAddress, tx2).Return(nil, db.ErrDuplicate)
		store.On("UpdatePollTime", mock.Anything, testNetwork, testAddress, mock.AnythingOfType("time.Time"),
			mock.MatchedBy(func(h *string) bool { return h != nil && *h == "H2" })).
			Return(&db.WatchedAddress{}, nil)

		activities := NewActivities(store, nil, nil, nil, testLogger())
		result, err := activities.WriteTransfers(context.Background(), WriteTransfersInput{
			Network:   testNetwork,
			Address:   testAddress,
			Transfers: []chain.TransferTx{tx1, tx2},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Written)
		assert.Equal(t, 1, result.Skipped)
		require.Len(t, result.Stored, 1)
		assert.Equal(t, "H2", result.Stored[0].TxHash)
		store.AssertExpectations(t)
	})

	t.Run("nothing new still stamps the poll time", func(t *testing.T) {
		store := new(MockStore)
		store.On("UpdatePollTime", mock.Anything, testNetwork, testAddress, mock.Anything, (*string)(nil)).
			Return(&db.WatchedAddress{}, nil)

		activities := NewActivities(store, nil, nil, nil, testLogger())
		result, err := activities.WriteTransfers(context.Background(), WriteTransfersInput{
			Network: testNetwork,
			Address: testAddress,
		})

		require.NoError(t, err)
		assert.Zero(t, result.Written)
		store.AssertExpectations(t)
	})

	t.Run("explicit newest hash wins over an older batch", func(t *testing.T) {
		tx := testTransfer("H2", 20)
		store := new(MockStore)
		store.On("InsertTransfer", mock.Anything, testNetwork, testAddress, tx).Return(stored(tx), nil)
		store.On("UpdatePollTime", mock.Anything, testNetwork, testAddress, mock.Anything,
			mock.MatchedBy(func(h *string) bool { return h != nil && *h == "H9" })).
			Return(&db.WatchedAddress{}, nil)

		activities := NewActivities(store, nil, nil, nil, testLogger())
		_, err := activities.WriteTransfers(context.Background(), WriteTransfersInput{
			Network:      testNetwork,
			Address:      testAddress,
			Transfers:    []chain.TransferTx{tx},
			NewestTxHash: "H9",
		})

		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("poll time failure is not fatal", func(t *testing.T) {
		tx := testTransfer("H1", 10)
		store := new(MockStore)
		store.On("InsertTransfer", mock.Anything, testNetwork, testAddress, tx).Return(stored(tx), nil)
		store.On("UpdatePollTime", mock.Anything, testNetwork, testAddress, mock.Anything, mock.Anything).
			Return(nil, pgx.ErrNoRows)

		activities := NewActivities(store, nil, nil, nil, testLogger())
		result, err := activities.WriteTransfers(context.Background(), WriteTransfersInput{
			Network:   testNetwork,
			Address:   testAddress,
			Transfers: []chain.TransferTx{tx},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Written)
	})

	t.Run("insert failure fails the activity", func(t *testing.T) {
		tx := testTransfer("H1", 10)
		store := new(MockStore)
		store.On("InsertTransfer", mock.Anything, testNetwork, testAddress, tx).Return(nil, errors.New("disk full"))

		activities := NewActivities(store, nil, nil, nil, testLogger())
		_, err := activities.WriteTransfers(context.Background(), WriteTransfersInput{
			Network:   testNetwork,
			Address:   testAddress,
			Transfers: []chain.TransferTx{tx},
		})

		assert.ErrorContains(t, err, "disk full")
		store.AssertNotCalled(t, "UpdatePollTime", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestActivities_PublishTransfers(t *testing.T) {
	rows := []*db.Transfer{stored(testTransfer("H2", 20)), stored(testTransfer("H1", 10))}

	t.Run("publishes every row", func(t *testing.T) {
		publisher := natspkg.NewMockPublisher()
		activities := NewActivities(new(MockStore), nil, publisher, nil, testLogger())

		result, err := activities.PublishTransfers(context.Background(), PublishTransfersInput{Transfers: rows})

		require.NoError(t, err)
		assert.Equal(t, 2, result.Published)
		events := publisher.GetPublishedEventsForAddress(testAddress)
		require.Len(t, events, 2)
		assert.Equal(t, "H2", events[0].TxHash)
		assert.Equal(t, "incoming", events[0].Direction)
	})

	t.Run("publisher error", func(t *testing.T) {
		publisher := natspkg.NewMockPublisher()
		publisher.SetPublishBatchError(errors.New("nats: timeout"))
		activities := NewActivities(new(MockStore), nil, publisher, nil, testLogger())

		_, err := activities.PublishTransfers(context.Background(), PublishTransfersInput{Transfers: rows})

		assert.ErrorContains(t, err, "nats: timeout")
	})

	t.Run("no publisher", func(t *testing.T) {
		activities := NewActivities(new(MockStore), nil, nil, nil, testLogger())

		result, err := activities.PublishTransfers(context.Background(), PublishTransfersInput{Transfers: rows})

		require.NoError(t, err)
		assert.Zero(t, result.Published)
	})
}
