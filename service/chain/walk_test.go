package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExplorer serves canned history pages. Each page is a list of
// transfers; the cursor of page i is i.
type fakeExplorer struct {
	network  Network
	pages    [][]TransferTx
	fetchErr error
	parseErr error
	cursors  []any
	refs     []*int64
}

func (f *fakeExplorer) Network() Network { return f.network }
func (f *fakeExplorer) ValidateAddress(string) error { return nil }
func (f *fakeExplorer) CheckNodes(context.Context) []NodeHealth { return nil }

func (f *fakeExplorer) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeExplorer) GetBalances(context.Context, []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}

func (f *fakeExplorer) GetTxDetails(context.Context, string) (map[string]any, error) {
	return nil, nil
}

func (f *fakeExplorer) GetBlockHead(context.Context) (int64, error) { return 0, nil }

func (f *fakeExplorer) GetAddressTxs(_ context.Context, _ string, cursor any) (map[string]any, error) {
	f.cursors = append(f.cursors, cursor)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	page := 0
	if cursor != nil {
		page = cursor.(int)
	}
	return map[string]any{"page": page}, nil
}

func (f *fakeExplorer) ParseAddressTxs(_ string, resp map[string]any, ref *int64) ([]TransferTx, error) {
	f.refs = append(f.refs, ref)
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.pages[resp["page"].(int)], nil
}

func (f *fakeExplorer) ParseTxDetails(map[string]any, *int64) ([]TransferTx, error) {
	return nil, nil
}

func (f *fakeExplorer) NextCursor(resp map[string]any) (any, bool) {
	next := resp["page"].(int) + 1
	if next >= len(f.pages) {
		return nil, false
	}
	return next, true
}

func transfer(hash string) TransferTx {
	return TransferTx{TxHash: hash, Success: true, Symbol: "TST", Value: decimal.NewFromInt(1)}
}

func TestWalkAddressTxs_AllPages(t *testing.T) {
	// Setup
	f := &fakeExplorer{pages: [][]TransferTx{
		{transfer("a"), transfer("b")},
		{transfer("c")},
		{transfer("d")},
	}}

	// Act
	result, err := WalkAddressTxs(context.Background(), f, "addr", WalkOptions{})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pages)
	assert.Nil(t, result.NextCursor)
	assert.False(t, result.ReachedStop)
	require.Len(t, result.Transfers, 4)
	for i, hash := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, hash, result.Transfers[i].TxHash)
	}
	assert.Equal(t, []any{nil, 1, 2}, f.cursors)
}

func TestWalkAddressTxs_MaxPages(t *testing.T) {
	f := &fakeExplorer{pages: [][]TransferTx{
		{transfer("a")},
		{transfer("b")},
		{transfer("c")},
	}}

	result, err := WalkAddressTxs(context.Background(), f, "addr", WalkOptions{MaxPages: 2})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 2, result.NextCursor, "cursor for the unread page is returned")
	assert.Len(t, result.Transfers, 2)
}

func TestWalkAddressTxs_ResumeFromCursor(t *testing.T) {
	f := &fakeExplorer{pages: [][]TransferTx{
		{transfer("a")},
		{transfer("b")},
	}}

	result, err := WalkAddressTxs(context.Background(), f, "addr", WalkOptions{Cursor: 1})

	require.NoError(t, err)
	require.Len(t, result.Transfers, 1)
	assert.Equal(t, "b", result.Transfers[0].TxHash)
	assert.Equal(t, []any{1}, f.cursors)
}

func TestWalkAddressTxs_StopAtHash(t *testing.T) {
	f := &fakeExplorer{pages: [][]TransferTx{
		{transfer("new1"), transfer("new2")},
		{transfer("new3"), transfer("seen"), transfer("old")},
		{transfer("older")},
	}}

	result, err := WalkAddressTxs(context.Background(), f, "addr", WalkOptions{StopAtHash: "seen"})

	require.NoError(t, err)
	assert.True(t, result.ReachedStop)
	assert.Equal(t, 2, result.Pages)
	assert.Nil(t, result.NextCursor)
	require.Len(t, result.Transfers, 3)
	assert.Equal(t, "new3", result.Transfers[2].TxHash)
}

func TestWalkAddressTxs_PassesReference(t *testing.T) {
	ref := int64(500)
	f := &fakeExplorer{pages: [][]TransferTx{{transfer("a")}}}

	_, err := WalkAddressTxs(context.Background(), f, "addr", WalkOptions{Ref: &ref})

	require.NoError(t, err)
	require.Len(t, f.refs, 1)
	assert.Equal(t, &ref, f.refs[0])
}

func TestWalkAddressTxs_Errors(t *testing.T) {
	t.Run("fetch error", func(t *testing.T) {
		f := &fakeExplorer{fetchErr: ErrTransportExhausted}
		_, err := WalkAddressTxs(context.Background(), f, "addr", WalkOptions{})
		assert.ErrorIs(t, err, ErrTransportExhausted)
	})

	t.Run("parse error", func(t *testing.T) {
		f := &fakeExplorer{
			pages:    [][]TransferTx{{}},
			parseErr: NewParseError("result.transactions", errors.New("missing")),
		}
		_, err := WalkAddressTxs(context.Background(), f, "addr", WalkOptions{})
		assert.ErrorIs(t, err, ErrUnparseablePayload)
	})
}

func TestRegistry(t *testing.T) {
	xrp := &fakeExplorer{network: Network{ID: "xrp", Symbol: "XRP", Exponent: -6}}
	other := &fakeExplorer{network: Network{ID: "abc", Symbol: "ABC"}}
	r := NewRegistry(xrp, other)

	t.Run("lookup by id", func(t *testing.T) {
		e, err := r.Get("xrp")
		require.NoError(t, err)
		assert.Same(t, xrp, e)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := r.Get("doge")
		assert.ErrorIs(t, err, ErrUnknownNetwork)
	})

	t.Run("networks sorted by id", func(t *testing.T) {
		networks := r.Networks()
		require.Len(t, networks, 2)
		assert.Equal(t, "abc", networks[0].ID)
		assert.Equal(t, "xrp", networks[1].ID)
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		assert.Panics(t, func() { NewRegistry(xrp, xrp) })
	})
}

func TestNetworkScaleAndTime(t *testing.T) {
	n := Network{ID: "xrp", Exponent: -6, EpochOffset: 946684800}

	assert.True(t, decimal.RequireFromString("4208.623601").Equal(n.Scale(decimal.RequireFromString("4208623601"))))
	assert.True(t, decimal.RequireFromString("0.000025").Equal(n.Scale(decimal.NewFromInt(25))))

	ts := n.Time(772961631)
	assert.Equal(t, time.Date(2024, 6, 29, 7, 33, 51, 0, time.UTC), ts)
	assert.Equal(t, time.UTC, ts.Location())
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), n.Time(0))
}

func TestAggregateByMemo(t *testing.T) {
	memo := func(s string) *string { return &s }
	mk := func(hash, from, to string, m *string, value string) TransferTx {
		return TransferTx{TxHash: hash, FromAddress: from, ToAddress: to, Memo: m, Symbol: "XRP", Value: decimal.RequireFromString(value)}
	}

	in := []TransferTx{
		mk("h1", "rA", "rX", memo("7"), "1.5"),
		mk("h2", "rB", "rX", memo("7"), "2"),
		mk("h3", "rA", "rX", memo("7"), "0.25"),
		mk("h4", "rA", "rX", memo("8"), "3"),
		mk("h5", "rA", "rX", nil, "4"),
	}

	out := AggregateByMemo(in)

	require.Len(t, out, 4)
	assert.Equal(t, "h1", out[0].TxHash)
	assert.True(t, decimal.RequireFromString("1.75").Equal(out[0].Value))
	assert.Equal(t, "h2", out[1].TxHash)
	assert.Equal(t, "h4", out[2].TxHash)
	assert.Equal(t, "h5", out[3].TxHash)
	assert.True(t, decimal.RequireFromString("1.5").Equal(in[0].Value), "input is not mutated")
}

func TestTransferTx_EqualAndDirection(t *testing.T) {
	tag := "2017"
	tag2 := "2017"
	a := TransferTx{TxHash: "h", FromAddress: "rA", ToAddress: "rB", Value: decimal.RequireFromString("1.0"), Memo: &tag, Date: time.Unix(10, 0).UTC()}
	b := TransferTx{TxHash: "h", FromAddress: "rA", ToAddress: "rB", Value: decimal.RequireFromString("1"), Memo: &tag2, Date: time.Unix(10, 0)}

	assert.True(t, a.Equal(b))
	b.Memo = nil
	assert.False(t, a.Equal(b))

	assert.Equal(t, DirectionIncoming, a.Direction("rB"))
	assert.Equal(t, DirectionOutgoing, a.Direction("rA"))
	assert.Equal(t, DirectionUnrelated, a.Direction("rC"))
	a.ToAddress = "rA"
	assert.Equal(t, DirectionSelf, a.Direction("rA"))
}
