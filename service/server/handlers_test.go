package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/cluster"
	"github.com/brojonat/ledgerfeed/service/config"
	"github.com/brojonat/ledgerfeed/service/ripple"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice      = "rpHTHXGZddjVWrVDm7zj7bvXfAJ8FWwt8k"
	bob        = "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh"
	paymentTx  = "5FECEB66FFC86F38D952786C6D696C79C2DBC239DD4E91B46729D73A27FB57E9"
	ledgerHash = "EF2D127DE37B942BAAD06145E54B0C619A1F22327B2EBBCFBEC78F5564AFE39D"
)

const accountTxPage = `{
  "result": {
    "account": "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh",
    "ledger_index_max": 89000100,
    "marker": {"ledger": 88999000, "seq": 3},
    "status": "success",
    "transactions": [
      {
        "meta": {"TransactionResult": "tesSUCCESS", "delivered_amount": "25000000"},
        "tx": {
          "Account": "rpHTHXGZddjVWrVDm7zj7bvXfAJ8FWwt8k",
          "Amount": "25000000",
          "Destination": "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh",
          "DestinationTag": 33213,
          "Fee": "12",
          "TransactionType": "Payment",
          "date": 772961631,
          "hash": "5FECEB66FFC86F38D952786C6D696C79C2DBC239DD4E91B46729D73A27FB57E9",
          "ledger_index": 89000000
        },
        "validated": true
      }
    ]
  }
}`

const txDetails = `{
  "result": {
    "Account": "rpHTHXGZddjVWrVDm7zj7bvXfAJ8FWwt8k",
    "Amount": "25000000",
    "Destination": "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh",
    "DestinationTag": 33213,
    "Fee": "12",
    "TransactionType": "Payment",
    "date": 772961631,
    "hash": "5FECEB66FFC86F38D952786C6D696C79C2DBC239DD4E91B46729D73A27FB57E9",
    "ledger_hash": "EF2D127DE37B942BAAD06145E54B0C619A1F22327B2EBBCFBEC78F5564AFE39D",
    "ledger_index": 89000000,
    "meta": {"TransactionResult": "tesSUCCESS", "delivered_amount": "25000000"},
    "status": "success",
    "validated": true
  }
}`

// fakeNode is a JSON-RPC ledger node answering from canned bodies per method.
type fakeNode struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string]string
	params []map[string]any
}

func newFakeNode(t *testing.T, bodies map[string]string) *fakeNode {
	t.Helper()
	n := &fakeNode{bodies: bodies}
	n.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		if len(req.Params) > 0 {
			n.params = append(n.params, req.Params[0])
		}
		body, ok := n.bodies[req.Method]
		n.mu.Unlock()
		if !ok {
			http.Error(w, "unexpected method "+req.Method, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(n.Close)
	return n
}

func (n *fakeNode) lastParams() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.params) == 0 {
		return nil
	}
	return n.params[len(n.params)-1]
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRegistry(t *testing.T, nodeURL string) *chain.Registry {
	t.Helper()
	c, err := cluster.New(ripple.NetworkID, []string{nodeURL},
		cluster.WithLogger(discardLogger()),
		cluster.WithAttemptTimeout(2*time.Second),
	)
	require.NoError(t, err)
	return chain.NewRegistry(ripple.NewExplorer(c, 0, nil, discardLogger()))
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultPollInterval: 30 * time.Second,
		MinPollInterval:     10 * time.Second,
		PollMaxPages:        10,
	}
}

func newExplorerServer(t *testing.T, bodies map[string]string) (*fakeNode, http.Handler) {
	t.Helper()
	node := newFakeNode(t, bodies)
	srv := New(":0", testConfig(), newTestRegistry(t, node.URL), nil, nil, nil, discardLogger())
	return node, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), "body: %s", w.Body.String())
	}
	return w, decoded
}

func TestListNetworks(t *testing.T) {
	_, h := newExplorerServer(t, nil)

	w, body := do(t, h, http.MethodGet, "/api/v1/networks", nil)

	require.Equal(t, http.StatusOK, w.Code)
	networks := body["networks"].([]any)
	require.Len(t, networks, 1)
	assert.Equal(t, "xrp", networks[0].(map[string]any)["id"])
	assert.Equal(t, "XRP", networks[0].(map[string]any)["symbol"])
}

func TestGetBalance(t *testing.T) {
	t.Run("validated balance in XRP", func(t *testing.T) {
		node, h := newExplorerServer(t, map[string]string{
			"account_info": `{"result":{"account_data":{"Balance":"105000000"},"status":"success","validated":true}}`,
		})

		w, body := do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/"+bob+"/balance", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "105", body["balance"])
		assert.Equal(t, "XRP", body["symbol"])
		assert.Equal(t, "validated", node.lastParams()["ledger_index"])
	})

	t.Run("invalid address", func(t *testing.T) {
		_, h := newExplorerServer(t, nil)

		w, body := do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/not-an-address/balance", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["error"], "invalid address")
	})

	t.Run("unknown network", func(t *testing.T) {
		_, h := newExplorerServer(t, nil)

		w, body := do(t, h, http.MethodGet, "/api/v1/networks/doge/accounts/"+bob+"/balance", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, body["error"], "unknown network")
	})

	t.Run("unfunded account", func(t *testing.T) {
		_, h := newExplorerServer(t, map[string]string{
			"account_info": `{"result":{"error":"actNotFound","error_message":"Account not found.","status":"error"}}`,
		})

		w, _ := do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/"+bob+"/balance", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("every node failing", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer down.Close()
		h := New(":0", testConfig(), newTestRegistry(t, down.URL), nil, nil, nil, discardLogger()).Handler()

		w, _ := do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/"+bob+"/balance", nil)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestListAddressTransfers(t *testing.T) {
	node, h := newExplorerServer(t, map[string]string{"account_tx": accountTxPage})

	w, body := do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/"+bob+"/transactions", nil)

	require.Equal(t, http.StatusOK, w.Code)
	transfers := body["transfers"].([]any)
	require.Len(t, transfers, 1)
	first := transfers[0].(map[string]any)
	assert.Equal(t, paymentTx, first["tx_hash"])
	assert.Equal(t, "25", first["value"])
	assert.Equal(t, "33213", first["memo"])
	assert.Equal(t, float64(100), first["confirmations"])
	assert.Equal(t, float64(1), body["pages"])

	marker, ok := body["next_marker"].(string)
	require.True(t, ok, "a page with a marker must return next_marker")

	// Resuming sends the node's own marker back.
	w, _ = do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/"+bob+"/transactions?marker="+marker, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sent := node.lastParams()["marker"].(map[string]any)
	assert.Equal(t, float64(88999000), sent["ledger"])
	assert.Equal(t, float64(3), sent["seq"])
}

func TestListAddressTransfers_BadParams(t *testing.T) {
	_, h := newExplorerServer(t, map[string]string{"account_tx": accountTxPage})

	w, body := do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/"+bob+"/transactions?max_pages=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "max_pages")

	w, body = do(t, h, http.MethodGet, "/api/v1/networks/xrp/accounts/"+bob+"/transactions?marker=%25%25", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "marker")
}

func TestGetTransaction(t *testing.T) {
	_, h := newExplorerServer(t, map[string]string{
		"tx":          txDetails,
		"server_info": `{"result":{"info":{"validated_ledger":{"seq":89000123}},"status":"success"}}`,
	})

	t.Run("without confirmations", func(t *testing.T) {
		w, body := do(t, h, http.MethodGet, "/api/v1/networks/xrp/transactions/"+paymentTx, nil)

		require.Equal(t, http.StatusOK, w.Code)
		transfers := body["transfers"].([]any)
		require.Len(t, transfers, 1)
		tx := transfers[0].(map[string]any)
		assert.Equal(t, alice, tx["from_address"])
		assert.Equal(t, ledgerHash, tx["block_hash"])
		assert.Equal(t, float64(0), tx["confirmations"])
		assert.Equal(t, "2024-06-29T07:33:51Z", tx["date"])
	})

	t.Run("with confirmations", func(t *testing.T) {
		w, body := do(t, h, http.MethodGet, "/api/v1/networks/xrp/transactions/"+paymentTx+"?confirmations=true", nil)

		require.Equal(t, http.StatusOK, w.Code)
		tx := body["transfers"].([]any)[0].(map[string]any)
		assert.Equal(t, float64(123), tx["confirmations"])
	})

	t.Run("malformed hash", func(t *testing.T) {
		w, _ := do(t, h, http.MethodGet, "/api/v1/networks/xrp/transactions/XYZ", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetTransaction_NotFound(t *testing.T) {
	_, h := newExplorerServer(t, map[string]string{
		"tx": `{"result":{"error":"txnNotFound","error_message":"Transaction not found.","status":"error"}}`,
	})

	w, _ := do(t, h, http.MethodGet, "/api/v1/networks/xrp/transactions/"+paymentTx, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckNodes(t *testing.T) {
	_, h := newExplorerServer(t, map[string]string{
		"server_info": `{"result":{"info":{"validated_ledger":{"seq":89000123}},"status":"success"}}`,
	})

	w, body := do(t, h, http.MethodGet, "/api/v1/networks/xrp/nodes", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["healthy"])
	nodes := body["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, float64(89000123), nodes[0].(map[string]any)["ledger_index"])
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", chain.ErrInvalidAddress), http.StatusBadRequest},
		{chain.ErrInvalidHash, http.StatusBadRequest},
		{chain.ErrUnknownNetwork, http.StatusNotFound},
		{&chain.ParseError{Field: "result.error", Code: "actNotFound", NotFound: true}, http.StatusNotFound},
		{&chain.ParseError{Field: "result.error", Code: "tooBusy"}, http.StatusBadGateway},
		{chain.ErrTransportExhausted, http.StatusBadGateway},
		{chain.ErrInvalidEnvelope, http.StatusBadGateway},
		{pgx.ErrNoRows, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), "%v", tt.err)
	}
}

func TestCORSAndHealth(t *testing.T) {
	_, h := newExplorerServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/networks", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestStoreRoutesDisabledWithoutStore(t *testing.T) {
	_, h := newExplorerServer(t, nil)

	w, _ := do(t, h, http.MethodGet, "/api/v1/watches", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
