package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/shopspring/decimal"
)

// Balance is a live validated balance.
type Balance struct {
	Network string          `json:"network"`
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	Symbol  string          `json:"symbol"`
}

// AddressTransfers is one live history walk. NextMarker resumes the walk
// when non-empty.
type AddressTransfers struct {
	Network    string             `json:"network"`
	Address    string             `json:"address"`
	Transfers  []chain.TransferTx `json:"transfers"`
	Count      int                `json:"count"`
	Pages      int                `json:"pages"`
	NextMarker string             `json:"next_marker,omitempty"`
}

// Transaction holds the transfers of one transaction. Transfers is empty
// when the transaction is not a successful validated payment.
type Transaction struct {
	Network   string             `json:"network"`
	Hash      string             `json:"hash"`
	Transfers []chain.TransferTx `json:"transfers"`
}

// StoredTransfer is a transfer persisted by the poller for a watched address.
type StoredTransfer struct {
	Network   string          `json:"network"`
	Address   string          `json:"address"`
	Direction chain.Direction `json:"direction"`
	chain.TransferTx
	CreatedAt time.Time `json:"created_at"`
}

// Watch is an address the server polls for new transfers.
type Watch struct {
	Network      string        `json:"network"`
	Address      string        `json:"address"`
	PollInterval time.Duration `json:"poll_interval"`
	LastPolledAt *time.Time    `json:"last_polled_at,omitempty"`
	LastTxHash   *string       `json:"last_tx_hash,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NodesReport is the health check result for every node of a network.
type NodesReport struct {
	Network string             `json:"network"`
	Healthy int                `json:"healthy"`
	Nodes   []chain.NodeHealth `json:"nodes"`
}

// ListOptions control a live history walk.
type ListOptions struct {
	Marker    string
	MaxPages  int
	StopAt    string
	Aggregate bool
}

// StoredFilter filters and paginates stored transfers. Zero values are
// omitted and the server defaults apply.
type StoredFilter struct {
	Network string
	Address string
	Limit   int
	Offset  int
}

// WatchRequest watches an address. Zero PollInterval and MaxPages use the
// server defaults.
type WatchRequest struct {
	Network      string
	Address      string
	PollInterval time.Duration
	MaxPages     int
}

// Client is the HTTP client for the ledgerfeed API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new API client.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Networks lists the networks the server serves.
func (c *Client) Networks(ctx context.Context) ([]chain.Network, error) {
	var resp struct {
		Networks []chain.Network `json:"networks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/networks", nil, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Networks, nil
}

// Nodes checks every node of network.
func (c *Client) Nodes(ctx context.Context, network string) (*NodesReport, error) {
	var report NodesReport
	path := "/api/v1/networks/" + url.PathEscape(network) + "/nodes"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetBalance reads the live balance of address.
func (c *Client) GetBalance(ctx context.Context, network, address string) (*Balance, error) {
	var balance Balance
	if err := c.do(ctx, http.MethodGet, accountPath(network, address, "balance"), nil, nil, http.StatusOK, &balance); err != nil {
		return nil, err
	}
	c.logger.Debug("balance fetched", "network", network, "address", address, "balance", balance.Balance)
	return &balance, nil
}

// ListAddressTransfers walks live history of address.
func (c *Client) ListAddressTransfers(ctx context.Context, network, address string, opts ListOptions) (*AddressTransfers, error) {
	query := url.Values{}
	if opts.Marker != "" {
		query.Set("marker", opts.Marker)
	}
	if opts.MaxPages > 0 {
		query.Set("max_pages", strconv.Itoa(opts.MaxPages))
	}
	if opts.StopAt != "" {
		query.Set("stop_at", opts.StopAt)
	}
	if opts.Aggregate {
		query.Set("aggregate", "true")
	}

	var result AddressTransfers
	if err := c.do(ctx, http.MethodGet, accountPath(network, address, "transactions"), query, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("address transfers fetched", "network", network, "address", address, "count", result.Count, "pages", result.Pages)
	return &result, nil
}

// GetTransaction looks up one transaction. With confirmations the server
// computes confirmations against the current validated ledger.
func (c *Client) GetTransaction(ctx context.Context, network, hash string, confirmations bool) (*Transaction, error) {
	query := url.Values{}
	if confirmations {
		query.Set("confirmations", "true")
	}
	path := "/api/v1/networks/" + url.PathEscape(network) + "/transactions/" + url.PathEscape(hash)

	var tx Transaction
	if err := c.do(ctx, http.MethodGet, path, query, nil, http.StatusOK, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListStoredTransfers lists transfers persisted by the poller.
func (c *Client) ListStoredTransfers(ctx context.Context, filter StoredFilter) ([]*StoredTransfer, error) {
	query := url.Values{}
	if filter.Network != "" {
		query.Set("network", filter.Network)
	}
	if filter.Address != "" {
		query.Set("address", filter.Address)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	var resp struct {
		Transfers []*StoredTransfer `json:"transfers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/transfers", query, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Transfers, nil
}

// Watch tells the server to start polling an address. Watching an already
// watched address updates its interval.
func (c *Client) Watch(ctx context.Context, req WatchRequest) (*Watch, error) {
	body := map[string]interface{}{
		"network": req.Network,
		"address": req.Address,
	}
	if req.PollInterval > 0 {
		body["poll_interval"] = req.PollInterval.String()
	}
	if req.MaxPages > 0 {
		body["max_pages"] = req.MaxPages
	}

	var resp watchResponse
	// 200 for an update, 201 for a new watch.
	if err := c.do(ctx, http.MethodPost, "/api/v1/watches", nil, body, 0, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("address watched", "network", req.Network, "address", req.Address, "poll_interval", resp.PollInterval)
	return responseToWatch(&resp)
}

// Unwatch tells the server to stop polling an address. Stored transfers
// are kept.
func (c *Client) Unwatch(ctx context.Context, network, address string) error {
	path := "/api/v1/watches/" + url.PathEscape(network) + "/" + url.PathEscape(address)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("address unwatched", "network", network, "address", address)
	return nil
}

// ListWatches lists every watched address.
func (c *Client) ListWatches(ctx context.Context) ([]*Watch, error) {
	var resp struct {
		Watches []watchResponse `json:"watches"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watches", nil, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	watches := make([]*Watch, len(resp.Watches))
	for i := range resp.Watches {
		w, err := responseToWatch(&resp.Watches[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse watch %s: %w", resp.Watches[i].Address, err)
		}
		watches[i] = w
	}
	return watches, nil
}

func accountPath(network, address, leaf string) string {
	return "/api/v1/networks/" + url.PathEscape(network) + "/accounts/" + url.PathEscape(address) + "/" + leaf
}

// do sends one request and decodes a JSON response into out. A zero want
// accepts any 2xx status.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, want int, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == want
	if want == 0 {
		ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// watchResponse is the API response format for a watch.
// The server returns poll_interval as a string (e.g. "30s").
type watchResponse struct {
	Network      string     `json:"network"`
	Address      string     `json:"address"`
	PollInterval string     `json:"poll_interval"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	LastTxHash   *string    `json:"last_tx_hash,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func responseToWatch(resp *watchResponse) (*Watch, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	return &Watch{
		Network:      resp.Network,
		Address:      resp.Address,
		PollInterval: pollInterval,
		LastPolledAt: resp.LastPolledAt,
		LastTxHash:   resp.LastTxHash,
		CreatedAt:    resp.CreatedAt,
		UpdatedAt:    resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}
