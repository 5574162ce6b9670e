// Package cluster executes JSON-RPC calls against a set of interchangeable
// ledger nodes, failing over from one node to the next.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAttemptTimeout bounds a single node attempt.
	DefaultAttemptTimeout = 10 * time.Second

	maxResponseBytes = 32 << 20
	maxErrorBody     = 512
)

// Doer is the HTTP client surface the cluster needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cluster holds the ordered node list for one network. It is safe for
// concurrent use; the node list is read-only after New.
type Cluster struct {
	network        string
	nodes          []string
	labels         []string
	selection      Selection
	attemptTimeout time.Duration
	http           Doer
	metrics        *metrics.Metrics
	logger         *slog.Logger
	retryable      map[string]bool

	next atomic.Uint64
	intn func(n int) int
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithSelection sets the node selection policy.
func WithSelection(s Selection) Option {
	return func(c *Cluster) { c.selection = s }
}

// WithAttemptTimeout sets the per-node attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Cluster) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(d Doer) Option {
	return func(c *Cluster) {
		if d != nil {
			c.http = d
		}
	}
}

// WithMetrics enables metric recording. A nil Metrics disables it.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cluster) { c.metrics = m }
}

// WithRetryableErrors lists node error codes, read from result.error, that
// count as a failed attempt. Any other error envelope is returned to the
// caller as a normal response.
func WithRetryableErrors(codes ...string) Option {
	return func(c *Cluster) {
		if c.retryable == nil {
			c.retryable = make(map[string]bool, len(codes))
		}
		for _, code := range codes {
			c.retryable[code] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cluster) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cluster for network over the given node URLs.
func New(network string, nodes []string, opts ...Option) (*Cluster, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for %s", network)
	}

	c := &Cluster{
		network:        network,
		nodes:          make([]string, 0, len(nodes)),
		labels:         make([]string, 0, len(nodes)),
		selection:      SelectOrdered,
		attemptTimeout: DefaultAttemptTimeout,
		http:           &http.Client{},
		logger:         slog.Default(),
		intn:           rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.selection.Validate(); err != nil {
		return nil, err
	}

	for _, node := range nodes {
		u, err := url.Parse(node)
		if err != nil {
			return nil, fmt.Errorf("invalid node URL %q: %w", node, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid node URL %q: expected http(s)://host", node)
		}
		c.nodes = append(c.nodes, node)
		c.labels = append(c.labels, u.Host)
	}

	return c, nil
}

// Network returns the network id the cluster serves.
func (c *Cluster) Network() string { return c.network }

// Nodes returns a copy of the configured node URLs.
func (c *Cluster) Nodes() []string {
	out := make([]string, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// AttemptError describes one failed node attempt.
type AttemptError struct {
	Node   string
	Reason string
	Err    error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Node, e.Reason, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Request performs one logical call. Nodes are tried in selection order, at
// most once each. A transport error, timeout, non-2xx status, undecodable
// body, non-object top level or retryable node error code moves on to the
// next node. When every node
// fails, the error wraps chain.ErrTransportExhausted and all attempt errors.
func (c *Cluster) Request(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	body, err := encodeRequest(method, params)
	if err != nil {
		return nil, err
	}

	order := c.order()
	errs := make([]error, 0, len(order))
	for i, idx := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, attemptErr := c.attempt(ctx, idx, method, body)
		if attemptErr == nil {
			if i > 0 {
				c.logger.InfoContext(ctx, "request served after failover",
					"network", c.network,
					"method", method,
					"node", c.labels[idx],
					"failed_attempts", i,
				)
			}
			return resp, nil
		}

		// Caller cancellation is not a node failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		errs = append(errs, attemptErr)
		if c.metrics != nil {
			c.metrics.RecordFailover(c.network, c.labels[idx], attemptErr.Reason)
		}
		c.logger.WarnContext(ctx, "ledger node attempt failed",
			"network", c.network,
			"method", method,
			"node", c.labels[idx],
			"reason", attemptErr.Reason,
			"error", attemptErr.Err,
		)
	}

	if c.metrics != nil {
		c.metrics.RecordExhausted(c.network, method)
	}
	c.logger.ErrorContext(ctx, "all ledger nodes failed",
		"network", c.network,
		"method", method,
		"nodes", len(order),
	)
	return nil, fmt.Errorf("%w: %s %s after %d nodes: %w",
		chain.ErrTransportExhausted, c.network, method, len(order), errors.Join(errs...))
}

// NodeStatus is the outcome of calling a single node during CallEach.
type NodeStatus struct {
	Node    string
	URL     string
	Healthy bool
	Latency time.Duration
	Result  map[string]any
	Err     error
}

// CallEach sends the same call to every node concurrently, without failover.
// Statuses are returned in configured node order.
func (c *Cluster) CallEach(ctx context.Context, method string, params map[string]any) []NodeStatus {
	statuses := make([]NodeStatus, len(c.nodes))
	body, err := encodeRequest(method, params)
	if err != nil {
		for i := range c.nodes {
			statuses[i] = NodeStatus{Node: c.labels[i], URL: c.nodes[i], Err: err}
		}
		return statuses
	}

	var g errgroup.Group
	for i := range c.nodes {
		g.Go(func() error {
			start := time.Now()
			resp, attemptErr := c.attempt(ctx, i, method, body)
			status := NodeStatus{
				Node:    c.labels[i],
				URL:     c.nodes[i],
				Latency: time.Since(start),
				Result:  resp,
				Healthy: attemptErr == nil,
			}
			if attemptErr != nil {
				status.Err = attemptErr
			}
			statuses[i] = status
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

func (c *Cluster) attempt(ctx context.Context, idx int, method string, body []byte) (map[string]any, *AttemptError) {
	node := c.labels[idx]
	fail := func(reason string, err error) *AttemptError {
		return &AttemptError{Node: node, Reason: reason, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	start := time.Now()
	resp, reason, err := c.do(attemptCtx, c.nodes[idx], body)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			reason = "timeout"
		}
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(c.network, method, status, node, duration)
	}

	c.logger.DebugContext(ctx, "ledger node attempt",
		"network", c.network,
		"method", method,
		"node", node,
		"status", status,
		"duration_s", duration,
	)

	if err != nil {
		return nil, fail(reason, err)
	}
	if code := c.retryableCode(resp); code != "" {
		return nil, fail("node_error", fmt.Errorf("node reported %s", code))
	}
	return resp, nil
}

func (c *Cluster) retryableCode(resp map[string]any) string {
	if len(c.retryable) == 0 {
		return ""
	}
	result, _ := resp["result"].(map[string]any)
	code, _ := result["error"].(string)
	if c.retryable[code] {
		return code
	}
	return ""
}

func (c *Cluster) do(ctx context.Context, nodeURL string, body []byte) (map[string]any, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL, bytes.NewReader(body))
	if err != nil {
		return nil, "request", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "transport", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "status", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, "decode", fmt.Errorf("failed to decode response: %w", err)
	}

	out, ok := payload.(map[string]any)
	if !ok {
		return nil, "decode", fmt.Errorf("top-level response is %T, not an object", payload)
	}
	return out, "", nil
}

func encodeRequest(method string, params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"method": method,
		"params": []any{params},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	return body, nil
}
