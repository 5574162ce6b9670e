package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgerfeed/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing transfer events to NATS.
type Publisher interface {
	// PublishTransfer publishes a single transfer event to JetStream.
	PublishTransfer(ctx context.Context, event *TransferEvent) error

	// PublishTransferBatch publishes multiple transfer events. A failed
	// event is logged and does not stop the rest of the batch; the returned
	// count is the number of events published.
	PublishTransferBatch(ctx context.Context, events []*TransferEvent) (int, error)

	// Close closes the connection to NATS.
	Close() error
}

// streamPublisher is the part of jetstream.JetStream used for publishing.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes transfer events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      streamPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for transfers.
	StreamName = "TRANSFERS"

	// SubjectPrefix is the first token of every transfer subject.
	SubjectPrefix = "transfers"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + ".>"

	// StreamRetention is how long messages are retained.
	StreamRetention = 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Connect to NATS
	nc, err := nats.Connect(natsURL,
		nats.Name("ledgerfeed-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	p := newJetStreamPublisher(js, m, logger)
	p.nc = nc
	return p, nil
}

func newJetStreamPublisher(js streamPublisher, m *metrics.Metrics, logger *slog.Logger) *JetStreamPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &JetStreamPublisher{js: js, metrics: m, logger: logger}
}

// StreamConfig describes the transfers stream.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Transfers newly stored for watched ledger addresses",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

// ensureStream creates the JetStream stream if it doesn't exist.
func ensureStream(js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)
	if _, err := js.CreateStream(ctx, StreamConfig()); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishTransfer publishes a single transfer event. The message id is the
// subject plus hash, so JetStream drops republished duplicates.
func (p *JetStreamPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) (err error) {
	subject := event.Subject()
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			p.metrics.RecordNATSPublish(SubjectPrefix+"."+event.Network, status, time.Since(start).Seconds())
		}
	}()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(subject+"."+event.TxHash)); err != nil {
		return fmt.Errorf("failed to publish transfer: %w", err)
	}

	p.logger.DebugContext(ctx, "published transfer event",
		"subject", subject,
		"tx_hash", event.TxHash,
	)
	return nil
}

// PublishTransferBatch publishes events one by one, logging failures.
func (p *JetStreamPublisher) PublishTransferBatch(ctx context.Context, events []*TransferEvent) (int, error) {
	published := 0
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if err := p.PublishTransfer(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish transfer in batch",
				"tx_hash", event.TxHash,
				"address", event.Address,
				"error", err,
			)
			continue
		}
		published++
	}

	p.logger.DebugContext(ctx, "published transfer batch",
		"count", published,
		"total", len(events),
	)
	return published, nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
