package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) pollAction(network, address string, maxPages int) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        workflowID(network, address),
		Workflow:  PollAddressWorkflow,
		TaskQueue: c.taskQueue,
		Args: []interface{}{PollAddressInput{
			Network:  network,
			Address:  address,
			MaxPages: maxPages,
		}},
	}
}

// UpsertAddressSchedule creates or updates the Temporal schedule polling an
// address. An existing schedule gets the new interval and page budget.
func (c *Client) UpsertAddressSchedule(ctx context.Context, network, address string, interval time.Duration, maxPages int) error {
	id := scheduleID(network, address)
	spec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
	}

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID:     id,
			Spec:   spec,
			Action: c.pollAction(network, address, maxPages),
			Memo: map[string]interface{}{
				"network":    network,
				"address":    address,
				"created_by": "ledgerfeed",
			},
		})
		if err != nil {
			c.logger.Error("failed to create schedule",
				"address", address,
				"schedule_id", id,
				"error", err,
			)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}

		c.logger.Info("address schedule created",
			"network", network,
			"address", address,
			"schedule_id", id,
			"interval", interval,
		)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec = &spec
			input.Description.Schedule.Action = c.pollAction(network, address, maxPages)
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("address schedule updated",
		"network", network,
		"address", address,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteAddressSchedule deletes the Temporal schedule for an address.
func (c *Client) DeleteAddressSchedule(ctx context.Context, network, address string) error {
	id := scheduleID(network, address)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("address schedule deleted",
		"network", network,
		"address", address,
		"schedule_id", id,
	)
	return nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

var _ Scheduler = (*Client)(nil)

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
