package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

func activityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// maxFetchRounds bounds the fetch/write rounds of one run. A backlog that
// needs more continues as a new run from the saved cursor.
const maxFetchRounds = 10

// PollAddressWorkflow fetches new transfers for one watched address. It is
// triggered by a Temporal schedule at the address's poll interval.
//
// The workflow performs these steps:
// 1. Load the newest stored hashes (GetExistingTxHashes)
// 2. Walk the ledger history back to the newest stored hash (FetchTransfers)
// 3. Store the new transfers and stamp the poll time (WriteTransfers)
// 4. Announce newly stored transfers on NATS (PublishTransfers, best-effort)
//
// Steps 2-4 repeat while the walk hits its page cap before the stored
// watermark, so a backlog larger than MaxPages is never skipped. The first
// poll of an address stores only the newest MaxPages pages.
func PollAddressWorkflow(ctx workflow.Context, input PollAddressInput) (*PollAddressResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PollAddressWorkflow started", "network", input.Network, "address", input.Address)

	result := &PollAddressResult{
		Network:  input.Network,
		Address:  input.Address,
		PollTime: workflow.Now(ctx),
	}
	fail := func(step string, err error) (*PollAddressResult, error) {
		errMsg := fmt.Sprintf("failed to %s: %v", step, err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to %s: %w", step, err)
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	// Step 1: stored watermark, carried over when resuming a backlog
	stopAt, cursor := input.StopAtHash, input.Cursor
	var known []string
	if cursor == "" {
		var existing *GetExistingTxHashesResult
		err := workflow.ExecuteActivity(ctx, a.GetExistingTxHashes, GetExistingTxHashesInput{
			Network: input.Network,
			Address: input.Address,
		}).Get(ctx, &existing)
		if err != nil {
			return fail("get existing tx hashes", err)
		}
		known = existing.TxHashes
		if len(known) > 0 {
			stopAt = known[0]
		}
		logger.Info("got existing tx hashes", "count", len(known), "stop_at_hash", stopAt)
	}
	if input.NewestTxHash != "" {
		newest := input.NewestTxHash
		result.NewestTxHash = &newest
	}

	for {
		// Step 2: ledger history
		var fetched *FetchTransfersResult
		err := workflow.ExecuteActivity(ctx, a.FetchTransfers, FetchTransfersInput{
			Network:    input.Network,
			Address:    input.Address,
			StopAtHash: stopAt,
			MaxPages:   input.MaxPages,
			Known:      known,
			Cursor:     cursor,
		}).Get(ctx, &fetched)
		if err != nil {
			logger.Error("failed to fetch transfers", "address", input.Address, "error", err)
			return fail("fetch transfers", err)
		}
		result.Rounds++
		result.Pages += fetched.Pages
		result.TransferCount += len(fetched.Transfers)
		if result.NewestTxHash == nil && len(fetched.Transfers) > 0 {
			newest := fetched.Transfers[0].TxHash
			result.NewestTxHash = &newest
		}

		// Step 3: store, also run with nothing new so the poll time advances
		var newest string
		if result.NewestTxHash != nil {
			newest = *result.NewestTxHash
		}
		var written *WriteTransfersResult
		err = workflow.ExecuteActivity(ctx, a.WriteTransfers, WriteTransfersInput{
			Network:      input.Network,
			Address:      input.Address,
			Transfers:    fetched.Transfers,
			NewestTxHash: newest,
		}).Get(ctx, &written)
		if err != nil {
			logger.Error("failed to write transfers", "address", input.Address, "error", err)
			return fail("write transfers", err)
		}
		result.Written += written.Written
		result.Skipped += written.Skipped

		// Step 4: feed
		if len(written.Stored) > 0 {
			var published *PublishTransfersResult
			err = workflow.ExecuteActivity(ctx, a.PublishTransfers, PublishTransfersInput{
				Transfers: written.Stored,
			}).Get(ctx, &published)
			if err != nil {
				// Transfers are persisted; subscribers can backfill from the API.
				logger.Warn("failed to publish transfers", "address", input.Address, "error", err)
			} else {
				result.Published += published.Published
			}
		}

		if stopAt == "" || fetched.ReachedStop || fetched.NextCursor == "" {
			break
		}
		cursor = fetched.NextCursor
		if result.Rounds >= maxFetchRounds {
			logger.Info("history backlog remains, continuing as new",
				"network", input.Network,
				"address", input.Address,
				"rounds", result.Rounds,
			)
			return nil, workflow.NewContinueAsNewError(ctx, PollAddressWorkflow, PollAddressInput{
				Network:      input.Network,
				Address:      input.Address,
				MaxPages:     input.MaxPages,
				Cursor:       cursor,
				StopAtHash:   stopAt,
				NewestTxHash: newest,
			})
		}
	}

	logger.Info("PollAddressWorkflow completed successfully",
		"network", input.Network,
		"address", input.Address,
		"transfer_count", result.TransferCount,
		"rounds", result.Rounds,
		"written", result.Written,
		"skipped", result.Skipped,
		"published", result.Published,
	)
	return result, nil
}
