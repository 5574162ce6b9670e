package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages the Temporal schedules that poll watched addresses.
// Each address gets its own schedule that triggers PollAddressWorkflow.
type Scheduler interface {
	// UpsertAddressSchedule creates the schedule for an address, or updates
	// its interval and page budget when it already exists.
	UpsertAddressSchedule(ctx context.Context, network, address string, interval time.Duration, maxPages int) error

	// DeleteAddressSchedule deletes the schedule for an address.
	// This stops the address from being polled.
	DeleteAddressSchedule(ctx context.Context, network, address string) error
}

// scheduleID returns the Temporal schedule ID for a watched address.
func scheduleID(network, address string) string {
	return scheduleIDPrefix + network + "-" + address
}

// workflowID returns the ID of the workflows a schedule starts.
func workflowID(network, address string) string {
	return "poll-" + network + "-" + address
}

const scheduleIDPrefix = "poll-address-"

// parseScheduleID reverses scheduleID. Network ids and classic addresses
// never contain a dash.
func parseScheduleID(id string) (network, address string, ok bool) {
	rest, found := strings.CutPrefix(id, scheduleIDPrefix)
	if !found {
		return "", "", false
	}
	network, address, found = strings.Cut(rest, "-")
	if !found || network == "" || address == "" || strings.Contains(address, "-") {
		return "", "", false
	}
	return network, address, true
}
