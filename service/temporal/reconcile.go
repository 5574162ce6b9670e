package temporal

import (
	"context"
	"fmt"

	"github.com/brojonat/ledgerfeed/service/db"
	"go.temporal.io/sdk/client"
)

// AddressSchedule is a Temporal schedule that polls one address.
type AddressSchedule struct {
	ID      string `json:"id"`
	Network string `json:"network"`
	Address string `json:"address"`
}

// ListAddressSchedules lists every address polling schedule. Schedules
// with other IDs are ignored.
func (c *Client) ListAddressSchedules(ctx context.Context) ([]AddressSchedule, error) {
	iter, err := c.client.ScheduleClient().List(ctx, client.ScheduleListOptions{
		PageSize: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var out []AddressSchedule
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate schedules: %w", err)
		}
		network, address, ok := parseScheduleID(entry.ID)
		if !ok {
			continue
		}
		out = append(out, AddressSchedule{ID: entry.ID, Network: network, Address: address})
	}
	return out, nil
}

// Reconciliation lists the differences between watched addresses and
// their schedules.
type Reconciliation struct {
	// Missing are watched addresses without a schedule.
	Missing []*db.WatchedAddress `json:"missing"`
	// Orphaned are schedules whose address is no longer watched.
	Orphaned []AddressSchedule `json:"orphaned"`
}

// Consistent reports whether nothing needs fixing.
func (r Reconciliation) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Orphaned) == 0
}

// Reconcile compares watched addresses with existing schedules.
func Reconcile(watches []*db.WatchedAddress, schedules []AddressSchedule) Reconciliation {
	scheduled := make(map[string]bool, len(schedules))
	for _, s := range schedules {
		scheduled[s.ID] = true
	}
	watched := make(map[string]bool, len(watches))

	r := Reconciliation{
		Missing:  []*db.WatchedAddress{},
		Orphaned: []AddressSchedule{},
	}
	for _, w := range watches {
		id := scheduleID(w.Network, w.Address)
		watched[id] = true
		if !scheduled[id] {
			r.Missing = append(r.Missing, w)
		}
	}
	for _, s := range schedules {
		if !watched[s.ID] {
			r.Orphaned = append(r.Orphaned, s)
		}
	}
	return r
}

// Apply creates the missing schedules and deletes the orphaned ones. It
// stops at the first failure.
func (r Reconciliation) Apply(ctx context.Context, scheduler Scheduler, maxPages int) error {
	for _, w := range r.Missing {
		if err := scheduler.UpsertAddressSchedule(ctx, w.Network, w.Address, w.PollInterval, maxPages); err != nil {
			return fmt.Errorf("failed to create schedule for %s: %w", w.Address, err)
		}
	}
	for _, s := range r.Orphaned {
		if err := scheduler.DeleteAddressSchedule(ctx, s.Network, s.Address); err != nil {
			return fmt.Errorf("failed to delete schedule %s: %w", s.ID, err)
		}
	}
	return nil
}
