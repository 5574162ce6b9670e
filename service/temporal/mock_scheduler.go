package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type mockSchedule struct {
	interval time.Duration
	maxPages int
}

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]mockSchedule
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]mockSchedule),
	}
}

// UpsertAddressSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertAddressSchedule(ctx context.Context, network, address string, interval time.Duration, maxPages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.schedules[scheduleID(network, address)] = mockSchedule{interval: interval, maxPages: maxPages}
	return nil
}

// DeleteAddressSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteAddressSchedule(ctx context.Context, network, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := scheduleID(network, address)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// SetUpsertError makes UpsertAddressSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError makes DeleteAddressSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// ScheduleExists checks if a schedule exists for an address.
func (m *MockScheduler) ScheduleExists(network, address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.schedules[scheduleID(network, address)]
	return exists
}

// GetScheduleInterval returns the interval for an address's schedule.
func (m *MockScheduler) GetScheduleInterval(network, address string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.schedules[scheduleID(network, address)]
	return s.interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]mockSchedule)
	m.upsertErr = nil
	m.deleteErr = nil
}

var _ Scheduler = (*MockScheduler)(nil)
