package cost

import "sync"

// DefaultMistakeLimit is how many consecutive mistakes trigger a check-in.
const DefaultMistakeLimit = 3

// MistakeCounter counts consecutive model mistakes: missing parameters,
// responses without a tool call, repeated identical calls.
type MistakeCounter struct {
	mu    sync.Mutex
	limit int
	count int
}

// NewMistakeCounter returns a counter with the given limit; limit <= 0
// selects DefaultMistakeLimit.
func NewMistakeCounter(limit int) *MistakeCounter {
	if limit <= 0 {
		limit = DefaultMistakeLimit
	}
	return &MistakeCounter{limit: limit}
}

// Add records one mistake and returns the new count.
func (m *MistakeCounter) Add() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	return m.count
}

// Reset clears the streak.
func (m *MistakeCounter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = 0
}

// Count returns the current streak.
func (m *MistakeCounter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Reached reports whether the streak is at or over the limit.
func (m *MistakeCounter) Reached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count >= m.limit
}

// Limit returns the configured threshold.
func (m *MistakeCounter) Limit() int {
	return m.limit
}

// Trip raises the streak to the limit so the next check asks the user.
func (m *MistakeCounter) Trip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count < m.limit {
		m.count = m.limit
	}
}
