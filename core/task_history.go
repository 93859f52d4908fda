package core

import (
	"sync"
	"time"
)

const defaultTransitionHistoryCapacity = 32

// TransitionRecord captures one applied lifecycle transition.
type TransitionRecord struct {
	TaskID TaskID
	Name   string
	From   TaskState
	To     TaskState
	At     time.Time
}

type transitionHistory struct {
	mu    sync.Mutex
	items []TransitionRecord
	head  int
	count int
}

func newTransitionHistory(capacity int) *transitionHistory {
	if capacity < 1 {
		capacity = defaultTransitionHistoryCapacity
	}
	return &transitionHistory{items: make([]TransitionRecord, capacity)}
}

func (h *transitionHistory) Add(record TransitionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. A non-positive limit returns all.
func (h *transitionHistory) Recent(limit int) []TransitionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TransitionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *transitionHistory) Last() (TransitionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TransitionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
