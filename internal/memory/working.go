package memory

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// defaultEvictionQueueSize bounds the internal queue of eviction events
// between consolidation sweeps.
const defaultEvictionQueueSize = 256

// WorkingMemory holds the small, most-recent set of items a caller is
// actively reasoning about. Inserts beyond capacity synchronously evict the
// lowest-priority, oldest item onto an internal queue that consolidation
// drains into episodic memory, so capacity is never exceeded and the
// orchestrator never has to hold two layer locks at once. When the queue
// itself fills, the oldest pending eviction is handed to the overflow
// handler instead of being dropped; with no handler (or a failed one) the
// item stays queued past the soft bound. Evicted items are never discarded.
type WorkingMemory struct {
	mu       sync.RWMutex
	items    []model.MemoryItem // index 0 is newest
	capacity int
	evicted  []model.MemoryItem
	maxQueue int
	overflow func(model.MemoryItem) error
	clock    Clock
	logger   *zap.Logger
}

// NewWorkingMemory creates a working memory with the given capacity.
// queueSize bounds the eviction queue; non-positive selects the default.
func NewWorkingMemory(capacity, queueSize int, clock Clock, logger *zap.Logger) (*WorkingMemory, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("working memory capacity %d: %w", capacity, ErrInvalidConfiguration)
	}
	if queueSize <= 0 {
		queueSize = defaultEvictionQueueSize
	}
	if clock == nil {
		clock = defaultClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkingMemory{
		items:    make([]model.MemoryItem, 0, capacity),
		capacity: capacity,
		maxQueue: queueSize,
		clock:    clock,
		logger:   logger.With(zap.String("memory", "working")),
	}, nil
}

// SetOverflowHandler installs the function invoked with the oldest pending
// eviction when the queue is full. The handler runs outside the working
// memory lock; returning nil means the item is durably handled.
func (m *WorkingMemory) SetOverflowHandler(fn func(model.MemoryItem) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overflow = fn
}

// Add inserts an item at the head of the recency order and returns its id.
// A missing id or timestamp is filled in at insertion time.
func (m *WorkingMemory) Add(item model.MemoryItem) string {
	m.mu.Lock()

	if item.ID == "" {
		item.ID = ulid.Make().String()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = m.clock()
	}
	item.Layer = model.LayerWorking
	if !model.ValidPriorities[item.Priority] {
		item.Priority = model.PriorityNormal
	}

	m.items = append([]model.MemoryItem{item}, m.items...)

	var spill *model.MemoryItem
	if len(m.items) > m.capacity {
		spill = m.evictLocked()
	}
	handler := m.overflow
	m.mu.Unlock()

	if spill != nil {
		m.spillOver(handler, *spill)
	}
	return item.ID
}

// evictLocked removes the lowest-priority item, oldest among ties, and
// queues a copy for episodic migration. If the queue is at its bound, the
// oldest pending eviction is returned for the overflow handler.
func (m *WorkingMemory) evictLocked() *model.MemoryItem {
	victim := 0
	for i, item := range m.items {
		v := m.items[victim]
		if item.Priority.Rank() < v.Priority.Rank() ||
			(item.Priority.Rank() == v.Priority.Rank() && item.Timestamp.Before(v.Timestamp)) {
			victim = i
		}
	}

	ev := m.items[victim]
	m.items = append(m.items[:victim], m.items[victim+1:]...)

	var spill *model.MemoryItem
	if len(m.evicted) >= m.maxQueue {
		s := m.evicted[0]
		m.evicted = m.evicted[1:]
		spill = &s
	}
	m.evicted = append(m.evicted, ev)
	return spill
}

// spillOver hands a queue-overflow item to the handler; if that is absent or
// fails, the item goes back to the front of the queue so the next sweep
// retries it.
func (m *WorkingMemory) spillOver(handler func(model.MemoryItem) error, item model.MemoryItem) {
	if handler == nil {
		m.logger.Warn("eviction queue full with no overflow handler, keeping item queued",
			zap.String("id", item.ID))
		m.RequeueEviction(item)
		return
	}
	if err := handler(item); err != nil {
		m.logger.Warn("eviction overflow handler failed, requeueing",
			zap.String("id", item.ID), zap.Error(err))
		m.RequeueEviction(item)
		return
	}
	m.logger.Debug("eviction queue overflow handled", zap.String("id", item.ID))
}

// GetRecent returns up to n items, newest first. n <= 0 returns empty.
func (m *WorkingMemory) GetRecent(n int) []model.MemoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > len(m.items) {
		n = len(m.items)
	}
	out := make([]model.MemoryItem, n)
	copy(out, m.items[:n])
	return out
}

// Remove deletes an item by id. Removing an absent id is a no-op.
func (m *WorkingMemory) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, item := range m.items {
		if item.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return
		}
	}
}

// Len returns the current item count.
func (m *WorkingMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// DrainEvictions returns and clears the queued eviction events.
func (m *WorkingMemory) DrainEvictions() []model.MemoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.evicted
	m.evicted = nil
	return out
}

// RequeueEviction puts an eviction event back at the front of the queue
// after a failed migration so the next sweep retries it.
func (m *WorkingMemory) RequeueEviction(item model.MemoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append([]model.MemoryItem{item}, m.evicted...)
}

// PendingEvictions returns the number of queued eviction events.
func (m *WorkingMemory) PendingEvictions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.evicted)
}

// DecayPriorities lowers by one step the priority of every item older than
// the cutoff, accelerating its eventual eviction. Returns the number of
// items changed.
func (m *WorkingMemory) DecayPriorities(olderThan func(model.MemoryItem) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.items {
		if m.items[i].Priority == model.PriorityLow {
			continue
		}
		if olderThan(m.items[i]) {
			m.items[i].Priority = m.items[i].Priority.Lower()
			n++
		}
	}
	return n
}
