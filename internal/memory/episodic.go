package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// EventStore is the durable storage contract for the episodic layer.
type EventStore interface {
	NewID() string
	InsertEvent(ctx context.Context, item model.MemoryItem) error
	EventsByTimeRange(ctx context.Context, start, end time.Time) ([]model.MemoryItem, error)
	EventsByParticipants(ctx context.Context, ids []string) ([]model.MemoryItem, error)
	RecentEvents(ctx context.Context, limit int) ([]model.MemoryItem, error)
	UnconsolidatedEvents(ctx context.Context, limit int) ([]model.MemoryItem, error)
	MarkConsolidated(ctx context.Context, id string, at time.Time, tag string) error
	PruneEvents(ctx context.Context, olderThan time.Time, keepTags []string) (int, error)
	EventStats(ctx context.Context) (count int, oldest, newest time.Time, err error)
}

// EpisodicMemory is the append-only timestamped event log. Events keep the
// timestamp stamped by the caller's clock, so migrated working-memory items
// retain their original occurrence time.
type EpisodicMemory struct {
	store  EventStore
	logger *zap.Logger
}

// NewEpisodicMemory creates an episodic layer over the given store.
func NewEpisodicMemory(store EventStore, logger *zap.Logger) *EpisodicMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EpisodicMemory{
		store:  store,
		logger: logger.With(zap.String("memory", "episodic")),
	}
}

// Record appends an event and returns its id. The item's timestamp is used
// as-is; an empty id is assigned from the store's id generator.
func (m *EpisodicMemory) Record(ctx context.Context, item model.MemoryItem) (string, error) {
	if item.ID == "" {
		item.ID = m.store.NewID()
	}
	item.Layer = model.LayerEpisodic
	if !model.ValidPriorities[item.Priority] {
		item.Priority = model.PriorityNormal
	}

	if err := m.store.InsertEvent(ctx, item); err != nil {
		return "", fmt.Errorf("record event: %w", err)
	}
	m.logger.Debug("event recorded", zap.String("id", item.ID))
	return item.ID, nil
}

// QueryByTimeRange returns events with start <= timestamp <= end, inclusive.
// start > end fails with ErrInvalidRange.
func (m *EpisodicMemory) QueryByTimeRange(ctx context.Context, start, end time.Time) ([]model.MemoryItem, error) {
	if start.After(end) {
		return nil, fmt.Errorf("start %s after end %s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), ErrInvalidRange)
	}
	items, err := m.store.EventsByTimeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.MemoryItem{}
	}
	return items, nil
}

// QueryByParticipants returns events whose participant set intersects ids.
// Unmatched ids are silently ignored.
func (m *EpisodicMemory) QueryByParticipants(ctx context.Context, ids []string) ([]model.MemoryItem, error) {
	items, err := m.store.EventsByParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.MemoryItem{}
	}
	return items, nil
}

// Recent returns up to limit events, newest first.
func (m *EpisodicMemory) Recent(ctx context.Context, limit int) ([]model.MemoryItem, error) {
	return m.store.RecentEvents(ctx, limit)
}

// Prune deletes events older than the cutoff unless protected by one of
// keepIfTagged or critical priority. This is the only deletion path and is
// invoked by consolidation, not automatically.
func (m *EpisodicMemory) Prune(ctx context.Context, olderThan time.Time, keepIfTagged []string) (int, error) {
	n, err := m.store.PruneEvents(ctx, olderThan, keepIfTagged)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	if n > 0 {
		m.logger.Debug("events pruned", zap.Int("count", n))
	}
	return n, nil
}
