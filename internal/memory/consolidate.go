package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// Consolidate runs one cross-layer maintenance sweep: migrate queued
// working-memory evictions into the episodic log, extract semantic facts
// from unprocessed episodic content, then prune both durable layers. The
// steps are independent and partial failure is tolerated; non-fatal errors
// are collected into the summary instead of aborting the sweep.
//
// Overlapping calls are coalesced by a single-flight guard: if a sweep is
// already in progress the new call returns immediately with Skipped set.
func (s *System) Consolidate(ctx context.Context) (model.ConsolidationSummary, error) {
	if !s.consolidateMu.TryLock() {
		return model.ConsolidationSummary{Skipped: true}, nil
	}
	defer s.consolidateMu.Unlock()

	now := s.clock()
	var sum model.ConsolidationSummary

	cutoff := now.Add(-s.cfg.PriorityDecayAge)
	sum.PrioritiesDecayed = s.working.DecayPriorities(func(item model.MemoryItem) bool {
		return item.Timestamp.Before(cutoff)
	})

	s.migrateEvictions(ctx, &sum)
	s.extractFromEpisodic(ctx, now, &sum)
	s.pruneLayers(ctx, now, &sum)

	s.logger.Info("consolidation sweep completed",
		zap.Int("migrated", sum.Migrated),
		zap.Int("facts_extracted", sum.FactsExtracted),
		zap.Int("facts_confirmed", sum.FactsConfirmed),
		zap.Int("events_pruned", sum.EventsPruned),
		zap.Int("facts_pruned", sum.FactsPruned),
		zap.Int("errors", len(sum.Errors)))
	return sum, nil
}

// migrateEvictions drains the working layer's eviction queue into the
// episodic log. Each event is an immutable copy, so no two layer locks are
// ever held at once. A failed migration is requeued for the next sweep.
func (s *System) migrateEvictions(ctx context.Context, sum *model.ConsolidationSummary) {
	for _, ev := range s.working.DrainEvictions() {
		if ev.HasTag(tagDurable) {
			// Already recorded episodically at store time.
			continue
		}
		migrated := ev
		migrated.ID = s.backend.NewID()
		if _, err := s.episodic.Record(ctx, migrated); err != nil {
			s.working.RequeueEviction(ev)
			sum.Errors = append(sum.Errors, fmt.Sprintf("migrate %s: %v", ev.ID, err))
			s.logger.Warn("eviction migration failed", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		sum.Migrated++
	}
}

// extractFromEpisodic runs fact extraction over episodic events not yet
// processed. A failure on one event is logged and skipped; the remaining
// events still run. Re-running over an already-extracted event merely
// confirms existing facts, so the step is idempotent-safe.
func (s *System) extractFromEpisodic(ctx context.Context, now time.Time, sum *model.ConsolidationSummary) {
	events, err := s.backend.UnconsolidatedEvents(ctx, s.cfg.ExtractionBatch)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("list unconsolidated: %v", err))
		return
	}

	for _, ev := range events {
		facts, err := s.semantic.ExtractAndStore(ctx, ev.Content, ev.Participants)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("extract %s: %v", ev.ID, err))
			s.logger.Warn("extraction failed", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}

		tag := ""
		if len(facts) > 0 {
			tag = TagDerivedFact
		}
		if err := s.backend.MarkConsolidated(ctx, ev.ID, now, tag); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("mark %s: %v", ev.ID, err))
			continue
		}

		for _, f := range facts {
			if f.ConfirmationCount > 1 {
				sum.FactsConfirmed++
			} else {
				sum.FactsExtracted++
			}
		}
	}
}

// pruneLayers prunes each durable layer independently; one layer's failure
// does not stop the other's prune.
func (s *System) pruneLayers(ctx context.Context, now time.Time, sum *model.ConsolidationSummary) {
	n, err := s.episodic.Prune(ctx, now.Add(-s.cfg.EpisodicRetention), []string{TagDerivedFact})
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("prune episodic: %v", err))
	} else {
		sum.EventsPruned = n
	}

	n, err = s.semantic.Prune(ctx, s.cfg.MinFactConfidence, s.cfg.FactRetention)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("prune semantic: %v", err))
	} else {
		sum.FactsPruned = n
	}

	if s.cfg.ActivationDecay > 0 && s.cfg.ActivationDecay < 1 {
		if err := s.semantic.DecayActivations(ctx, s.cfg.ActivationDecay); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("decay activations: %v", err))
		}
	}
}

// StartConsolidation runs Consolidate on the configured interval until the
// context is cancelled or StopConsolidation is called.
func (s *System) StartConsolidation(ctx context.Context) error {
	if s.cfg.ConsolidationInterval <= 0 {
		return fmt.Errorf("consolidation interval %v: %w", s.cfg.ConsolidationInterval, ErrInvalidConfiguration)
	}

	s.schedMu.Lock()
	if s.schedStop != nil {
		s.schedMu.Unlock()
		return fmt.Errorf("consolidation scheduler already running")
	}
	stop := make(chan struct{})
	s.schedStop = stop
	s.schedMu.Unlock()

	go s.runScheduler(ctx, stop)
	s.logger.Info("consolidation scheduler started",
		zap.Duration("interval", s.cfg.ConsolidationInterval))
	return nil
}

func (s *System) runScheduler(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.ConsolidationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sum, err := s.Consolidate(ctx)
			if err != nil {
				s.logger.Error("scheduled consolidation failed", zap.Error(err))
			} else if sum.Skipped {
				s.logger.Debug("scheduled consolidation skipped, sweep in progress")
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// StopConsolidation stops the background scheduler. Stopping an idle system
// is a no-op.
func (s *System) StopConsolidation() {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.schedStop != nil {
		close(s.schedStop)
		s.schedStop = nil
		s.logger.Info("consolidation scheduler stopped")
	}
}
