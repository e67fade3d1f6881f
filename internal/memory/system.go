// Package memory implements the layered memory subsystem: a bounded working
// set, an episodic event log, a semantic knowledge graph and an emotional
// affect store, unified behind a single store/query/consolidate surface.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// Clock supplies the current time. Injectable for deterministic tests.
type Clock func() time.Time

var defaultClock Clock = time.Now

// TagDerivedFact marks episodic events whose content yielded semantic facts;
// pruning never deletes tagged events.
const TagDerivedFact = "has-derived-fact"

// tagDurable marks working items already recorded episodically at store
// time, so eviction migration does not duplicate them.
const tagDurable = "durable"

// Backend is the durable storage required by the system; *store.SQLiteStore
// satisfies it.
type Backend interface {
	EventStore
	SemanticStore
	AffectStore
}

// Config tunes the layered memory system.
type Config struct {
	// WorkingCapacity bounds the working layer; must be positive.
	WorkingCapacity int

	// EvictionQueueSize bounds the working layer's pending-eviction queue;
	// overflow spills synchronously into the episodic log. Non-positive
	// selects the default.
	EvictionQueueSize int

	// Weights for the shared relevance scoring.
	Weights ScoringWeights

	// RecencyHalfLife controls the exponential recency falloff in scoring.
	RecencyHalfLife time.Duration

	// AffectHalfLife controls emotional decay toward neutral.
	AffectHalfLife time.Duration

	// ConfirmationDecay in (0, 1] shrinks each successive confidence boost.
	ConfirmationDecay float64

	// ActivationBoost is added to a concept's activation per referencing fact.
	ActivationBoost float64

	// ActivationDecay scales concept activation each consolidation sweep.
	ActivationDecay float64

	// ExtractionBatch caps how many unprocessed episodic events one
	// consolidation sweep runs extraction over.
	ExtractionBatch int

	// EpisodicRetention is how long unprotected events survive pruning.
	EpisodicRetention time.Duration

	// FactRetention is the minimum age before a low-confidence fact can be
	// pruned.
	FactRetention time.Duration

	// MinFactConfidence is the pruning confidence floor.
	MinFactConfidence float64

	// PriorityDecayAge is how old a working item must be before
	// consolidation lowers its priority a step.
	PriorityDecayAge time.Duration

	// MaxResults is the default result cap for queries that do not set one.
	MaxResults int

	// ConsolidationInterval is the background sweep period.
	ConsolidationInterval time.Duration

	// Extractor is the pluggable fact-extraction strategy. Nil selects the
	// built-in heuristic extractor.
	Extractor Extractor

	// SemanticLookup decides whether query terms warrant querying the
	// semantic layer. Nil selects the default (any term present).
	SemanticLookup func(terms []string) bool

	// Clock is the time source; nil selects time.Now.
	Clock Clock
}

// DefaultConfig returns the default system configuration.
func DefaultConfig() Config {
	return Config{
		WorkingCapacity:       32,
		EvictionQueueSize:     defaultEvictionQueueSize,
		Weights:               DefaultScoringWeights(),
		RecencyHalfLife:       24 * time.Hour,
		AffectHalfLife:        6 * time.Hour,
		ConfirmationDecay:     0.5,
		ActivationBoost:       0.2,
		ActivationDecay:       0.9,
		ExtractionBatch:       64,
		EpisodicRetention:     30 * 24 * time.Hour,
		FactRetention:         7 * 24 * time.Hour,
		MinFactConfidence:     0.2,
		PriorityDecayAge:      12 * time.Hour,
		MaxResults:            50,
		ConsolidationInterval: time.Hour,
	}
}

// StoreKind selects which layers a Store call touches.
type StoreKind string

const (
	StoreEvent       StoreKind = "event"
	StoreFactHint    StoreKind = "fact_hint"
	StoreAffectDelta StoreKind = "affect_delta"
)

// StoreRequest is the tagged input to Store; the fields read depend on Kind.
type StoreRequest struct {
	Kind StoreKind

	// Event fields.
	Item *model.MemoryItem

	// Fact hint fields.
	Text         string
	Participants []string

	// Affect delta fields.
	SubjectID      string
	ValenceDelta   float64
	IntensityDelta float64
}

// System is the orchestrator over the four layers. It owns no record
// storage itself, only dispatch, ranking and consolidation scheduling.
type System struct {
	working   *WorkingMemory
	episodic  *EpisodicMemory
	semantic  *SemanticMemory
	emotional *EmotionalMemory

	backend        Backend
	cfg            Config
	clock          Clock
	semanticLookup func(terms []string) bool
	logger         *zap.Logger

	// consolidateMu is the single-flight guard: overlapping sweeps are
	// skipped, never run concurrently over the same layers.
	consolidateMu sync.Mutex

	schedMu   sync.Mutex
	schedStop chan struct{}
}

// NewSystem builds the layered system over a durable backend.
func NewSystem(backend Backend, cfg Config, logger *zap.Logger) (*System, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = defaultClock
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultConfig().MaxResults
	}

	working, err := NewWorkingMemory(cfg.WorkingCapacity, cfg.EvictionQueueSize, clock, logger)
	if err != nil {
		return nil, err
	}
	semantic, err := NewSemanticMemory(backend, cfg.Extractor, cfg.ConfirmationDecay, cfg.ActivationBoost, clock, logger)
	if err != nil {
		return nil, err
	}
	emotional, err := NewEmotionalMemory(backend, cfg.AffectHalfLife, clock, logger)
	if err != nil {
		return nil, err
	}
	episodic := NewEpisodicMemory(backend, logger)

	// Eviction queue overflow must never lose an item: the oldest pending
	// eviction is recorded episodically right away instead of being dropped.
	working.SetOverflowHandler(func(item model.MemoryItem) error {
		if item.HasTag(tagDurable) {
			return nil
		}
		migrated := item
		migrated.ID = backend.NewID()
		_, err := episodic.Record(context.Background(), migrated)
		return err
	})

	lookup := cfg.SemanticLookup
	if lookup == nil {
		lookup = func(terms []string) bool { return len(terms) > 0 }
	}

	return &System{
		working:        working,
		episodic:       episodic,
		semantic:       semantic,
		emotional:      emotional,
		backend:        backend,
		cfg:            cfg,
		clock:          clock,
		semanticLookup: lookup,
		logger:         logger.With(zap.String("component", "layered_memory")),
	}, nil
}

// Working exposes the working layer.
func (s *System) Working() *WorkingMemory { return s.working }

// Episodic exposes the episodic layer.
func (s *System) Episodic() *EpisodicMemory { return s.episodic }

// Semantic exposes the semantic layer.
func (s *System) Semantic() *SemanticMemory { return s.semantic }

// Emotional exposes the emotional layer.
func (s *System) Emotional() *EmotionalMemory { return s.emotional }

// Store dispatches one logical remember call to the relevant layers and
// returns the generated ids. Per-layer writes are ordered so a failure in a
// later layer never requires rolling back an earlier one.
func (s *System) Store(ctx context.Context, req StoreRequest) ([]string, error) {
	switch req.Kind {
	case StoreEvent:
		return s.storeEvent(ctx, req.Item)
	case StoreFactHint:
		facts, err := s.semantic.ExtractAndStore(ctx, req.Text, req.Participants)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(facts))
		for _, f := range facts {
			ids = append(ids, f.ID)
		}
		return ids, nil
	case StoreAffectDelta:
		if req.SubjectID == "" {
			return nil, fmt.Errorf("affect delta: subject id is required")
		}
		if _, err := s.emotional.ApplyDelta(ctx, req.SubjectID, req.ValenceDelta, req.IntensityDelta); err != nil {
			return nil, err
		}
		return []string{req.SubjectID}, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", req.Kind)
	}
}

// storeEvent adds the item to working memory. Critical items are also
// recorded episodically right away so they can never be lost to eviction;
// the working copy is tagged so migration does not duplicate it.
func (s *System) storeEvent(ctx context.Context, item *model.MemoryItem) ([]string, error) {
	if item == nil {
		return nil, fmt.Errorf("store event: item is required")
	}

	ev := *item
	if ev.ID == "" {
		ev.ID = s.backend.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock()
	}

	ids := []string{ev.ID}
	if ev.Priority == model.PriorityCritical {
		durable := ev
		durable.ID = s.backend.NewID()
		epID, err := s.episodic.Record(ctx, durable)
		if err != nil {
			return nil, err
		}
		// Copy before appending: ev.Tags aliases the caller's slice.
		ev.Tags = append(append([]string(nil), ev.Tags...), tagDurable)
		ids = append(ids, epID)
	}

	s.working.Add(ev)
	return ids, nil
}

// Query fans the request across the relevant layers, scores candidates with
// the shared relevance function, and returns the ranked result. Layers are
// read one at a time; cross-layer consistency is eventual, not linearizable.
func (s *System) Query(ctx context.Context, req model.QueryRequest) (model.QueryResult, error) {
	if req.TimeRange != nil && req.TimeRange.Start.After(req.TimeRange.End) {
		return model.QueryResult{}, fmt.Errorf("query range start after end: %w", ErrInvalidRange)
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.MaxResults
	}
	candidateLimit := maxResults * 4
	if candidateLimit < 200 {
		candidateLimit = 200
	}

	sc := newScorer(s.cfg.Weights, s.clock(), s.cfg.RecencyHalfLife, req.Terms)
	var candidates []model.ScoredResult
	layers := []model.Layer{model.LayerWorking, model.LayerEpisodic}

	// Working memory: native filters applied in-process.
	for _, item := range s.working.GetRecent(s.cfg.WorkingCapacity) {
		if !matchesFilters(&item, req) {
			continue
		}
		it := item
		candidates = append(candidates, model.ScoredResult{
			Item: &it, Layer: model.LayerWorking, Score: sc.scoreItem(&it),
		})
	}

	// Episodic memory: the store applies the native temporal/participant
	// filter; the remaining filter intersects in-process.
	events, err := s.episodicCandidates(ctx, req, candidateLimit)
	if err != nil {
		return model.QueryResult{}, err
	}
	for _, ev := range events {
		if !matchesFilters(&ev, req) {
			continue
		}
		e := ev
		candidates = append(candidates, model.ScoredResult{
			Item: &e, Layer: model.LayerEpisodic, Score: sc.scoreItem(&e),
		})
	}

	if s.semanticLookup(req.Terms) {
		layers = append(layers, model.LayerSemantic)
		facts, err := s.semantic.Matching(ctx, req.Terms, candidateLimit)
		if err != nil {
			return model.QueryResult{}, err
		}
		for _, f := range facts {
			fc := f
			candidates = append(candidates, model.ScoredResult{
				Fact: &fc, Layer: model.LayerSemantic, Score: sc.scoreFact(&fc),
			})
		}
	}

	if len(req.Participants) > 0 {
		layers = append(layers, model.LayerEmotional)
		states, err := s.emotional.StatesFor(ctx, req.Participants)
		if err != nil {
			return model.QueryResult{}, err
		}
		for _, st := range states {
			sv := st
			candidates = append(candidates, model.ScoredResult{
				Affect: &sv, Layer: model.LayerEmotional, Score: sc.scoreAffect(&sv),
			})
		}
	}

	total := len(candidates)

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Score >= req.RelevanceThreshold {
			filtered = append(filtered, c)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Timestamp().After(filtered[j].Timestamp())
	})
	if len(filtered) > maxResults {
		filtered = filtered[:maxResults]
	}

	results := make([]model.ScoredResult, len(filtered))
	copy(results, filtered)

	return model.QueryResult{
		Results:         results,
		TotalCandidates: total,
		LayersQueried:   layers,
	}, nil
}

func (s *System) episodicCandidates(ctx context.Context, req model.QueryRequest, limit int) ([]model.MemoryItem, error) {
	switch {
	case req.TimeRange != nil:
		return s.episodic.QueryByTimeRange(ctx, req.TimeRange.Start, req.TimeRange.End)
	case len(req.Participants) > 0:
		return s.episodic.QueryByParticipants(ctx, req.Participants)
	default:
		return s.episodic.Recent(ctx, limit)
	}
}

func matchesFilters(item *model.MemoryItem, req model.QueryRequest) bool {
	if req.TimeRange != nil {
		if item.Timestamp.Before(req.TimeRange.Start) || item.Timestamp.After(req.TimeRange.End) {
			return false
		}
	}
	if len(req.Participants) > 0 && !item.HasAnyParticipant(req.Participants) {
		return false
	}
	return true
}

// GetStatistics samples each layer in turn; it never locks all layers
// simultaneously, so the aggregate may be slightly stale.
func (s *System) GetStatistics(ctx context.Context) model.LayerStatistics {
	stats := model.LayerStatistics{
		WorkingItems:     s.working.Len(),
		PendingEvictions: s.working.PendingEvictions(),
	}

	if count, oldest, newest, err := s.backend.EventStats(ctx); err == nil {
		stats.EpisodicEvents = count
		stats.OldestEvent = oldest
		stats.NewestEvent = newest
	} else {
		s.logger.Warn("event stats failed", zap.Error(err))
	}
	if n, err := s.backend.FactCount(ctx); err == nil {
		stats.Facts = n
	} else {
		s.logger.Warn("fact count failed", zap.Error(err))
	}
	if n, err := s.backend.ConceptCount(ctx); err == nil {
		stats.Concepts = n
	} else {
		s.logger.Warn("concept count failed", zap.Error(err))
	}
	if n, err := s.backend.AffectCount(ctx); err == nil {
		stats.AffectSubjects = n
	} else {
		s.logger.Warn("affect count failed", zap.Error(err))
	}
	return stats
}
