package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

func newTestSystem(t *testing.T, mutate func(*Config)) (*System, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock.Now
	cfg.Extractor = fixedExtractor() // no facts unless a test overrides
	if mutate != nil {
		mutate(&cfg)
	}
	sys, err := NewSystem(newTestBackend(t), cfg, nil)
	if err != nil {
		t.Fatalf("create system: %v", err)
	}
	return sys, clock
}

func storeEvent(t *testing.T, sys *System, content string, priority model.Priority, participants ...string) string {
	t.Helper()
	ids, err := sys.Store(context.Background(), StoreRequest{
		Kind: StoreEvent,
		Item: &model.MemoryItem{Content: content, Priority: priority, Participants: participants},
	})
	if err != nil {
		t.Fatalf("store %q: %v", content, err)
	}
	return ids[0]
}

func TestStoreDispatch(t *testing.T) {
	ctx := context.Background()
	sys, _ := newTestSystem(t, func(cfg *Config) {
		cfg.Extractor = fixedExtractor(FactCandidate{
			Subject: "aldric", Predicate: "trusts", Object: "the scholar", Confidence: 0.6,
		})
	})

	ids, err := sys.Store(ctx, StoreRequest{Kind: StoreEvent, Item: &model.MemoryItem{Content: "a scene"}})
	if err != nil || len(ids) != 1 {
		t.Fatalf("event store: ids=%v err=%v", ids, err)
	}
	if sys.Working().Len() != 1 {
		t.Errorf("expected item in working memory")
	}

	ids, err = sys.Store(ctx, StoreRequest{Kind: StoreFactHint, Text: "aldric trusts the scholar"})
	if err != nil || len(ids) != 1 {
		t.Fatalf("fact hint: ids=%v err=%v", ids, err)
	}
	facts, _ := sys.Semantic().QueryBySubject(ctx, "aldric", 0)
	if len(facts) != 1 {
		t.Errorf("expected stored fact, got %d", len(facts))
	}

	ids, err = sys.Store(ctx, StoreRequest{Kind: StoreAffectDelta, SubjectID: "mara", ValenceDelta: 0.3, IntensityDelta: 0.2})
	if err != nil || len(ids) != 1 {
		t.Fatalf("affect delta: ids=%v err=%v", ids, err)
	}
	st, _ := sys.Emotional().GetState(ctx, "mara")
	if st.Valence != 0.3 {
		t.Errorf("affect delta not applied: %+v", st)
	}

	if _, err := sys.Store(ctx, StoreRequest{Kind: StoreAffectDelta}); err == nil {
		t.Error("expected error for missing subject id")
	}
	if _, err := sys.Store(ctx, StoreRequest{Kind: "bogus"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := sys.Store(ctx, StoreRequest{Kind: StoreEvent}); err == nil {
		t.Error("expected error for nil item")
	}
}

func TestEvictionsMigrateExactlyOnce(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, func(cfg *Config) { cfg.WorkingCapacity = 1 })

	storeEvent(t, sys, "first", model.PriorityNormal)
	clock.Advance(time.Second)
	storeEvent(t, sys, "second", model.PriorityNormal)

	// Nothing is lost before consolidation: the evicted item sits queued.
	if sys.Working().PendingEvictions() != 1 {
		t.Fatalf("expected 1 pending eviction, got %d", sys.Working().PendingEvictions())
	}

	sum, err := sys.Consolidate(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if sum.Migrated != 1 {
		t.Fatalf("expected 1 migrated, got %d", sum.Migrated)
	}

	events, _ := sys.Episodic().Recent(ctx, 10)
	if len(events) != 1 || events[0].Content != "first" {
		t.Fatalf("expected evicted item in episodic log, got %+v", events)
	}

	// A second sweep must not duplicate it.
	sum, _ = sys.Consolidate(ctx)
	if sum.Migrated != 0 {
		t.Errorf("expected no re-migration, got %d", sum.Migrated)
	}
	events, _ = sys.Episodic().Recent(ctx, 10)
	if len(events) != 1 {
		t.Errorf("expected 1 episodic event, got %d", len(events))
	}
}

func TestCriticalItemsRecordedImmediately(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, func(cfg *Config) { cfg.WorkingCapacity = 1 })

	ids, err := sys.Store(ctx, StoreRequest{Kind: StoreEvent, Item: &model.MemoryItem{
		Content: "the bridge collapsed", Priority: model.PriorityCritical,
	}})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected working and episodic ids, got %v", ids)
	}

	// Durable before any consolidation runs.
	events, _ := sys.Episodic().Recent(ctx, 10)
	if len(events) != 1 {
		t.Fatalf("expected immediate episodic record, got %d", len(events))
	}

	clock.Advance(time.Second)
	storeEvent(t, sys, "the king fell", model.PriorityCritical)

	// The first critical item was evicted, but it is already episodic;
	// consolidation must not record it a second time.
	sum, err := sys.Consolidate(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if sum.Migrated != 0 {
		t.Errorf("expected no migration of durable items, got %d", sum.Migrated)
	}
	events, _ = sys.Episodic().Recent(ctx, 10)
	if len(events) != 2 {
		t.Errorf("expected exactly 2 episodic events, got %d", len(events))
	}
}

func TestEvictionQueueOverflowRecordsEpisodically(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, func(cfg *Config) {
		cfg.WorkingCapacity = 1
		cfg.EvictionQueueSize = 2
	})

	for i := 0; i < 5; i++ {
		storeEvent(t, sys, fmt.Sprintf("scene %d", i), model.PriorityNormal)
		clock.Advance(time.Second)
	}

	// The queue held two of the four evictions; the two oldest overflowed
	// and must already be durable.
	events, err := sys.Episodic().Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 overflow events recorded, got %d", len(events))
	}

	// After a sweep every evicted item is episodic exactly once.
	if _, err := sys.Consolidate(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	events, _ = sys.Episodic().Recent(ctx, 10)
	if len(events) != 4 {
		t.Fatalf("expected all 4 evictions episodic, got %d", len(events))
	}
	seen := map[string]int{}
	for _, ev := range events {
		seen[ev.Content]++
	}
	for i := 0; i < 4; i++ {
		if seen[fmt.Sprintf("scene %d", i)] != 1 {
			t.Errorf("scene %d recorded %d times", i, seen[fmt.Sprintf("scene %d", i)])
		}
	}
}

func TestCriticalStoreDoesNotMutateCallerTags(t *testing.T) {
	ctx := context.Background()
	sys, _ := newTestSystem(t, nil)

	tags := make([]string, 1, 4)
	tags[0] = "scene"
	item := &model.MemoryItem{Content: "the gate fell", Priority: model.PriorityCritical, Tags: tags}

	if _, err := sys.Store(ctx, StoreRequest{Kind: StoreEvent, Item: item}); err != nil {
		t.Fatalf("store: %v", err)
	}

	if len(item.Tags) != 1 || item.Tags[0] != "scene" {
		t.Fatalf("caller item mutated: %v", item.Tags)
	}
	if backing := tags[:cap(tags)]; backing[1] == tagDurable {
		t.Error("spare capacity of caller tag slice was written to")
	}

	// The working copy still carries the durable tag.
	recent := sys.Working().GetRecent(1)
	if len(recent) != 1 || !recent[0].HasTag(tagDurable) || !recent[0].HasTag("scene") {
		t.Errorf("working copy tags wrong: %v", recent[0].Tags)
	}
}

func TestQueryRanksByRecencyWithoutTerms(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, nil)

	for _, content := range []string{"oldest", "middle", "newest"} {
		storeEvent(t, sys, content, model.PriorityNormal)
		clock.Advance(time.Hour)
	}

	res, err := sys.Query(ctx, model.QueryRequest{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	want := []string{"newest", "middle", "oldest"}
	for i, r := range res.Results {
		if r.Item == nil || r.Item.Content != want[i] {
			t.Errorf("position %d: expected %q, got %+v", i, want[i], r)
		}
	}
	for i := 1; i < len(res.Results); i++ {
		if res.Results[i].Score > res.Results[i-1].Score {
			t.Error("results not sorted by score")
		}
	}
}

func TestQueryThresholdIsMonotone(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, nil)

	for i := 0; i < 6; i++ {
		storeEvent(t, sys, fmt.Sprintf("aldric scene %d", i), model.PriorityNormal)
		clock.Advance(12 * time.Hour)
	}

	prev := -1
	for _, threshold := range []float64{0, 0.2, 0.5, 0.9} {
		res, err := sys.Query(ctx, model.QueryRequest{Terms: []string{"aldric"}, RelevanceThreshold: threshold})
		if err != nil {
			t.Fatalf("query at %v: %v", threshold, err)
		}
		for _, r := range res.Results {
			if r.Score < threshold {
				t.Errorf("threshold %v: result below threshold (%v)", threshold, r.Score)
			}
		}
		if prev >= 0 && len(res.Results) > prev {
			t.Errorf("threshold %v: result count grew from %d to %d", threshold, prev, len(res.Results))
		}
		prev = len(res.Results)
	}
}

func TestQueryInvalidTimeRange(t *testing.T) {
	sys, clock := newTestSystem(t, nil)

	now := clock.Now()
	_, err := sys.Query(context.Background(), model.QueryRequest{
		TimeRange: &model.TimeRange{Start: now, End: now.Add(-time.Hour)},
	})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestQueryFansOutAcrossLayers(t *testing.T) {
	ctx := context.Background()
	sys, _ := newTestSystem(t, func(cfg *Config) {
		cfg.Extractor = fixedExtractor(FactCandidate{
			Subject: "aldric", Predicate: "trusts", Object: "the scholar", Confidence: 0.8,
		})
	})

	storeEvent(t, sys, "aldric met the scholar", model.PriorityNormal, "aldric")
	sys.Store(ctx, StoreRequest{Kind: StoreFactHint, Text: "aldric trusts the scholar"})
	sys.Store(ctx, StoreRequest{Kind: StoreAffectDelta, SubjectID: "aldric", ValenceDelta: 0.4, IntensityDelta: 0.6})

	res, err := sys.Query(ctx, model.QueryRequest{Terms: []string{"aldric"}, Participants: []string{"aldric"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.LayersQueried) != 4 {
		t.Errorf("expected all 4 layers queried, got %v", res.LayersQueried)
	}

	seen := map[model.Layer]bool{}
	for _, r := range res.Results {
		seen[r.Layer] = true
	}
	for _, layer := range []model.Layer{model.LayerWorking, model.LayerSemantic, model.LayerEmotional} {
		if !seen[layer] {
			t.Errorf("no result from %s layer: %+v", layer, res.Results)
		}
	}
	if res.TotalCandidates < len(res.Results) {
		t.Errorf("total candidates %d below result count %d", res.TotalCandidates, len(res.Results))
	}
}

func TestQueryMaxResultsCaps(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, nil)

	for i := 0; i < 10; i++ {
		storeEvent(t, sys, "scene", model.PriorityNormal)
		clock.Advance(time.Minute)
	}

	res, err := sys.Query(ctx, model.QueryRequest{MaxResults: 4})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Results) != 4 {
		t.Errorf("expected 4 results, got %d", len(res.Results))
	}
	if res.TotalCandidates != 10 {
		t.Errorf("expected 10 candidates, got %d", res.TotalCandidates)
	}
}

func TestConsolidateExtractsAndToleratesPartialFailure(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, func(cfg *Config) {
		cfg.Extractor = func(text string, participants []string) ([]FactCandidate, error) {
			if strings.Contains(text, "corrupt") {
				return nil, fmt.Errorf("unparseable content")
			}
			return HeuristicExtractor(text, participants)
		}
	})

	for _, content := range []string{
		"Aldric trusts the scholar",
		"this record is corrupt",
		"Mara fears the dragon",
	} {
		if _, err := sys.Episodic().Record(ctx, model.MemoryItem{
			Content: content, Timestamp: clock.Now(), Priority: model.PriorityNormal,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
		clock.Advance(time.Second)
	}

	sum, err := sys.Consolidate(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if sum.FactsExtracted != 2 {
		t.Errorf("expected 2 facts extracted, got %d", sum.FactsExtracted)
	}
	if len(sum.Errors) != 1 {
		t.Errorf("expected 1 collected error, got %v", sum.Errors)
	}

	// The failing event stays unprocessed; the others were marked and
	// tagged so pruning protects them.
	pending, _ := sys.backend.UnconsolidatedEvents(ctx, 10)
	if len(pending) != 1 || !strings.Contains(pending[0].Content, "corrupt") {
		t.Errorf("expected the failed event to remain pending, got %+v", pending)
	}

	facts, _ := sys.Semantic().QueryBySubject(ctx, "aldric", 0)
	if len(facts) != 1 {
		t.Errorf("expected fact for aldric, got %d", len(facts))
	}

	// The retry fails on the same event again and extracts nothing new.
	sum, _ = sys.Consolidate(ctx)
	if sum.FactsExtracted != 0 {
		t.Errorf("expected no new facts on retry, got %d", sum.FactsExtracted)
	}
}

func TestConsolidatePrunesOldUnprotectedEvents(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, func(cfg *Config) {
		cfg.EpisodicRetention = 24 * time.Hour
	})

	old := clock.Now().Add(-48 * time.Hour)
	sys.Episodic().Record(ctx, model.MemoryItem{
		Content: "forgettable", Timestamp: old, Priority: model.PriorityLow,
	})
	sys.Episodic().Record(ctx, model.MemoryItem{
		Content: "unforgettable", Timestamp: old, Priority: model.PriorityCritical,
	})

	sum, err := sys.Consolidate(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if sum.EventsPruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", sum.EventsPruned)
	}

	events, _ := sys.Episodic().Recent(ctx, 10)
	if len(events) != 1 || events[0].Content != "unforgettable" {
		t.Errorf("critical event should survive pruning, got %+v", events)
	}
}

func TestConsolidateSkipsWhenSweepInProgress(t *testing.T) {
	sys, _ := newTestSystem(t, nil)

	sys.consolidateMu.Lock()
	sum, err := sys.Consolidate(context.Background())
	sys.consolidateMu.Unlock()
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if !sum.Skipped {
		t.Error("expected overlapping sweep to be skipped")
	}

	// Once the lock is free the sweep runs normally.
	sum, err = sys.Consolidate(context.Background())
	if err != nil || sum.Skipped {
		t.Errorf("expected sweep to run, skipped=%v err=%v", sum.Skipped, err)
	}
}

func TestConsolidateDecaysStalePriorities(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, func(cfg *Config) {
		cfg.PriorityDecayAge = time.Hour
	})

	storeEvent(t, sys, "stale", model.PriorityHigh)
	clock.Advance(2 * time.Hour)
	storeEvent(t, sys, "fresh", model.PriorityHigh)

	sum, err := sys.Consolidate(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if sum.PrioritiesDecayed != 1 {
		t.Fatalf("expected 1 priority decayed, got %d", sum.PrioritiesDecayed)
	}
	for _, item := range sys.Working().GetRecent(10) {
		if item.Content == "stale" && item.Priority != model.PriorityNormal {
			t.Errorf("stale item: expected normal priority, got %s", item.Priority)
		}
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	sys, _ := newTestSystem(t, func(cfg *Config) {
		cfg.ConsolidationInterval = time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sys.StartConsolidation(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sys.StartConsolidation(ctx); err == nil {
		t.Error("expected error starting twice")
	}
	sys.StopConsolidation()
	sys.StopConsolidation() // idempotent

	bad, _ := newTestSystem(t, func(cfg *Config) {
		cfg.ConsolidationInterval = 0
	})
	if err := bad.StartConsolidation(ctx); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestGetStatistics(t *testing.T) {
	ctx := context.Background()
	sys, clock := newTestSystem(t, func(cfg *Config) {
		cfg.Extractor = fixedExtractor(FactCandidate{
			Subject: "aldric", Predicate: "trusts", Object: "the scholar", Confidence: 0.6,
		})
	})

	storeEvent(t, sys, "one", model.PriorityNormal)
	clock.Advance(time.Second)
	storeEvent(t, sys, "two", model.PriorityCritical)
	sys.Store(ctx, StoreRequest{Kind: StoreFactHint, Text: "whatever"})
	sys.Store(ctx, StoreRequest{Kind: StoreAffectDelta, SubjectID: "mara", IntensityDelta: 0.5})

	stats := sys.GetStatistics(ctx)
	if stats.WorkingItems != 2 {
		t.Errorf("expected 2 working items, got %d", stats.WorkingItems)
	}
	if stats.EpisodicEvents != 1 {
		t.Errorf("expected 1 episodic event, got %d", stats.EpisodicEvents)
	}
	if stats.Facts != 1 {
		t.Errorf("expected 1 fact, got %d", stats.Facts)
	}
	if stats.Concepts != 2 {
		t.Errorf("expected 2 concepts, got %d", stats.Concepts)
	}
	if stats.AffectSubjects != 1 {
		t.Errorf("expected 1 affect subject, got %d", stats.AffectSubjects)
	}
	if stats.OldestEvent.IsZero() || stats.NewestEvent.IsZero() {
		t.Error("expected event time bounds")
	}
}
