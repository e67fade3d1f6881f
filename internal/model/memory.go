// Package model defines the core memory data types.
package model

import "time"

// Layer identifies which memory layer a record belongs to.
type Layer string

const (
	LayerWorking   Layer = "working"
	LayerEpisodic  Layer = "episodic"
	LayerSemantic  Layer = "semantic"
	LayerEmotional Layer = "emotional"
)

// Priority is the retention priority of a memory item.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriorities are the allowed priority levels.
var ValidPriorities = map[Priority]bool{
	PriorityLow:      true,
	PriorityNormal:   true,
	PriorityHigh:     true,
	PriorityCritical: true,
}

// Rank returns the ordinal rank of a priority, lowest first.
// Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// Lower returns the next priority down. Low stays low.
func (p Priority) Lower() Priority {
	switch p {
	case PriorityCritical:
		return PriorityHigh
	case PriorityHigh:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// MemoryItem is the base unit stored in the working and episodic layers.
type MemoryItem struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	Layer        Layer     `json:"layer"`
	Participants []string  `json:"participants,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Priority     Priority  `json:"priority"`
}

// HasTag reports whether the item carries the given tag.
func (m *MemoryItem) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyParticipant reports whether the item's participant set intersects ids.
func (m *MemoryItem) HasAnyParticipant(ids []string) bool {
	for _, id := range ids {
		for _, p := range m.Participants {
			if p == id {
				return true
			}
		}
	}
	return false
}

// KnowledgeFact is a confidence-weighted semantic triple.
type KnowledgeFact struct {
	ID                string    `json:"id"`
	Subject           string    `json:"subject"`
	Predicate         string    `json:"predicate"`
	Object            string    `json:"object"`
	Confidence        float64   `json:"confidence"`
	ConfirmationCount int       `json:"confirmation_count"`
	FirstSeen         time.Time `json:"first_seen"`
	LastConfirmed     time.Time `json:"last_confirmed"`
}

// ConceptNode is an entity node in the knowledge graph. Association edges
// are stored as id lists so the cyclic graph persists without object
// references; edges in ConceptIDs are always symmetric.
type ConceptNode struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	FactIDs    []string `json:"associated_fact_ids,omitempty"`
	ConceptIDs []string `json:"associated_concept_ids,omitempty"`
	Activation float64  `json:"activation"`
}

// EmotionalState is a per-subject affect record. Valence is in [-1, 1],
// intensity in [0, 1].
type EmotionalState struct {
	SubjectID   string    `json:"subject_id"`
	Valence     float64   `json:"valence"`
	Intensity   float64   `json:"intensity"`
	LastUpdated time.Time `json:"last_updated"`
}

// TimeRange is an inclusive temporal filter.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// QueryRequest describes a cross-layer memory query.
type QueryRequest struct {
	Terms              []string   `json:"terms,omitempty"`
	TimeRange          *TimeRange `json:"time_range,omitempty"`
	Participants       []string   `json:"participants,omitempty"`
	MaxResults         int        `json:"max_results,omitempty"`
	RelevanceThreshold float64    `json:"relevance_threshold,omitempty"`
}

// ScoredResult is a single ranked query hit. Exactly one of Item, Fact or
// Affect is set, matching Layer.
type ScoredResult struct {
	Item   *MemoryItem     `json:"item,omitempty"`
	Fact   *KnowledgeFact  `json:"fact,omitempty"`
	Affect *EmotionalState `json:"affect,omitempty"`
	Layer  Layer           `json:"layer"`
	Score  float64         `json:"score"`
}

// Timestamp returns the result's reference time for recency ranking.
func (r *ScoredResult) Timestamp() time.Time {
	switch {
	case r.Item != nil:
		return r.Item.Timestamp
	case r.Fact != nil:
		return r.Fact.LastConfirmed
	case r.Affect != nil:
		return r.Affect.LastUpdated
	}
	return time.Time{}
}

// QueryResult is the ranked outcome of a cross-layer query.
type QueryResult struct {
	Results         []ScoredResult `json:"results"`
	TotalCandidates int            `json:"total_candidates_considered"`
	LayersQueried   []Layer        `json:"layers_queried"`
}

// ConsolidationSummary reports the outcome of one consolidation sweep.
type ConsolidationSummary struct {
	Skipped           bool     `json:"skipped,omitempty"`
	Migrated          int      `json:"migrated"`
	FactsExtracted    int      `json:"facts_extracted"`
	FactsConfirmed    int      `json:"facts_confirmed"`
	EventsPruned      int      `json:"events_pruned"`
	FactsPruned       int      `json:"facts_pruned"`
	PrioritiesDecayed int      `json:"priorities_decayed"`
	Errors            []string `json:"errors,omitempty"`
}

// LayerStatistics holds per-layer counts for observability. Layers are
// sampled one at a time, so the aggregate may be slightly stale.
type LayerStatistics struct {
	WorkingItems     int       `json:"working_items"`
	PendingEvictions int       `json:"pending_evictions"`
	EpisodicEvents   int       `json:"episodic_events"`
	OldestEvent      time.Time `json:"oldest_event,omitempty"`
	NewestEvent      time.Time `json:"newest_event,omitempty"`
	Facts            int       `json:"facts"`
	Concepts         int       `json:"concepts"`
	AffectSubjects   int       `json:"affect_subjects"`
}
