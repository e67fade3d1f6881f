package memory

import (
	"math"
	"strings"
	"time"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// ScoringWeights combines the three relevance sub-scores. The weights should
// sum to 1; Normalized() rescales them if they do not.
type ScoringWeights struct {
	Recency     float64 `json:"recency"`
	TermOverlap float64 `json:"term_overlap"`
	Confidence  float64 `json:"confidence"`
}

// DefaultScoringWeights returns the default relevance weighting.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Recency: 0.3, TermOverlap: 0.4, Confidence: 0.3}
}

// Normalized rescales the weights to sum to 1.
func (w ScoringWeights) Normalized() ScoringWeights {
	sum := w.Recency + w.TermOverlap + w.Confidence
	if sum <= 0 {
		return DefaultScoringWeights()
	}
	return ScoringWeights{
		Recency:     w.Recency / sum,
		TermOverlap: w.TermOverlap / sum,
		Confidence:  w.Confidence / sum,
	}
}

// scorer computes the shared, layer-agnostic relevance score for one query.
type scorer struct {
	weights  ScoringWeights
	now      time.Time
	halfLife time.Duration
	terms    []string // lowercased query terms
}

func newScorer(weights ScoringWeights, now time.Time, halfLife time.Duration, terms []string) *scorer {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	if halfLife <= 0 {
		halfLife = 24 * time.Hour
	}
	return &scorer{
		weights:  weights.Normalized(),
		now:      now,
		halfLife: halfLife,
		terms:    lowered,
	}
}

// score combines recency, term overlap and confidence/priority. With no
// query terms the score reduces to the recency sub-score, so an unfiltered
// query ranks purely by recency.
func (s *scorer) score(timestamp time.Time, text string, confidence float64) float64 {
	recency := s.recency(timestamp)
	if len(s.terms) == 0 {
		return recency
	}
	return s.weights.Recency*recency +
		s.weights.TermOverlap*s.termOverlap(text) +
		s.weights.Confidence*clamp01(confidence)
}

func (s *scorer) scoreItem(item *model.MemoryItem) float64 {
	return s.score(item.Timestamp, item.Content, priorityScore(item.Priority))
}

func (s *scorer) scoreFact(f *model.KnowledgeFact) float64 {
	return s.score(f.LastConfirmed, f.Subject+" "+f.Predicate+" "+f.Object, f.Confidence)
}

func (s *scorer) scoreAffect(st *model.EmotionalState) float64 {
	return s.score(st.LastUpdated, st.SubjectID, st.Intensity)
}

// recency is an exponential falloff from now, normalized to [0, 1].
func (s *scorer) recency(t time.Time) float64 {
	age := s.now.Sub(t)
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, age.Seconds()/s.halfLife.Seconds())
}

// termOverlap is the fraction of query terms found case-insensitively in the
// candidate's textual content.
func (s *scorer) termOverlap(text string) float64 {
	if len(s.terms) == 0 {
		return 0
	}
	lowered := strings.ToLower(text)
	matched := 0
	for _, term := range s.terms {
		if strings.Contains(lowered, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(s.terms))
}

// priorityScore maps item priority onto the fixed [0, 1] confidence scale.
func priorityScore(p model.Priority) float64 {
	switch p {
	case model.PriorityCritical:
		return 1.0
	case model.PriorityHigh:
		return 0.75
	case model.PriorityNormal:
		return 0.5
	case model.PriorityLow:
		return 0.25
	default:
		return 0.5
	}
}
