package memory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// SemanticStore is the durable storage contract for the knowledge graph.
type SemanticStore interface {
	NewID() string
	FactByTriple(ctx context.Context, subject, predicate, object string) (*model.KnowledgeFact, bool, error)
	InsertFact(ctx context.Context, f *model.KnowledgeFact) error
	UpdateFact(ctx context.Context, f *model.KnowledgeFact) error
	FactsBySubject(ctx context.Context, subject string, minConfidence float64) ([]model.KnowledgeFact, error)
	FactsByPredicate(ctx context.Context, predicate string, minConfidence float64) ([]model.KnowledgeFact, error)
	FactsMatching(ctx context.Context, terms []string, limit int) ([]model.KnowledgeFact, error)
	DeleteFactsBelow(ctx context.Context, minConfidence float64, firstSeenBefore time.Time) ([]model.KnowledgeFact, error)
	FactCount(ctx context.Context) (int, error)
	ConceptByName(ctx context.Context, name string) (*model.ConceptNode, bool, error)
	ConceptByID(ctx context.Context, id string) (*model.ConceptNode, bool, error)
	SaveConcept(ctx context.Context, c *model.ConceptNode) error
	DecayActivations(ctx context.Context, factor float64) error
	ConceptCount(ctx context.Context) (int, error)
}

// SemanticMemory maintains the deduplicated, confidence-weighted graph of
// facts and concepts. Writes are serialized by a layer-local mutex so the
// read-modify-write fact upsert cannot lose confirmations.
type SemanticMemory struct {
	writeMu sync.Mutex

	store             SemanticStore
	extract           Extractor
	confirmationDecay float64
	activationBoost   float64
	clock             Clock
	logger            *zap.Logger
}

// NewSemanticMemory creates a semantic layer over the given store. A nil
// extractor falls back to the built-in heuristic extractor.
func NewSemanticMemory(store SemanticStore, extract Extractor, confirmationDecay, activationBoost float64, clock Clock, logger *zap.Logger) (*SemanticMemory, error) {
	if confirmationDecay <= 0 || confirmationDecay > 1 {
		return nil, fmt.Errorf("confirmation decay %v out of (0, 1]: %w", confirmationDecay, ErrInvalidConfiguration)
	}
	if extract == nil {
		extract = HeuristicExtractor
	}
	if clock == nil {
		clock = defaultClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticMemory{
		store:             store,
		extract:           extract,
		confirmationDecay: confirmationDecay,
		activationBoost:   activationBoost,
		clock:             clock,
		logger:            logger.With(zap.String("memory", "semantic")),
	}, nil
}

// ExtractAndStore runs the extraction step over text and merges every
// candidate triple into the graph. Re-asserting an existing triple
// increments its confirmation count and raises confidence with diminishing
// returns instead of creating a duplicate row. Zero candidates is not an
// error.
func (m *SemanticMemory) ExtractAndStore(ctx context.Context, text string, participants []string) ([]model.KnowledgeFact, error) {
	candidates, err := m.extract(text, participants)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if len(candidates) == 0 {
		return []model.KnowledgeFact{}, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	facts := make([]model.KnowledgeFact, 0, len(candidates))
	for _, c := range candidates {
		subject := Normalize(c.Subject)
		predicate := Normalize(c.Predicate)
		object := Normalize(c.Object)
		if subject == "" || predicate == "" || object == "" {
			continue
		}
		raw := clamp01(c.Confidence)

		fact, err := m.upsertFact(ctx, subject, predicate, object, raw)
		if err != nil {
			return nil, err
		}
		if err := m.linkConcepts(ctx, fact); err != nil {
			return nil, err
		}
		facts = append(facts, *fact)
	}
	return facts, nil
}

func (m *SemanticMemory) upsertFact(ctx context.Context, subject, predicate, object string, raw float64) (*model.KnowledgeFact, error) {
	now := m.clock()

	existing, found, err := m.store.FactByTriple(ctx, subject, predicate, object)
	if err != nil {
		return nil, fmt.Errorf("lookup fact: %w", err)
	}

	if found {
		// Diminishing-returns boost: the marginal gain shrinks as the
		// confirmation count grows, keeping repeated noisy extraction from
		// inflating confidence.
		boost := raw * math.Pow(m.confirmationDecay, float64(existing.ConfirmationCount))
		existing.Confidence = clamp01(existing.Confidence + boost)
		existing.ConfirmationCount++
		existing.LastConfirmed = now
		if err := m.store.UpdateFact(ctx, existing); err != nil {
			return nil, err
		}
		m.logger.Debug("fact confirmed",
			zap.String("id", existing.ID),
			zap.Int("confirmations", existing.ConfirmationCount),
			zap.Float64("confidence", existing.Confidence))
		return existing, nil
	}

	fact := &model.KnowledgeFact{
		ID:                m.store.NewID(),
		Subject:           subject,
		Predicate:         predicate,
		Object:            object,
		Confidence:        clamp01(raw),
		ConfirmationCount: 1,
		FirstSeen:         now,
		LastConfirmed:     now,
	}
	if err := m.store.InsertFact(ctx, fact); err != nil {
		return nil, err
	}
	m.logger.Debug("fact stored", zap.String("id", fact.ID), zap.String("subject", subject))
	return fact, nil
}

// linkConcepts ensures concept nodes exist for both endpoints, links them to
// each other symmetrically, attaches the fact to both, and bumps activation.
func (m *SemanticMemory) linkConcepts(ctx context.Context, fact *model.KnowledgeFact) error {
	subj, err := m.ensureConcept(ctx, fact.Subject)
	if err != nil {
		return err
	}
	obj, err := m.ensureConcept(ctx, fact.Object)
	if err != nil {
		return err
	}

	subj.FactIDs = appendUnique(subj.FactIDs, fact.ID)
	obj.FactIDs = appendUnique(obj.FactIDs, fact.ID)
	if subj.ID != obj.ID {
		subj.ConceptIDs = appendUnique(subj.ConceptIDs, obj.ID)
		obj.ConceptIDs = appendUnique(obj.ConceptIDs, subj.ID)
	}
	subj.Activation = clamp01(subj.Activation + m.activationBoost)
	obj.Activation = clamp01(obj.Activation + m.activationBoost)

	if err := m.store.SaveConcept(ctx, subj); err != nil {
		return err
	}
	if subj.ID == obj.ID {
		return nil
	}
	return m.store.SaveConcept(ctx, obj)
}

func (m *SemanticMemory) ensureConcept(ctx context.Context, name string) (*model.ConceptNode, error) {
	c, found, err := m.store.ConceptByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("lookup concept: %w", err)
	}
	if found {
		return c, nil
	}
	return &model.ConceptNode{ID: m.store.NewID(), Name: name}, nil
}

// QueryBySubject returns facts for a subject at or above minConfidence. An
// unmatched subject returns an empty slice.
func (m *SemanticMemory) QueryBySubject(ctx context.Context, subject string, minConfidence float64) ([]model.KnowledgeFact, error) {
	facts, err := m.store.FactsBySubject(ctx, Normalize(subject), minConfidence)
	if err != nil {
		return nil, err
	}
	if facts == nil {
		facts = []model.KnowledgeFact{}
	}
	return facts, nil
}

// QueryByPredicate returns facts for a predicate at or above minConfidence.
func (m *SemanticMemory) QueryByPredicate(ctx context.Context, predicate string, minConfidence float64) ([]model.KnowledgeFact, error) {
	facts, err := m.store.FactsByPredicate(ctx, Normalize(predicate), minConfidence)
	if err != nil {
		return nil, err
	}
	if facts == nil {
		facts = []model.KnowledgeFact{}
	}
	return facts, nil
}

// GetConcept looks up a concept node by name. Absence is not an error.
func (m *SemanticMemory) GetConcept(ctx context.Context, name string) (model.ConceptNode, bool, error) {
	c, found, err := m.store.ConceptByName(ctx, Normalize(name))
	if err != nil || !found {
		return model.ConceptNode{}, false, err
	}
	return *c, true, nil
}

// Matching returns facts whose triple contains any of the terms.
func (m *SemanticMemory) Matching(ctx context.Context, terms []string, limit int) ([]model.KnowledgeFact, error) {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		if n := Normalize(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	return m.store.FactsMatching(ctx, normalized, limit)
}

// Prune deletes facts whose confidence is below minConfidence and whose age
// exceeds minAge. Young low-confidence facts survive so later confirmation
// can still rescue them. Deleted facts are unlinked from their endpoint
// concepts; the concepts themselves are never deleted.
func (m *SemanticMemory) Prune(ctx context.Context, minConfidence float64, minAge time.Duration) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cutoff := m.clock().Add(-minAge)
	deleted, err := m.store.DeleteFactsBelow(ctx, minConfidence, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune facts: %w", err)
	}

	for _, f := range deleted {
		for _, name := range []string{f.Subject, f.Object} {
			c, found, err := m.store.ConceptByName(ctx, name)
			if err != nil {
				return len(deleted), err
			}
			if !found {
				continue
			}
			c.FactIDs = removeString(c.FactIDs, f.ID)
			if err := m.store.SaveConcept(ctx, c); err != nil {
				return len(deleted), err
			}
		}
	}
	return len(deleted), nil
}

// DecayActivations scales every concept's activation toward dormancy.
func (m *SemanticMemory) DecayActivations(ctx context.Context, factor float64) error {
	return m.store.DecayActivations(ctx, clamp01(factor))
}

// Normalize case- and whitespace-folds an entity or predicate string.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// clamp01 is the fixed clamp applied as the last step of every confidence
// mutation, so intermediate overflow is never observable.
func clamp01(x float64) float64 {
	return math.Max(0.0, math.Min(1.0, x))
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
