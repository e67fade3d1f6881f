package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// AffectStore is the durable storage contract for the emotional layer.
type AffectStore interface {
	AffectBySubject(ctx context.Context, subjectID string) (*model.EmotionalState, bool, error)
	SaveAffect(ctx context.Context, st model.EmotionalState) error
	AffectCount(ctx context.Context) (int, error)
}

// EmotionalMemory tracks per-subject valence and intensity with time-based
// decay toward neutral. Decay is computed lazily on read from the elapsed
// time since the last delta; reads never write back, so concurrent readers
// cannot race the stored state.
type EmotionalMemory struct {
	writeMu sync.Mutex

	store    AffectStore
	halfLife time.Duration
	clock    Clock
	logger   *zap.Logger
}

// NewEmotionalMemory creates an emotional layer over the given store.
func NewEmotionalMemory(store AffectStore, halfLife time.Duration, clock Clock, logger *zap.Logger) (*EmotionalMemory, error) {
	if halfLife <= 0 {
		return nil, fmt.Errorf("affect half-life %v must be positive: %w", halfLife, ErrInvalidConfiguration)
	}
	if clock == nil {
		clock = defaultClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmotionalMemory{
		store:    store,
		halfLife: halfLife,
		clock:    clock,
		logger:   logger.With(zap.String("memory", "emotional")),
	}, nil
}

// decayRate is a monotonically non-increasing function of elapsed time,
// bounded in (0, 1].
func (m *EmotionalMemory) decayRate(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1.0
	}
	return math.Pow(0.5, elapsed.Seconds()/m.halfLife.Seconds())
}

// ApplyDelta decays the subject's current state to now, adds the deltas,
// clamps, and writes the result back.
func (m *EmotionalMemory) ApplyDelta(ctx context.Context, subjectID string, valenceDelta, intensityDelta float64) (model.EmotionalState, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	now := m.clock()
	st, err := m.decayedState(ctx, subjectID, now)
	if err != nil {
		return model.EmotionalState{}, err
	}

	st.Valence = clampValence(st.Valence + valenceDelta)
	st.Intensity = clamp01(st.Intensity + intensityDelta)
	st.LastUpdated = now

	if err := m.store.SaveAffect(ctx, st); err != nil {
		return model.EmotionalState{}, err
	}
	m.logger.Debug("affect updated",
		zap.String("subject", subjectID),
		zap.Float64("valence", st.Valence),
		zap.Float64("intensity", st.Intensity))
	return st, nil
}

// GetState returns the subject's effective state with decay applied. An
// unknown subject yields a neutral default, not an error.
func (m *EmotionalMemory) GetState(ctx context.Context, subjectID string) (model.EmotionalState, error) {
	return m.decayedState(ctx, subjectID, m.clock())
}

// StatesFor returns the effective states for the subjects that have one.
func (m *EmotionalMemory) StatesFor(ctx context.Context, subjectIDs []string) ([]model.EmotionalState, error) {
	now := m.clock()
	var out []model.EmotionalState
	for _, id := range subjectIDs {
		stored, found, err := m.store.AffectBySubject(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, m.decay(*stored, now))
	}
	return out, nil
}

func (m *EmotionalMemory) decayedState(ctx context.Context, subjectID string, now time.Time) (model.EmotionalState, error) {
	stored, found, err := m.store.AffectBySubject(ctx, subjectID)
	if err != nil {
		return model.EmotionalState{}, err
	}
	if !found {
		return model.EmotionalState{SubjectID: subjectID}, nil
	}
	return m.decay(*stored, now), nil
}

func (m *EmotionalMemory) decay(st model.EmotionalState, now time.Time) model.EmotionalState {
	rate := m.decayRate(now.Sub(st.LastUpdated))
	st.Valence = clampValence(st.Valence * rate)
	st.Intensity = clamp01(st.Intensity * rate)
	return st
}

func clampValence(x float64) float64 {
	return math.Max(-1.0, math.Min(1.0, x))
}
