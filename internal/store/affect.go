package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

// AffectBySubject looks up the stored affect state for a subject.
func (s *SQLiteStore) AffectBySubject(ctx context.Context, subjectID string) (*model.EmotionalState, bool, error) {
	var st model.EmotionalState
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, valence, intensity, last_updated FROM affect_states WHERE subject_id = ?`,
		subjectID).Scan(&st.SubjectID, &st.Valence, &st.Intensity, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	st.LastUpdated = parseTime(updated)
	return &st, true, nil
}

// SaveAffect inserts or replaces the affect state for a subject.
func (s *SQLiteStore) SaveAffect(ctx context.Context, st model.EmotionalState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO affect_states (subject_id, valence, intensity, last_updated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   valence = excluded.valence,
		   intensity = excluded.intensity,
		   last_updated = excluded.last_updated`,
		st.SubjectID, st.Valence, st.Intensity, formatTime(st.LastUpdated))
	if err != nil {
		return fmt.Errorf("save affect: %w", err)
	}
	return nil
}

// AffectCount returns the number of tracked subjects.
func (s *SQLiteStore) AffectCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM affect_states`).Scan(&n)
	return n, err
}
