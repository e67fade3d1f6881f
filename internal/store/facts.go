package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

const factColumns = `id, subject, predicate, object, confidence, confirmation_count, first_seen, last_confirmed`

// FactByTriple looks up a fact by its normalized (subject, predicate, object).
func (s *SQLiteStore) FactByTriple(ctx context.Context, subject, predicate, object string) (*model.KnowledgeFact, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts
		 WHERE subject = ? AND predicate = ? AND object = ?`,
		subject, predicate, object)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// InsertFact stores a new fact row.
func (s *SQLiteStore) InsertFact(ctx context.Context, f *model.KnowledgeFact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (id, subject, predicate, object, confidence, confirmation_count, first_seen, last_confirmed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Subject, f.Predicate, f.Object, f.Confidence, f.ConfirmationCount,
		formatTime(f.FirstSeen), formatTime(f.LastConfirmed))
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// UpdateFact writes back a confirmed fact's mutable fields.
func (s *SQLiteStore) UpdateFact(ctx context.Context, f *model.KnowledgeFact) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE facts SET confidence = ?, confirmation_count = ?, last_confirmed = ? WHERE id = ?`,
		f.Confidence, f.ConfirmationCount, formatTime(f.LastConfirmed), f.ID)
	if err != nil {
		return fmt.Errorf("update fact: %w", err)
	}
	return nil
}

// FactsBySubject returns facts for a subject at or above minConfidence.
func (s *SQLiteStore) FactsBySubject(ctx context.Context, subject string, minConfidence float64) ([]model.KnowledgeFact, error) {
	return s.factsWhere(ctx, "subject = ? AND confidence >= ?", subject, minConfidence)
}

// FactsByPredicate returns facts for a predicate at or above minConfidence.
func (s *SQLiteStore) FactsByPredicate(ctx context.Context, predicate string, minConfidence float64) ([]model.KnowledgeFact, error) {
	return s.factsWhere(ctx, "predicate = ? AND confidence >= ?", predicate, minConfidence)
}

func (s *SQLiteStore) factsWhere(ctx context.Context, where string, args ...interface{}) ([]model.KnowledgeFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE `+where+` ORDER BY confidence DESC, last_confirmed DESC`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// FactsMatching returns facts whose subject, predicate or object contains any
// of the terms. With no terms it falls back to the most recently confirmed
// facts.
func (s *SQLiteStore) FactsMatching(ctx context.Context, terms []string, limit int) ([]model.KnowledgeFact, error) {
	if limit <= 0 {
		return nil, nil
	}

	if len(terms) == 0 {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+factColumns+` FROM facts ORDER BY last_confirmed DESC LIMIT ?`, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanFacts(rows)
	}

	var likes []string
	var args []interface{}
	for _, term := range terms {
		pat := "%" + strings.ToLower(term) + "%"
		likes = append(likes, "(subject LIKE ? OR predicate LIKE ? OR object LIKE ?)")
		args = append(args, pat, pat, pat)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT `+factColumns+` FROM facts WHERE %s
		 ORDER BY last_confirmed DESC LIMIT ?`, strings.Join(likes, " OR ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// DeleteFactsBelow deletes facts with confidence below minConfidence that
// were first seen before the cutoff, returning the deleted rows so the
// caller can unlink them from their endpoint concepts.
func (s *SQLiteStore) DeleteFactsBelow(ctx context.Context, minConfidence float64, firstSeenBefore time.Time) ([]model.KnowledgeFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE confidence < ? AND first_seen < ?`,
		minConfidence, formatTime(firstSeenBefore))
	if err != nil {
		return nil, err
	}
	doomed, err := scanFacts(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(doomed) == 0 {
		return nil, nil
	}

	for _, f := range doomed {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, f.ID); err != nil {
			return nil, fmt.Errorf("delete fact %s: %w", f.ID, err)
		}
	}
	return doomed, nil
}

// FactCount returns the number of stored facts.
func (s *SQLiteStore) FactCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (*model.KnowledgeFact, error) {
	var f model.KnowledgeFact
	var firstSeen, lastConfirmed string
	err := row.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object,
		&f.Confidence, &f.ConfirmationCount, &firstSeen, &lastConfirmed)
	if err != nil {
		return nil, err
	}
	f.FirstSeen = parseTime(firstSeen)
	f.LastConfirmed = parseTime(lastConfirmed)
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]model.KnowledgeFact, error) {
	var facts []model.KnowledgeFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	return facts, rows.Err()
}
