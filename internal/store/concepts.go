package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

const conceptColumns = `id, name, fact_ids, concept_ids, activation`

// ConceptByName looks up a concept node by its normalized name.
func (s *SQLiteStore) ConceptByName(ctx context.Context, name string) (*model.ConceptNode, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE name = ?`, name)
	return scanConceptRow(row)
}

// ConceptByID looks up a concept node by id.
func (s *SQLiteStore) ConceptByID(ctx context.Context, id string) (*model.ConceptNode, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE id = ?`, id)
	return scanConceptRow(row)
}

// SaveConcept inserts or replaces a concept node.
func (s *SQLiteStore) SaveConcept(ctx context.Context, c *model.ConceptNode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO concepts (id, name, fact_ids, concept_ids, activation)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   fact_ids = excluded.fact_ids,
		   concept_ids = excluded.concept_ids,
		   activation = excluded.activation`,
		c.ID, c.Name, marshalList(c.FactIDs), marshalList(c.ConceptIDs), c.Activation)
	if err != nil {
		return fmt.Errorf("save concept: %w", err)
	}
	return nil
}

// DecayActivations scales every concept's activation by factor. Concepts go
// dormant through decay; they are never deleted.
func (s *SQLiteStore) DecayActivations(ctx context.Context, factor float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE concepts SET activation = activation * ?`, factor)
	return err
}

// ConceptCount returns the number of concept nodes.
func (s *SQLiteStore) ConceptCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM concepts`).Scan(&n)
	return n, err
}

func scanConceptRow(row *sql.Row) (*model.ConceptNode, bool, error) {
	var c model.ConceptNode
	var factIDs, conceptIDs sql.NullString
	err := row.Scan(&c.ID, &c.Name, &factIDs, &conceptIDs, &c.Activation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.FactIDs = unmarshalList(factIDs)
	c.ConceptIDs = unmarshalList(conceptIDs)
	return &c, true, nil
}
