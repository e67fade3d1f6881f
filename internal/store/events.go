package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

const eventColumns = `id, content, timestamp, layer, participants, tags, priority`

// InsertEvent appends an event row. The item's timestamp is stored as given
// so migrated working-memory items keep their original occurrence time.
func (s *SQLiteStore) InsertEvent(ctx context.Context, item model.MemoryItem) error {
	if item.ID == "" {
		return fmt.Errorf("insert event: id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, content, timestamp, layer, participants, tags, priority)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Content, formatTime(item.Timestamp), string(item.Layer),
		marshalList(item.Participants), marshalList(item.Tags), string(item.Priority))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsByTimeRange returns events with start <= timestamp <= end, newest first.
func (s *SQLiteStore) EventsByTimeRange(ctx context.Context, start, end time.Time) ([]model.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp DESC`,
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsByParticipants returns events whose participant set intersects ids,
// newest first. Unknown ids simply match nothing.
func (s *SQLiteStore) EventsByParticipants(ctx context.Context, ids []string) ([]model.MemoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var likes []string
	var args []interface{}
	for _, id := range ids {
		likes = append(likes, "participants LIKE ?")
		args = append(args, `%"`+id+`"%`)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT `+eventColumns+` FROM events
		 WHERE %s ORDER BY timestamp DESC`, strings.Join(likes, " OR ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	// LIKE over the JSON array can match substrings of longer ids; re-check
	// against the decoded participant set.
	var out []model.MemoryItem
	for _, ev := range events {
		if ev.HasAnyParticipant(ids) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]model.MemoryItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UnconsolidatedEvents returns up to limit events not yet processed by
// consolidation, oldest first.
func (s *SQLiteStore) UnconsolidatedEvents(ctx context.Context, limit int) ([]model.MemoryItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE consolidated_at IS NULL
		 ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkConsolidated records that consolidation processed the event. When tag
// is non-empty it is appended to the event's tag set.
func (s *SQLiteStore) MarkConsolidated(ctx context.Context, id string, at time.Time, tag string) error {
	if tag == "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE events SET consolidated_at = ? WHERE id = ?`, formatTime(at), id)
		return err
	}

	var tagsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT tags FROM events WHERE id = ?`, id).Scan(&tagsJSON)
	if err != nil {
		return err
	}
	tags := unmarshalList(tagsJSON)
	for _, t := range tags {
		if t == tag {
			tag = ""
			break
		}
	}
	if tag != "" {
		tags = append(tags, tag)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE events SET consolidated_at = ?, tags = ? WHERE id = ?`,
		formatTime(at), marshalList(tags), id)
	return err
}

// PruneEvents deletes events older than the cutoff unless they carry one of
// keepTags or are marked critical. Returns the number of rows deleted.
func (s *SQLiteStore) PruneEvents(ctx context.Context, olderThan time.Time, keepTags []string) (int, error) {
	where := []string{"timestamp < ?", "priority != ?"}
	args := []interface{}{formatTime(olderThan), string(model.PriorityCritical)}

	for _, tag := range keepTags {
		where = append(where, "(tags IS NULL OR tags NOT LIKE ?)")
		args = append(args, `%"`+tag+`"%`)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM events WHERE %s`, strings.Join(where, " AND ")), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EventStats returns the event count and the oldest/newest timestamps.
func (s *SQLiteStore) EventStats(ctx context.Context) (count int, oldest, newest time.Time, err error) {
	var oldestStr, newestStr sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM events`).
		Scan(&count, &oldestStr, &newestStr)
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	if oldestStr.Valid {
		oldest = parseTime(oldestStr.String)
	}
	if newestStr.Valid {
		newest = parseTime(newestStr.String)
	}
	return count, oldest, newest, nil
}

func scanEvents(rows *sql.Rows) ([]model.MemoryItem, error) {
	var items []model.MemoryItem
	for rows.Next() {
		var (
			item               model.MemoryItem
			ts, layer, prio    string
			participants, tags sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Content, &ts, &layer, &participants, &tags, &prio); err != nil {
			return nil, err
		}
		item.Timestamp = parseTime(ts)
		item.Layer = model.Layer(layer)
		item.Priority = model.Priority(prio)
		item.Participants = unmarshalList(participants)
		item.Tags = unmarshalList(tags)
		items = append(items, item)
	}
	return items, rows.Err()
}

func marshalList(v []string) interface{} {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalList(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(v.String), &out)
	return out
}
