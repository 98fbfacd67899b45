package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

// insertEvent appends ev inside tx. Seq is assigned by SQLite.
func insertEvent(ctx context.Context, tx *sql.Tx, ev audit.Event) error {
	diffJSON, err := marshalDiff(ev.Diff)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, occurred_at, actor, entity_type, entity_id, action, diff, correlation_id, edit_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID, formatTime(ev.Timestamp), ev.Actor, string(ev.EntityType), ev.EntityID,
		string(ev.Action), diffJSON, ev.CorrelationID, ev.EditVersion,
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
	}
	return nil
}

// QueryEvents returns audit events matching f in append order.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) QueryEvents(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	var where []string
	var args []any
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	if f.Since != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "occurred_at < ?")
		args = append(args, formatTime(*f.Until))
	}

	query := `
		SELECT seq, id, occurred_at, actor, entity_type, entity_id, action, diff, correlation_id, edit_version
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		var (
			ev                   audit.Event
			occurredAt, diffJSON string
			entityType, action   string
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &occurredAt, &ev.Actor, &entityType, &ev.EntityID,
			&action, &diffJSON, &ev.CorrelationID, &ev.EditVersion); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.EntityType = record.Type(entityType)
		ev.Action = audit.Action(action)
		if ev.Timestamp, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("audit event %s: %w", ev.ID, err)
		}
		if ev.Diff, err = unmarshalDiff(diffJSON); err != nil {
			return nil, fmt.Errorf("audit event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
