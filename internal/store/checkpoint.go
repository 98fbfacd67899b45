package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/record"
)

var _ checkpoint.Persistence = (*Store)(nil)

// GetCheckpoint returns the checkpoint for t, or checkpoint.ErrNotFound.
func (s *Store) GetCheckpoint(ctx context.Context, t record.Type) (*checkpoint.Checkpoint, error) {
	var cursor, completedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_source_cursor, completed_at FROM checkpoints WHERE record_type = ?
	`, string(t)).Scan(&cursor, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", t, err)
	}
	at, err := parseTime(completedAt)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", t, err)
	}
	return &checkpoint.Checkpoint{RecordType: t, LastSourceCursor: cursor, CompletedAt: at}, nil
}

// PutCheckpoint stores cp if prev is still the current checkpoint for
// cp.RecordType, or if prev is nil and none exists. Otherwise it writes
// nothing and returns checkpoint.ErrMoved.
func (s *Store) PutCheckpoint(ctx context.Context, prev *checkpoint.Checkpoint, cp checkpoint.Checkpoint) error {
	var (
		res sql.Result
		err error
	)
	if prev == nil {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO checkpoints (record_type, last_source_cursor, completed_at)
			VALUES (?, ?, ?)
			ON CONFLICT(record_type) DO NOTHING
		`, string(cp.RecordType), cp.LastSourceCursor, formatTime(cp.CompletedAt))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE checkpoints SET last_source_cursor = ?, completed_at = ?
			WHERE record_type = ? AND last_source_cursor = ? AND completed_at = ?
		`, cp.LastSourceCursor, formatTime(cp.CompletedAt),
			string(cp.RecordType), prev.LastSourceCursor, formatTime(prev.CompletedAt))
	}
	if err != nil {
		return fmt.Errorf("put checkpoint %s: %w", cp.RecordType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put checkpoint %s: %w", cp.RecordType, err)
	}
	if n == 0 {
		return fmt.Errorf("put checkpoint %s: %w", cp.RecordType, checkpoint.ErrMoved)
	}
	return nil
}

// DeleteCheckpoint removes the checkpoint for t. Deleting a missing
// checkpoint is not an error.
func (s *Store) DeleteCheckpoint(ctx context.Context, t record.Type) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE record_type = ?`, string(t)); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", t, err)
	}
	return nil
}
