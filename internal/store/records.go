package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

const recordColumns = `id, type, origin, record_status, canonical_id, fields, source_updated_at,
	curation_modified, curation_modified_at, curation_modified_by, edit_version,
	import_last_run_at, import_last_result, version`

// GetRecord retrieves a record by id.
// Returns ErrNotFound if the record does not exist.
func (s *Store) GetRecord(ctx context.Context, id string) (*record.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// ApplyRecord atomically writes rec and appends its audit events.
//
// expectedVersion is the version the caller read; 0 means the record must
// not exist yet. If the stored version differs (or the record already exists
// on insert) nothing is written and ErrVersionConflict is returned. On
// success rec.Version is set to the new version.
func (s *Store) ApplyRecord(ctx context.Context, rec *record.Record, expectedVersion int64, events []audit.Event) error {
	if err := rec.CheckInvariants(); err != nil {
		return fmt.Errorf("apply record: %w", err)
	}
	fieldsJSON, err := marshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("apply record %s: %w", rec.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply record %s: begin tx: %w", rec.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	newVersion := expectedVersion + 1
	var result sql.Result
	if expectedVersion == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			rec.ID, string(rec.Type), string(rec.Origin), string(rec.Status), nullString(rec.CanonicalID),
			fieldsJSON, nullTime(rec.Source.UpdatedAt),
			rec.Curation.Modified, nullTime(rec.Curation.ModifiedAt), nullStringPtr(rec.Curation.ModifiedBy),
			rec.Curation.EditVersion,
			nullTime(rec.Import.LastRunAt), nullString(string(rec.Import.LastResult)),
			newVersion,
		)
	} else {
		// origin and type are immutable and deliberately absent from SET
		result, err = tx.ExecContext(ctx, `
			UPDATE records SET
				record_status = ?, canonical_id = ?, fields = ?, source_updated_at = ?,
				curation_modified = ?, curation_modified_at = ?, curation_modified_by = ?, edit_version = ?,
				import_last_run_at = ?, import_last_result = ?, version = ?
			WHERE id = ? AND version = ?
		`,
			string(rec.Status), nullString(rec.CanonicalID), fieldsJSON, nullTime(rec.Source.UpdatedAt),
			rec.Curation.Modified, nullTime(rec.Curation.ModifiedAt), nullStringPtr(rec.Curation.ModifiedBy),
			rec.Curation.EditVersion,
			nullTime(rec.Import.LastRunAt), nullString(string(rec.Import.LastResult)), newVersion,
			rec.ID, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("apply record %s: write: %w", rec.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply record %s: rows affected: %w", rec.ID, err)
	}
	if rowsAffected == 0 {
		return ErrVersionConflict
	}

	for _, ev := range events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("apply record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply record %s: commit: %w", rec.ID, err)
	}

	rec.Version = newVersion
	return nil
}

// RecordFilter selects records. Zero fields match everything.
type RecordFilter struct {
	Type        record.Type
	Status      record.Status
	CanonicalID string
	Limit       int
	Offset      int
}

// ListRecords returns matching records ordered by id.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]*record.Record, error) {
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "record_status = ?")
		args = append(args, string(f.Status))
	}
	if f.CanonicalID != "" {
		where = append(where, "canonical_id = ?")
		args = append(args, f.CanonicalID)
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []*record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var (
		rec                                  record.Record
		typ, origin, status, fieldsJSON      string
		canonical, modifiedBy, lastResult    sql.NullString
		sourceUpdated, modifiedAt, lastRunAt sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &typ, &origin, &status, &canonical, &fieldsJSON, &sourceUpdated,
		&rec.Curation.Modified, &modifiedAt, &modifiedBy, &rec.Curation.EditVersion,
		&lastRunAt, &lastResult, &rec.Version,
	); err != nil {
		return nil, err
	}

	rec.Type = record.Type(typ)
	rec.Origin = record.Origin(origin)
	rec.Status = record.Status(status)
	rec.CanonicalID = canonical.String
	rec.Import.LastResult = record.Result(lastResult.String)
	if modifiedBy.Valid {
		by := modifiedBy.String
		rec.Curation.ModifiedBy = &by
	}

	var err error
	if rec.Fields, err = unmarshalFields(fieldsJSON); err != nil {
		return nil, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	if rec.Source.UpdatedAt, err = parseNullTime(sourceUpdated); err != nil {
		return nil, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	if rec.Curation.ModifiedAt, err = parseNullTime(modifiedAt); err != nil {
		return nil, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	if rec.Import.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// Get is GetRecord with absence reported as (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	rec, err := s.GetRecord(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Duplicates returns every duplicate record of type t.
func (s *Store) Duplicates(ctx context.Context, t record.Type) ([]*record.Record, error) {
	return s.ListRecords(ctx, RecordFilter{Type: t, Status: record.StatusDuplicate})
}
