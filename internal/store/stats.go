package store

import (
	"context"
	"fmt"

	"github.com/roach88/catsync/internal/record"
)

// TypeStats summarizes the records of one type.
type TypeStats struct {
	Total     int                   `json:"total"`
	ByStatus  map[record.Status]int `json:"by_status"`
	Curated   int                   `json:"curated"`
	Local     int                   `json:"local"`
	Merged    int                   `json:"merges_identified"`
	Withdrawn int                   `json:"withdrawn"`
}

// Stats returns per-type record counts. Every known type is present even
// when it has no records.
func (s *Store) Stats(ctx context.Context) (map[record.Type]*TypeStats, error) {
	out := make(map[record.Type]*TypeStats, len(record.Types))
	for _, t := range record.Types {
		out[t] = &TypeStats{ByStatus: map[record.Status]int{}}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, record_status, origin, curation_modified, COUNT(*)
		FROM records
		GROUP BY type, record_status, origin, curation_modified
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typ, status, origin string
			modified            bool
			n                   int
		)
		if err := rows.Scan(&typ, &status, &origin, &modified, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		ts, ok := out[record.Type(typ)]
		if !ok {
			ts = &TypeStats{ByStatus: map[record.Status]int{}}
			out[record.Type(typ)] = ts
		}
		ts.Total += n
		ts.ByStatus[record.Status(status)] += n
		if modified {
			ts.Curated += n
		}
		if record.Origin(origin) == record.OriginLocal {
			ts.Local += n
		}
		switch record.Status(status) {
		case record.StatusDuplicate:
			ts.Merged += n
		case record.StatusWithdrawn:
			ts.Withdrawn += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return out, nil
}
