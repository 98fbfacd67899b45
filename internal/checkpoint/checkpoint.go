// Package checkpoint owns the per-record-type synchronization watermark.
//
// A checkpoint is read once at the start of a sync pass and written once,
// after the pass has processed every changed record. A failed or cancelled
// pass never writes it, so the next pass retries the same window
// (at-least-once import).
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/catsync/internal/record"
)

var (
	// ErrNotFound is returned by Persistence when no checkpoint exists yet.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrMoved is returned by Persistence when the stored checkpoint is no
	// longer the one a pass started from.
	ErrMoved = errors.New("checkpoint moved since pass started")
)

// Checkpoint is the watermark of the last completed import for one record type.
type Checkpoint struct {
	RecordType       record.Type `json:"record_type"`
	LastSourceCursor string      `json:"last_source_cursor"`
	CompletedAt      time.Time   `json:"completed_at"`
}

// Persistence stores checkpoints. Implemented by store.Store.
//
// PutCheckpoint replaces prev with cp only while prev is still the stored
// checkpoint (nil meaning none stored) and returns ErrMoved otherwise.
type Persistence interface {
	GetCheckpoint(ctx context.Context, t record.Type) (*Checkpoint, error)
	PutCheckpoint(ctx context.Context, prev *Checkpoint, cp Checkpoint) error
	DeleteCheckpoint(ctx context.Context, t record.Type) error
}

// Tracker enforces the read-at-start / write-on-completion discipline.
type Tracker struct {
	p Persistence
}

// NewTracker creates a Tracker over p.
func NewTracker(p Persistence) *Tracker {
	return &Tracker{p: p}
}

// Load returns the current checkpoint, or nil when none has been recorded.
func (t *Tracker) Load(ctx context.Context, rt record.Type) (*Checkpoint, error) {
	cp, err := t.p.GetCheckpoint(ctx, rt)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", rt, err)
	}
	return cp, nil
}

// Advance records a completed pass. prev is the checkpoint the pass started
// from; completedAt may not precede it. When another pass has written a
// checkpoint since prev was loaded, nothing is written and the error wraps
// ErrMoved.
func (t *Tracker) Advance(ctx context.Context, prev *Checkpoint, rt record.Type, cursor string, completedAt time.Time) (Checkpoint, error) {
	if cursor == "" {
		return Checkpoint{}, fmt.Errorf("advance checkpoint %s: empty cursor", rt)
	}
	if prev != nil && completedAt.Before(prev.CompletedAt) {
		return Checkpoint{}, fmt.Errorf("advance checkpoint %s: completed_at %s precedes %s",
			rt, completedAt.Format(time.RFC3339), prev.CompletedAt.Format(time.RFC3339))
	}
	cp := Checkpoint{
		RecordType:       rt,
		LastSourceCursor: cursor,
		CompletedAt:      completedAt.UTC(),
	}
	if err := t.p.PutCheckpoint(ctx, prev, cp); err != nil {
		return Checkpoint{}, fmt.Errorf("advance checkpoint %s: %w", rt, err)
	}
	return cp, nil
}

// Reset forgets the checkpoint so the next pass is a full resync.
func (t *Tracker) Reset(ctx context.Context, rt record.Type) error {
	if err := t.p.DeleteCheckpoint(ctx, rt); err != nil {
		return fmt.Errorf("reset checkpoint %s: %w", rt, err)
	}
	return nil
}
