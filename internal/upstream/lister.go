package upstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/record"
)

// Reasons a change set covers every known record.
const (
	ReasonForced       = "forced"
	ReasonNoCheckpoint = "no_checkpoint"
	ReasonUnresolvable = string(record.ErrCodeCheckpointUnresolvable)
)

// ChangeSet is the result of a change listing.
type ChangeSet struct {
	// IDs are sorted and deduplicated.
	IDs []string
	// Full is set when IDs is every known id rather than a delta.
	Full bool
	// Reason explains a full listing.
	Reason string
	// From is the watermark cursor the delta starts after ("" when Full).
	From string
	// Head is the cursor the pass will advance the checkpoint to.
	Head string
}

// Lister computes which records changed since a checkpoint.
type Lister struct {
	history History
	logger  *slog.Logger
}

// NewLister creates a Lister over history.
func NewLister(history History, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lister{history: history, logger: logger}
}

// ListChanged returns the ids of type t changed after the watermark up to
// the current head. A forced listing, a missing watermark or a watermark
// whose cursor upstream no longer knows yields every known id.
//
// ListChanged only reads; it never moves the checkpoint.
func (l *Lister) ListChanged(ctx context.Context, t record.Type, watermark *checkpoint.Checkpoint, force bool) (ChangeSet, error) {
	head, err := l.history.Head(ctx)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("list changed %s: %w", t, err)
	}

	switch {
	case force:
		return l.full(ctx, t, head, ReasonForced)
	case watermark == nil:
		return l.full(ctx, t, head, ReasonNoCheckpoint)
	}

	ok, err := l.history.Contains(ctx, watermark.LastSourceCursor)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("list changed %s: %w", t, err)
	}
	if !ok {
		l.logger.Warn("checkpoint cursor unresolvable, falling back to full resync",
			"type", t,
			"cursor", watermark.LastSourceCursor,
			"error", record.NewCheckpointUnresolvable(watermark.LastSourceCursor))
		return l.full(ctx, t, head, ReasonUnresolvable)
	}

	ids, err := l.history.ChangedBetween(ctx, t, watermark.LastSourceCursor, head)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("list changed %s: %w", t, err)
	}
	return ChangeSet{IDs: ids, From: watermark.LastSourceCursor, Head: head}, nil
}

func (l *Lister) full(ctx context.Context, t record.Type, head, reason string) (ChangeSet, error) {
	ids, err := l.history.AllIDs(ctx, t)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("list all %s: %w", t, err)
	}
	return ChangeSet{IDs: ids, Full: true, Reason: reason, Head: head}, nil
}
