package merge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/metrics"
	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/store"
)

// DefaultMaxRetries bounds the read-merge-write loop.
const DefaultMaxRetries = 5

// Repository is the record store as the applier sees it. ApplyRecord must
// write the record and its events atomically, and return
// store.ErrVersionConflict without writing anything when the stored version
// is not expectedVersion.
type Repository interface {
	Get(ctx context.Context, id string) (*record.Record, error)
	ApplyRecord(ctx context.Context, rec *record.Record, expectedVersion int64, events []audit.Event) error
}

// Mutation is one planned write, computed from a fresh read.
type Mutation struct {
	// Record is the state to store; nil means there is nothing to write.
	Record *record.Record
	Action audit.Action
	Diff   audit.Diff
}

// PlanFunc computes a mutation from the current stored record (nil when
// absent). It runs once per attempt and must not retain current.
type PlanFunc func(current *record.Record, now time.Time) (Mutation, error)

// Committed describes a successful conditional write.
type Committed struct {
	Record   *record.Record
	Event    *audit.Event
	Attempts int
}

// Applier performs atomic conditional applies against a Repository.
//
// Every apply reads the record, plans the write against what it read and
// writes it only if the stored version is unchanged. On a version conflict
// the whole read-plan-write cycle is retried, so a concurrent curator edit is
// never overwritten by a plan made before it.
type Applier struct {
	repo       Repository
	publisher  audit.Publisher
	clock      audit.Clock
	ids        audit.IDGenerator
	maxRetries int
	logger     *slog.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithPublisher sets the audit stream publisher.
func WithPublisher(p audit.Publisher) Option {
	return func(a *Applier) { a.publisher = p }
}

// WithClock sets the clock used for timestamps.
func WithClock(c audit.Clock) Option {
	return func(a *Applier) { a.clock = c }
}

// WithIDGenerator sets the event id generator.
func WithIDGenerator(g audit.IDGenerator) Option {
	return func(a *Applier) { a.ids = g }
}

// WithMaxRetries sets the attempt budget. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(a *Applier) {
		if n >= 1 {
			a.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

// NewApplier creates an Applier over repo.
func NewApplier(repo Repository, opts ...Option) *Applier {
	a := &Applier{
		repo:       repo,
		publisher:  audit.NopPublisher{},
		clock:      audit.SystemClock{},
		ids:        audit.UUIDv7Generator{},
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Clock returns the applier's clock.
func (a *Applier) Clock() audit.Clock {
	return a.clock
}

// Repository returns the underlying repository.
func (a *Applier) Repository() Repository {
	return a.repo
}

// Update runs plan inside the bounded conditional-write loop for record id.
//
// Errors returned by plan are returned unchanged. A storage failure is a
// STORE_UNAVAILABLE error and an exhausted retry budget is a
// CONCURRENT_MODIFICATION error.
func (a *Applier) Update(ctx context.Context, id, actor, correlationID string, plan PlanFunc) (Committed, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Committed{}, err
		}

		current, err := a.repo.Get(ctx, id)
		if err != nil {
			return Committed{}, a.storeError(ctx, id, err)
		}

		now := a.clock.Now()
		m, err := plan(current, now)
		if err != nil {
			return Committed{}, err
		}
		if m.Record == nil {
			return Committed{Attempts: attempt}, nil
		}

		var events []audit.Event
		if !m.Diff.Empty() {
			events = []audit.Event{audit.NewEvent(a.ids.Generate(), now, actor, m.Action, m.Record, m.Diff, correlationID)}
		}

		var expected int64
		if current != nil {
			expected = current.Version
		}
		err = a.repo.ApplyRecord(ctx, m.Record, expected, events)
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.ApplyConflicts.Inc()
			a.logger.Debug("version conflict, retrying",
				"record_id", id,
				"attempt", attempt,
				"expected_version", expected)
			lastErr = err
			continue
		}
		if err != nil {
			return Committed{}, a.storeError(ctx, id, err)
		}

		c := Committed{Record: m.Record, Attempts: attempt}
		if len(events) > 0 {
			c.Event = &events[0]
			metrics.AuditEventsWritten.WithLabelValues(string(m.Action)).Inc()
			a.publish(ctx, events)
		}
		return c, nil
	}
	return Committed{}, record.NewConcurrentModification(id, a.maxRetries, lastErr)
}

// Applied is the result of importing one candidate.
type Applied struct {
	Outcome
	Event    *audit.Event
	Attempts int
	// Warning flags a duplicate whose canonical target is not a live active
	// record. The transition is applied anyway.
	Warning *lifecycle.Issue
}

// Apply imports cand with a conditional write, retrying the full merge on
// version conflicts.
func (a *Applier) Apply(ctx context.Context, cand record.Candidate, actor, correlationID string) (Applied, error) {
	var out Outcome
	c, err := a.Update(ctx, cand.ID, actor, correlationID, func(current *record.Record, now time.Time) (Mutation, error) {
		var err error
		out, err = Merge(current, cand, now)
		if err != nil {
			return Mutation{}, err
		}
		return Mutation{Record: out.Record, Action: out.Action, Diff: out.Diff}, nil
	})
	if err != nil {
		return Applied{}, err
	}

	applied := Applied{Outcome: out, Event: c.Event, Attempts: c.Attempts}
	if out.Transition != nil && out.Transition.To == record.StatusDuplicate {
		applied.Warning = a.checkTarget(ctx, out.Record)
	}
	return applied, nil
}

func (a *Applier) checkTarget(ctx context.Context, dup *record.Record) *lifecycle.Issue {
	target, err := a.repo.Get(ctx, dup.CanonicalID)
	if err != nil {
		// the write is committed; a failed look-up only loses the warning
		a.logger.Warn("canonical target lookup failed", "record_id", dup.ID, "canonical_id", dup.CanonicalID, "error", err)
		return nil
	}
	issue := lifecycle.TargetIssue(dup, target)
	if issue != nil {
		a.logger.Warn("duplicate target is not an active record",
			"record_id", dup.ID,
			"canonical_id", dup.CanonicalID,
			"issue", string(issue.Kind))
	}
	return issue
}

func (a *Applier) publish(ctx context.Context, events []audit.Event) {
	if err := a.publisher.Publish(ctx, events); err != nil {
		metrics.AuditPublishFailures.Inc()
		a.logger.Warn("audit publish failed", "event_id", events[0].ID, "error", err)
	}
}

func (a *Applier) storeError(ctx context.Context, id string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return record.NewStoreUnavailable(id, err)
}
