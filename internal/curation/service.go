// Package curation implements curator operations: creating local records,
// editing fields and driving the curator-only lifecycle transitions.
//
// Every operation is one conditional write through merge.Applier, so it
// retries against fresh reads when an import lands concurrently, and it
// bumps curation.edit_version by exactly one.
package curation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/merge"
	"github.com/roach88/catsync/internal/metrics"
	"github.com/roach88/catsync/internal/record"
)

// maxIDAttempts bounds local id generation when a fresh id is already taken.
const maxIDAttempts = 5

var errIDTaken = errors.New("generated id already in use")

// Patch is a partial edit: field name (diff form, e.g. "prefLabel_bo" or
// "extra.note") to new value. A nil value removes the field.
type Patch map[string]any

// Request carries the curator and the optional optimistic guard.
type Request struct {
	Actor string
	// Type, when set, makes records of any other type read as NOT_FOUND.
	Type record.Type
	// ExpectedEditVersion, when set, rejects the operation with
	// EDIT_CONFLICT if the record's edit_version differs.
	ExpectedEditVersion *int64
}

// Result is the outcome of a curation operation.
type Result struct {
	Record        *record.Record `json:"record"`
	Event         *audit.Event   `json:"event,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

// Service executes curator operations.
type Service struct {
	applier     *merge.Applier
	correlation audit.IDGenerator
	logger      *slog.Logger
}

// NewService creates a Service.
func NewService(applier *merge.Applier, correlation audit.IDGenerator, logger *slog.Logger) *Service {
	if correlation == nil {
		correlation = audit.UUIDv7Generator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{applier: applier, correlation: correlation, logger: logger}
}

// Create stores a new local record. Local records are curated from birth
// and never touched by imports.
func (s *Service) Create(ctx context.Context, t record.Type, fields record.Fields, req Request) (Result, error) {
	if _, err := record.ParseType(string(t)); err != nil {
		return s.done("create", Result{}, record.NewInvalidCandidate("", "%v", err))
	}
	normalized, err := prepareFields(t, "", fields)
	if err != nil {
		return s.done("create", Result{}, err)
	}

	corrID := s.correlation.Generate()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := record.GenerateID(t)
		if err != nil {
			return s.done("create", Result{}, err)
		}
		c, err := s.applier.Update(ctx, id, req.Actor, corrID, func(current *record.Record, now time.Time) (merge.Mutation, error) {
			if current != nil {
				return merge.Mutation{}, errIDTaken
			}
			by := req.Actor
			rec := &record.Record{
				ID:     id,
				Type:   t,
				Origin: record.OriginLocal,
				Status: record.StatusActive,
				Fields: normalized.Clone(),
				Curation: record.Curation{
					Modified:    true,
					ModifiedAt:  record.TimePtr(now),
					ModifiedBy:  &by,
					EditVersion: 1,
				},
			}
			return merge.Mutation{Record: rec, Action: audit.ActionEdit, Diff: audit.Compute(nil, rec)}, nil
		})
		if errors.Is(err, errIDTaken) {
			continue
		}
		if err != nil {
			return s.done("create", Result{}, err)
		}
		return s.done("create", Result{Record: c.Record, Event: c.Event, CorrelationID: corrID}, nil)
	}
	return s.done("create", Result{}, fmt.Errorf("create %s: %w after %d attempts", t, errIDTaken, maxIDAttempts))
}

// Edit applies a partial field update and marks the record curated, which
// freezes its business fields against imports. An edit that changes nothing
// writes nothing.
func (s *Service) Edit(ctx context.Context, id string, patch Patch, req Request) (Result, error) {
	if len(patch) == 0 {
		return s.done("edit", Result{}, record.NewInvalidCandidate(id, "empty patch"))
	}
	return s.curate(ctx, "edit", id, req, func(current *record.Record, now time.Time) (*record.Record, audit.Action, error) {
		fields := current.Fields.Clone()
		for name, value := range patch {
			if !record.FieldAllowed(current.Type, name) {
				return nil, "", record.NewInvalidCandidate(id, "field %q is not editable on a %s", name, current.Type)
			}
			if err := fields.Set(name, value); err != nil {
				return nil, "", record.NewInvalidCandidate(id, "%v", err)
			}
		}
		normalized, err := prepareFields(current.Type, id, fields)
		if err != nil {
			return nil, "", err
		}
		if normalized.Equal(current.Fields) {
			return nil, "", nil
		}
		next := current.Clone()
		next.Fields = normalized
		next.Curation.Modified = true
		return next, audit.ActionEdit, nil
	})
}

// Withdraw takes the record out of circulation.
func (s *Service) Withdraw(ctx context.Context, id string, req Request) (Result, error) {
	return s.transition(ctx, "withdraw", id, req, func(current *record.Record) (lifecycle.Transition, error) {
		return lifecycle.Withdraw(current)
	})
}

// MarkDuplicate merges the record into targetID, which must be an existing
// active record of the same type.
func (s *Service) MarkDuplicate(ctx context.Context, id, targetID string, req Request) (Result, error) {
	repo := s.applier.Repository()
	return s.transition(ctx, "merge", id, req, func(current *record.Record) (lifecycle.Transition, error) {
		target, err := repo.Get(ctx, targetID)
		if err != nil {
			return lifecycle.Transition{}, record.NewStoreUnavailable(targetID, err)
		}
		return lifecycle.MarkDuplicate(current, target)
	})
}

// Restore returns a withdrawn or duplicate record to active.
func (s *Service) Restore(ctx context.Context, id string, req Request) (Result, error) {
	return s.transition(ctx, "restore", id, req, func(current *record.Record) (lifecycle.Transition, error) {
		return lifecycle.Restore(current)
	})
}

// ResetCuration clears curation.modified so imports overwrite the business
// fields again from the next pass on. Local records cannot be reset.
func (s *Service) ResetCuration(ctx context.Context, id string, req Request) (Result, error) {
	return s.curate(ctx, "reset", id, req, func(current *record.Record, now time.Time) (*record.Record, audit.Action, error) {
		if current.Origin == record.OriginLocal {
			return nil, "", record.NewInvalidTransition(id, current.Status, current.Status, "local records are always curated")
		}
		if !current.Curation.Modified {
			return nil, "", record.NewInvalidTransition(id, current.Status, current.Status, "record is not curated")
		}
		next := current.Clone()
		next.Curation.Modified = false
		return next, audit.ActionEdit, nil
	})
}

type transitionFunc func(current *record.Record) (lifecycle.Transition, error)

func (s *Service) transition(ctx context.Context, op, id string, req Request, decide transitionFunc) (Result, error) {
	return s.curate(ctx, op, id, req, func(current *record.Record, now time.Time) (*record.Record, audit.Action, error) {
		tr, err := decide(current)
		if err != nil {
			return nil, "", err
		}
		next := current.Clone()
		tr.Apply(next)
		return next, tr.Action, nil
	})
}

// changeFunc returns the next state, or nil for a no-op.
type changeFunc func(current *record.Record, now time.Time) (*record.Record, audit.Action, error)

// curate runs change inside the conditional-write loop and stamps the
// curation section.
func (s *Service) curate(ctx context.Context, op, id string, req Request, change changeFunc) (Result, error) {
	corrID := s.correlation.Generate()
	var unchanged *record.Record
	c, err := s.applier.Update(ctx, id, req.Actor, corrID, func(current *record.Record, now time.Time) (merge.Mutation, error) {
		if current == nil || (req.Type != "" && current.Type != req.Type) {
			return merge.Mutation{}, record.NewNotFound(id)
		}
		if req.ExpectedEditVersion != nil && *req.ExpectedEditVersion != current.Curation.EditVersion {
			return merge.Mutation{}, record.NewEditConflict(id, *req.ExpectedEditVersion, current.Curation.EditVersion)
		}
		next, action, err := change(current, now)
		if err != nil {
			return merge.Mutation{}, err
		}
		if next == nil {
			unchanged = current
			return merge.Mutation{}, nil
		}
		by := req.Actor
		next.Curation.ModifiedAt = record.TimePtr(now)
		next.Curation.ModifiedBy = &by
		next.Curation.EditVersion = current.Curation.EditVersion + 1
		return merge.Mutation{Record: next, Action: action, Diff: audit.Compute(current, next)}, nil
	})
	if err != nil {
		return s.done(op, Result{}, err)
	}
	if c.Record == nil {
		return s.done(op, Result{Record: unchanged, CorrelationID: corrID}, nil)
	}
	s.logger.Info("record curated",
		"operation", op,
		"record_id", id,
		"actor", req.Actor,
		"edit_version", c.Record.Curation.EditVersion,
		"correlation_id", corrID)
	return s.done(op, Result{Record: c.Record, Event: c.Event, CorrelationID: corrID}, nil)
}

func (s *Service) done(op string, res Result, err error) (Result, error) {
	status := "ok"
	if err != nil {
		status = string(record.CodeOf(err))
		if status == "" {
			status = "error"
		}
	}
	metrics.CurationRequests.WithLabelValues(op, status).Inc()
	return res, err
}

func prepareFields(t record.Type, id string, f record.Fields) (record.Fields, error) {
	normalized, err := f.Normalized()
	if err != nil {
		return record.Fields{}, record.NewInvalidCandidate(id, "normalize fields: %v", err)
	}
	if err := record.ValidateFields(t, normalized); err != nil {
		return record.Fields{}, record.NewInvalidCandidate(id, "schema: %v", err)
	}
	return normalized, nil
}
