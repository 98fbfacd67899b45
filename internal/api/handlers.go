package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/curation"
	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/store"
	"github.com/roach88/catsync/internal/syncer"
)

const (
	defaultListLimit  = 100
	defaultAuditLimit = 200
)

// createRequest is the body of POST /<type>s.
type createRequest struct {
	Fields record.Fields `json:"fields"`
}

// editRequest is the body of PATCH /<type>s/:id. A null field value removes
// the field.
type editRequest struct {
	Fields      map[string]any `json:"fields" binding:"required"`
	EditVersion *int64         `json:"edit_version"`
}

// transitionRequest is the optional body of the lifecycle endpoints.
type transitionRequest struct {
	EditVersion *int64 `json:"edit_version"`
}

type mergeRequest struct {
	Target      string `json:"target" binding:"required"`
	EditVersion *int64 `json:"edit_version"`
}

func (s *Server) handleList(t record.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.RecordFilter{
			Type:        t,
			CanonicalID: c.Query("canonical_id"),
			Limit:       defaultListLimit,
		}
		if v := c.Query("status"); v != "" {
			status, err := record.ParseStatus(v)
			if err != nil {
				badRequest(c, err)
				return
			}
			filter.Status = status
		}
		var err error
		if filter.Limit, err = intQuery(c, "limit", defaultListLimit); err != nil {
			badRequest(c, err)
			return
		}
		if filter.Offset, err = intQuery(c, "offset", 0); err != nil {
			badRequest(c, err)
			return
		}

		recs, err := s.store.ListRecords(c.Request.Context(), filter)
		if err != nil {
			s.writeError(c, record.NewStoreUnavailable("", err))
			return
		}
		c.JSON(http.StatusOK, recs)
	}
}

func (s *Server) handleGet(t record.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := s.lookup(c, t)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) handleHistory(t record.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.lookup(c, t); !ok {
			return
		}
		events, err := s.store.QueryEvents(c.Request.Context(), audit.Filter{EntityID: c.Param("id")})
		if err != nil {
			s.writeError(c, record.NewStoreUnavailable(c.Param("id"), err))
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func (s *Server) handleCreate(t record.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body createRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		res, err := s.curation.Create(c.Request.Context(), t, body.Fields, s.request(c, t, nil))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func (s *Server) handleEdit(t record.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body editRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		res, err := s.curation.Edit(c.Request.Context(), c.Param("id"), curation.Patch(body.Fields), s.request(c, t, body.EditVersion))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type transitionOp func(s *Server, c *gin.Context, req curation.Request) (curation.Result, error)

func (s *Server) handleTransition(t record.Type, op transitionOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body transitionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				badRequest(c, err)
				return
			}
		}
		res, err := op(s, c, s.request(c, t, body.EditVersion))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleWithdraw(t record.Type) gin.HandlerFunc {
	return s.handleTransition(t, func(s *Server, c *gin.Context, req curation.Request) (curation.Result, error) {
		return s.curation.Withdraw(c.Request.Context(), c.Param("id"), req)
	})
}

func (s *Server) handleRestore(t record.Type) gin.HandlerFunc {
	return s.handleTransition(t, func(s *Server, c *gin.Context, req curation.Request) (curation.Result, error) {
		return s.curation.Restore(c.Request.Context(), c.Param("id"), req)
	})
}

func (s *Server) handleReset(t record.Type) gin.HandlerFunc {
	return s.handleTransition(t, func(s *Server, c *gin.Context, req curation.Request) (curation.Result, error) {
		return s.curation.ResetCuration(c.Request.Context(), c.Param("id"), req)
	})
}

func (s *Server) handleMerge(t record.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body mergeRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		res, err := s.curation.MarkDuplicate(c.Request.Context(), c.Param("id"), body.Target, s.request(c, t, body.EditVersion))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleAudit(c *gin.Context) {
	f := audit.Filter{
		EntityID:      c.Query("entity_id"),
		Actor:         c.Query("actor"),
		Action:        audit.Action(c.Query("action")),
		CorrelationID: c.Query("correlation_id"),
	}
	if v := c.Query("entity_type"); v != "" {
		t, err := record.ParseType(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		f.EntityType = t
	}
	var err error
	if f.Since, err = timeQuery(c, "since"); err != nil {
		badRequest(c, err)
		return
	}
	if f.Until, err = timeQuery(c, "until"); err != nil {
		badRequest(c, err)
		return
	}
	if f.Limit, err = intQuery(c, "limit", defaultAuditLimit); err != nil {
		badRequest(c, err)
		return
	}

	events, err := s.store.QueryEvents(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, record.NewStoreUnavailable("", err))
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, record.NewStoreUnavailable("", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleIntegrity(c *gin.Context) {
	types := record.Types
	if v := c.Query("type"); v != "" {
		t, err := record.ParseType(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		types = []record.Type{t}
	}
	issues := []lifecycle.Issue{}
	for _, t := range types {
		found, err := lifecycle.CheckIntegrity(c.Request.Context(), s.store, t)
		if err != nil {
			s.writeError(c, record.NewStoreUnavailable("", err))
			return
		}
		issues = append(issues, found...)
	}
	c.JSON(http.StatusOK, issues)
}

func (s *Server) handleSync(c *gin.Context) {
	if s.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync is not configured"})
		return
	}
	t, err := record.ParseType(c.Param("type"))
	if err != nil {
		badRequest(c, err)
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))

	report, err := s.syncer.Run(c.Request.Context(), t, force)
	switch {
	case errors.Is(err, syncer.ErrPassInProgress), errors.Is(err, checkpoint.ErrMoved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Error("sync request failed", "type", t, "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": record.CodeOf(err), "report": report})
	default:
		c.JSON(http.StatusOK, report)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// lookup loads the :id record, answering 404 when it is absent or of
// another type.
func (s *Server) lookup(c *gin.Context, t record.Type) (*record.Record, bool) {
	id := c.Param("id")
	rec, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, record.NewStoreUnavailable(id, err))
		return nil, false
	}
	if rec == nil || rec.Type != t {
		s.writeError(c, record.NewNotFound(id))
		return nil, false
	}
	return rec, true
}

func (s *Server) request(c *gin.Context, t record.Type, editVersion *int64) curation.Request {
	return curation.Request{
		Actor:               c.GetHeader(ActorHeader),
		Type:                t,
		ExpectedEditVersion: editVersion,
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": record.CodeOf(err)})
}

func statusFor(err error) int {
	switch record.CodeOf(err) {
	case record.ErrCodeNotFound:
		return http.StatusNotFound
	case record.ErrCodeInvalidCandidate:
		return http.StatusBadRequest
	case record.ErrCodeEditConflict, record.ErrCodeInvalidTransition, record.ErrCodeConcurrentModification:
		return http.StatusConflict
	case record.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + ": " + v)
	}
	return n, nil
}

func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("invalid " + name + ": expected RFC3339 timestamp")
	}
	return &ts, nil
}
