// Package api serves the curation and operations HTTP API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/catsync/internal/curation"
	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/store"
	"github.com/roach88/catsync/internal/syncer"
)

// ActorHeader names the curator performing a write.
const ActorHeader = "X-Actor"

const shutdownTimeout = 10 * time.Second

// Server is the catsync HTTP server.
type Server struct {
	store    *store.Store
	curation *curation.Service
	syncer   *syncer.Coordinator
	logger   *slog.Logger
	router   *gin.Engine
}

// NewServer creates a server and registers its routes. coord may be nil, in
// which case POST /sync answers 503.
func NewServer(st *store.Store, svc *curation.Service, coord *syncer.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		store:    st,
		curation: svc,
		syncer:   coord,
		logger:   logger,
		router:   router,
	}

	for _, t := range record.Types {
		g := router.Group("/" + t.Plural())
		{
			g.GET("", s.handleList(t))
			g.GET("/:id", s.handleGet(t))
			g.GET("/:id/history", s.handleHistory(t))
			g.POST("", requireActor, s.handleCreate(t))
			g.PATCH("/:id", requireActor, s.handleEdit(t))
			g.POST("/:id/withdraw", requireActor, s.handleWithdraw(t))
			g.POST("/:id/merge", requireActor, s.handleMerge(t))
			g.POST("/:id/restore", requireActor, s.handleRestore(t))
			g.POST("/:id/reset", requireActor, s.handleReset(t))
		}
	}

	router.GET("/audit", s.handleAudit)
	router.GET("/stats", s.handleStats)
	router.GET("/integrity", s.handleIntegrity)
	router.POST("/sync/:type", s.handleSync)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", s.handleHealth)

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func requireActor(c *gin.Context) {
	if c.GetHeader(ActorHeader) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + ActorHeader + " header"})
		return
	}
	c.Next()
}
