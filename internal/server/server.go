// Package server exposes the job API over HTTP: document intake, status
// polling, results, exports and the runner completion webhook.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/export"
	"github.com/intakehq/docpipe/internal/repository"
	"github.com/intakehq/docpipe/internal/schema"
	"github.com/intakehq/docpipe/internal/services/jobs"
)

// Deps carries the wired services the HTTP layer serves.
type Deps struct {
	Jobs          *jobs.Service
	Exporter      *export.Service
	Registry      *schema.Registry
	DB            *repository.DB
	WebhookSecret string
	Logger        *slog.Logger
}

// NewRouter assembles the gin engine with middleware and all routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Correlation())
	router.Use(RequestLogger(d.Logger))
	router.Use(ErrorHandler(d.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		if d.DB != nil {
			if err := d.DB.HealthCheck(c.Request.Context(), 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := NewJobHandler(d.Jobs, d.Exporter, d.Registry, d.Logger)

	api := router.Group("/api/v1")
	api.Use(Identity())
	{
		api.POST("/jobs", h.Create)
		api.GET("/jobs", h.List)
		api.GET("/jobs/:id", h.Get)
		api.GET("/jobs/:id/results", h.Results)
		api.GET("/schemas", h.Schemas)
		api.GET("/exports/jobs.xlsx", h.ExportXLSX)
	}

	wh := NewWebhookHandler(d.Jobs, d.WebhookSecret, d.Logger)
	router.POST("/internal/webhooks/runner", wh.Complete)

	return router
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func New(cfg common.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start blocks until the listener stops. A closed listener after Shutdown is
// not an error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}
