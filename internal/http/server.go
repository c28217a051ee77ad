// Package http provides the API server, its router and the metrics server.
package http

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/relay/internal/config"
	"github.com/allisson/relay/internal/metrics"
	outboxHTTP "github.com/allisson/relay/internal/outbox/http"
)

// Server is the API HTTP server.
type Server struct {
	db     *sql.DB
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new API server. SetupRouter must be called before Start.
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		logger: logger,
		// Admin dispatch and reconcile calls run synchronously.
		server: newHTTPServer(host, port, 60*time.Second),
	}
}

func newHTTPServer(host string, port int, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// SetupRouter builds the router with the outbox routes.
//
// Enqueue is rate limited per client IP when enabled. Every other outbox route requires
// the admin bearer token. The per-IP limiter stops cleaning up when ctx is done.
func (s *Server) SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	outboxHandler *outboxHTTP.OutboxHandler,
	adminHandler *outboxHTTP.AdminHandler,
	adminVerifier outboxHTTP.TokenVerifier,
	metricsProvider *metrics.Provider,
) {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if cfg.CORSEnabled {
		if cors := corsMiddleware(cfg.GetCORSOrigins(), s.logger); cors != nil {
			router.Use(cors)
		}
	}

	if cfg.MetricsEnabled && metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")

	enqueueChain := []gin.HandlerFunc{}
	if cfg.RateLimitEnabled {
		enqueueChain = append(enqueueChain,
			outboxHTTP.IPRateLimitMiddleware(ctx, cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst, s.logger))
	}
	enqueueChain = append(enqueueChain, outboxHandler.EnqueueHandler)
	v1.POST("/outbox/items", enqueueChain...)

	admin := v1.Group("", outboxHTTP.AdminAuthMiddleware(adminVerifier, s.logger))
	{
		admin.GET("/outbox/items", outboxHandler.ListHandler)
		admin.GET("/outbox/items/:id", outboxHandler.GetHandler)
		admin.POST("/outbox/dispatch", adminHandler.DispatchHandler)
		admin.POST("/outbox/reconcile/:integration_id", adminHandler.ReconcileHandler)
		admin.GET("/outbox/reconcile-runs", adminHandler.ListRunsHandler)
		admin.GET("/integrations/:integration_id/policy", adminHandler.PolicyHandler)
	}

	s.router = router
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("router not configured")
	}
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// GetHandler returns the configured router, or nil before SetupRouter.
func (s *Server) GetHandler() http.Handler {
	if s.router == nil {
		return nil
	}
	return s.router
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

// healthHandler reports liveness. GET /health
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports whether the database answers. GET /ready
func (s *Server) readinessHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": gin.H{"database": "error"},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("readiness check failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": gin.H{"database": "error"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"components": gin.H{"database": "ok"},
	})
}
