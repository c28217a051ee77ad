package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// corsMiddleware allows browser callers from origins to reach the outbox API.
// It returns nil when no origin is configured.
func corsMiddleware(origins []string, logger *slog.Logger) gin.HandlerFunc {
	if len(origins) == 0 {
		logger.Warn("cors enabled without allowed origins, skipping")
		return nil
	}

	logger.Info("cors enabled", slog.Any("origins", origins))

	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		// Retry-After is set by the enqueue rate limiter.
		ExposeHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:        12 * time.Hour,
	})
}
