// Package http provides the HTTP handlers and middleware of the outbox API.
// Enqueue is open to internal callers; every other route is administrative.
package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/relay/internal/httputil"
	"github.com/allisson/relay/internal/outbox/domain"
	"github.com/allisson/relay/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
	customValidation "github.com/allisson/relay/internal/validation"
)

// OutboxHandler handles enqueue and outbox item queries.
type OutboxHandler struct {
	outboxUseCase outboxUseCase.OutboxUseCase
	logger        *slog.Logger
}

// NewOutboxHandler creates a new outbox handler.
func NewOutboxHandler(outboxUseCase outboxUseCase.OutboxUseCase, logger *slog.Logger) *OutboxHandler {
	return &OutboxHandler{
		outboxUseCase: outboxUseCase,
		logger:        logger,
	}
}

// EnqueueHandler records an operation in the outbox.
// POST /v1/outbox/items
// Returns 201 Created for a new item and 200 OK when the operation was already enqueued.
func (h *OutboxHandler) EnqueueHandler(c *gin.Context) {
	var req dto.EnqueueRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	result, err := h.outboxUseCase.Enqueue(c.Request.Context(), req.ToInput())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	status := http.StatusCreated
	if result.Existed {
		status = http.StatusOK
	}
	c.JSON(status, dto.MapEnqueueResultToResponse(result))
}

// GetHandler returns one outbox item.
// GET /v1/outbox/items/:id
func (h *OutboxHandler) GetHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleValidationErrorGin(c, fmt.Errorf("invalid outbox item id: %w", err), h.logger)
		return
	}

	item, err := h.outboxUseCase.Get(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapOutboxItemToResponse(item))
}

// ListHandler lists outbox items, newest first.
// GET /v1/outbox/items?status=dead_letter&integration_id=resend&offset=0&limit=50
func (h *OutboxHandler) ListHandler(c *gin.Context) {
	page, err := httputil.ParsePage(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	filter := domain.OutboxItemFilter{
		IntegrationID: c.Query("integration_id"),
		Status:        domain.OutboxStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		httputil.HandleValidationErrorGin(
			c,
			fmt.Errorf("invalid status parameter: must be one of queued, sent, dead_letter"),
			h.logger,
		)
		return
	}

	items, err := h.outboxUseCase.List(c.Request.Context(), filter, page.Offset, page.Limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapOutboxItemsToListResponse(items))
}
