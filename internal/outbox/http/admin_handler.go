package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/httputil"
	"github.com/allisson/relay/internal/outbox/domain"
	"github.com/allisson/relay/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
	customValidation "github.com/allisson/relay/internal/validation"
)

// SenderKindResolver reports which kind of sender serves an integration.
type SenderKindResolver interface {
	SenderKind(integrationID string) string
}

// AdminHandler handles on-demand dispatch, reconciliation and policy inspection.
type AdminHandler struct {
	dispatchUseCase  outboxUseCase.DispatchUseCase
	reconcileUseCase outboxUseCase.ReconcileUseCase
	policies         *domain.PolicyRegistry
	senders          SenderKindResolver
	logger           *slog.Logger
}

// NewAdminHandler creates a new admin handler. senders may be nil.
func NewAdminHandler(
	dispatchUseCase outboxUseCase.DispatchUseCase,
	reconcileUseCase outboxUseCase.ReconcileUseCase,
	policies *domain.PolicyRegistry,
	senders SenderKindResolver,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		dispatchUseCase:  dispatchUseCase,
		reconcileUseCase: reconcileUseCase,
		policies:         policies,
		senders:          senders,
		logger:           logger,
	}
}

// DispatchHandler runs one dispatch batch.
// POST /v1/outbox/dispatch with an optional {"batch_size": 50, "integration_id": "resend"} body.
func (h *AdminHandler) DispatchHandler(c *gin.Context) {
	var req dto.DispatchRequest

	// The body is optional.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	result, err := h.dispatchUseCase.DispatchBatch(c.Request.Context(), req.ToInput())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapDispatchResultToResponse(result))
}

// ReconcileHandler runs one reconciliation pass for an integration.
// POST /v1/outbox/reconcile/:integration_id
//
// A pass that ran and failed still answers 200 with success=false and the reason in
// notes, since its run was recorded. A pass blocked by another worker answers 409.
func (h *AdminHandler) ReconcileHandler(c *gin.Context) {
	integrationID := c.Param("integration_id")

	result, err := h.reconcileUseCase.Reconcile(c.Request.Context(), integrationID)
	if err != nil && (result == nil || apperrors.Is(err, apperrors.ErrLocked)) {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapReconcileResultToResponse(result))
}

// ListRunsHandler lists reconcile runs, newest first.
// GET /v1/outbox/reconcile-runs?integration_id=resend&offset=0&limit=50
func (h *AdminHandler) ListRunsHandler(c *gin.Context) {
	page, err := httputil.ParsePage(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	integrationID := c.Query("integration_id")
	if err := validation.Validate(integrationID, customValidation.Identifier); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	runs, err := h.reconcileUseCase.ListRuns(c.Request.Context(), integrationID, page.Offset, page.Limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapReconcileRunsToListResponse(runs))
}

// PolicyHandler returns the resolved delivery policy of an integration. Unknown
// integrations report the default policy with configured=false.
// GET /v1/integrations/:integration_id/policy
func (h *AdminHandler) PolicyHandler(c *gin.Context) {
	integrationID := c.Param("integration_id")
	if err := validation.Validate(integrationID, validation.Required, customValidation.Identifier); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	var sender string
	if h.senders != nil {
		sender = h.senders.SenderKind(integrationID)
	}

	policy := h.policies.PolicyFor(integrationID)
	c.JSON(http.StatusOK, dto.MapPolicyToResponse(policy, h.policies.Has(integrationID), sender))
}
