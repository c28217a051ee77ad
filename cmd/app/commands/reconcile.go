package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	validation "github.com/jellydator/validation"

	"github.com/allisson/relay/internal/outbox/domain"
	"github.com/allisson/relay/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
	customValidation "github.com/allisson/relay/internal/validation"
)

// RunReconcile runs a drift detection pass for integrationID, or for every configured
// integration when it is empty. A failed pass is still printed before its error is returned.
func RunReconcile(
	ctx context.Context,
	reconcileUseCase outboxUseCase.ReconcileUseCase,
	logger *slog.Logger,
	out io.Writer,
	integrationID string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	if err := validation.Validate(integrationID, customValidation.Identifier); err != nil {
		return fmt.Errorf("invalid integration id: %w", err)
	}

	logger.Info("reconciling integrations", slog.String("integration_id", integrationID))

	var (
		results []*domain.ReconcileResult
		runErr  error
	)
	if integrationID != "" {
		result, err := reconcileUseCase.Reconcile(ctx, integrationID)
		if result != nil {
			results = append(results, result)
		}
		runErr = err
	} else {
		results, runErr = reconcileUseCase.ReconcileAll(ctx)
	}

	if err := outputReconcile(out, results, format); err != nil {
		return err
	}

	if runErr != nil {
		return fmt.Errorf("reconcile failed: %w", runErr)
	}
	return nil
}

func outputReconcile(out io.Writer, results []*domain.ReconcileResult, format string) error {
	responses := make([]dto.ReconcileResponse, 0, len(results))
	for _, result := range results {
		if result == nil {
			continue
		}
		responses = append(responses, dto.MapReconcileResultToResponse(result))
	}

	if format == "json" {
		return writeJSON(out, responses)
	}

	if len(responses) == 0 {
		_, err := fmt.Fprintln(out, "No integration was reconciled")
		return err
	}
	for _, r := range responses {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		line := fmt.Sprintf("%s: %s, checked %d, fixed %d (run %s)", r.IntegrationID, status, r.Checked, r.Fixed, r.RunID)
		if r.Notes != "" {
			line += ": " + r.Notes
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
