package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/allisson/relay/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
)

// RunEnqueue records one outbox item. Repeating the call with the same integration,
// operation and resource returns the stored item instead of creating a second one.
func RunEnqueue(
	ctx context.Context,
	outboxUseCase outboxUseCase.OutboxUseCase,
	logger *slog.Logger,
	out io.Writer,
	integrationID string,
	operation string,
	stableResourceID string,
	payload string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	req := dto.EnqueueRequest{
		IntegrationID:    integrationID,
		Operation:        operation,
		StableResourceID: stableResourceID,
		Payload:          json.RawMessage(payload),
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid enqueue request: %w", err)
	}

	result, err := outboxUseCase.Enqueue(ctx, req.ToInput())
	if err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}

	logger.Info("outbox item enqueued",
		slog.String("outbox_id", result.Item.ID.String()),
		slog.String("integration_id", integrationID),
		slog.Bool("existed", result.Existed),
	)

	if format == "json" {
		return writeJSON(out, dto.MapEnqueueResultToResponse(result))
	}

	verb := "Enqueued"
	if result.Existed {
		verb = "Already enqueued"
	}
	_, err = fmt.Fprintf(out, "%s outbox item %s (status: %s)\n", verb, result.Item.ID, result.Item.Status)
	return err
}
