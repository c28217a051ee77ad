package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/allisson/relay/internal/outbox/domain"
	"github.com/allisson/relay/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
)

// RunDispatch processes one batch of due outbox items and prints the per-batch summary.
// A batch size of zero uses the configured default.
func RunDispatch(
	ctx context.Context,
	dispatchUseCase outboxUseCase.DispatchUseCase,
	logger *slog.Logger,
	out io.Writer,
	batchSize int,
	integrationID string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	req := dto.DispatchRequest{BatchSize: batchSize, IntegrationID: integrationID}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch request: %w", err)
	}

	logger.Info("dispatching outbox batch",
		slog.Int("batch_size", batchSize),
		slog.String("integration_id", integrationID),
	)

	result, err := dispatchUseCase.DispatchBatch(ctx, req.ToInput())
	if err != nil {
		return fmt.Errorf("failed to dispatch batch: %w", err)
	}

	if format == "json" {
		return writeJSON(out, dto.MapDispatchResultToResponse(result))
	}
	return outputDispatchText(out, result)
}

func outputDispatchText(out io.Writer, result *domain.DispatchResult) error {
	_, err := fmt.Fprintf(out,
		"Dispatched %d item(s): %d sent, %d failed, %d rate limited, %d dead-lettered, %d skipped\n",
		result.Total, result.Sent, result.Failed, result.RateLimited, result.DeadLettered, result.Skipped,
	)
	if err != nil {
		return err
	}
	for _, item := range result.Items {
		line := fmt.Sprintf("  %s %s %s (attempt %d)", item.OutboxID, item.IntegrationID, item.Outcome, item.AttemptCount)
		if item.Error != "" {
			line += ": " + item.Error
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
