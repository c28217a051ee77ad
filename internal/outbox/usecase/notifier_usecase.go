package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/allisson/relay/internal/outbox/domain"
)

// outboxNotifier implements FailureNotifier by enqueueing one notify item per channel
// through the outbox itself, so notifications get the same retry guarantees.
type outboxNotifier struct {
	enqueuer Enqueuer
	channels []string
	logger   *slog.Logger
}

// NewFailureNotifier creates a notifier delivering to the given channel integrations
// (e.g., "slack", "resend").
func NewFailureNotifier(enqueuer Enqueuer, channels []string, logger *slog.Logger) FailureNotifier {
	return &outboxNotifier{
		enqueuer: enqueuer,
		channels: channels,
		logger:   logger,
	}
}

// notificationPayload is the body of a notify item.
type notificationPayload struct {
	IntegrationID string         `json:"integration_id"`
	ErrorType     string         `json:"error_type"`
	ErrorMessage  string         `json:"error_message"`
	Context       map[string]any `json:"context,omitempty"`
}

// NotifyIntegrationFailure enqueues the failure on every channel. Failures of notify
// items themselves are only logged.
func (n *outboxNotifier) NotifyIntegrationFailure(ctx context.Context, failure domain.IntegrationFailure) {
	logger := n.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	attrs := []any{
		slog.String("integration_id", failure.IntegrationID),
		slog.String("error_type", failure.ErrorType),
		slog.String("error_message", failure.ErrorMessage),
		slog.String("resource_id", failure.ResourceID),
	}

	if failure.Operation == domain.OperationNotify {
		logger.Error("failure notification could not be delivered", attrs...)
		return
	}

	payload, err := json.Marshal(notificationPayload{
		IntegrationID: failure.IntegrationID,
		ErrorType:     failure.ErrorType,
		ErrorMessage:  failure.ErrorMessage,
		Context:       failure.Context,
	})
	if err != nil {
		logger.Error("failed to encode failure notification", append(attrs, slog.Any("error", err))...)
		return
	}

	for _, channel := range n.channels {
		_, err := n.enqueuer.Enqueue(ctx, domain.EnqueueInput{
			IntegrationID:    channel,
			Operation:        domain.OperationNotify,
			StableResourceID: failure.ErrorType + ":" + failure.ResourceID,
			Payload:          payload,
		})
		if err != nil {
			logger.Error("failed to enqueue failure notification",
				append(attrs, slog.String("channel", channel), slog.Any("error", err))...)
			continue
		}
		logger.Warn("integration failure escalated", append(attrs, slog.String("channel", channel))...)
	}
}
