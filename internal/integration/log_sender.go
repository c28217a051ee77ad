package integration

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/allisson/relay/internal/outbox/domain"
)

// LogSender writes items to the application log and reports them delivered. It backs
// integrations configured with the "log" sender type, such as a development
// notification channel.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the item.
func (l *LogSender) Send(ctx context.Context, item *domain.OutboxItem) (*domain.DeliveryReceipt, error) {
	l.logger.InfoContext(ctx, "outbox item delivered to log",
		slog.String("outbox_id", item.ID.String()),
		slog.String("integration_id", item.IntegrationID),
		slog.String("operation", item.Operation),
		slog.String("stable_resource_id", item.StableResourceID),
		slog.String("payload", string(item.Payload)),
	)
	receipt, _ := json.Marshal(map[string]bool{"logged": true})
	return &domain.DeliveryReceipt{ProviderResponse: receipt}, nil
}
