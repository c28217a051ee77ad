package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

const (
	// IdempotencyKeyHeader lets receivers drop duplicate deliveries.
	IdempotencyKeyHeader = "X-Relay-Idempotency-Key"

	maxResponseBody = 64 << 10
	maxErrorBody    = 200
)

// BreakerConfig configures the circuit breaker of an integration.
type BreakerConfig struct {
	// ConsecutiveFailures opens the circuit. Zero disables the breaker.
	ConsecutiveFailures uint32
	// Timeout is how long the circuit stays open before a probe request is let through.
	Timeout time.Duration
}

// WebhookConfig configures a WebhookSender.
type WebhookConfig struct {
	IntegrationID string
	URL           string
	Headers       map[string]string
	// SigningKey is the derived HMAC key. Requests are not signed when it is empty.
	SigningKey []byte
	Breaker    BreakerConfig
}

// WebhookSender posts outbox items as signed JSON envelopes.
//
// Responses are classified for the dispatcher: 2xx is a delivery, 429 is a
// *domain.RateLimitError honoring Retry-After, other 4xx (except 408) is a
// *domain.PermanentError, and everything else, network errors and an open circuit
// included, is transient.
type WebhookSender struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	now     func() time.Time
}

// NewWebhookSender creates a WebhookSender. A nil client uses http.DefaultClient; the
// per-attempt timeout comes from the context set by the dispatcher.
func NewWebhookSender(cfg WebhookConfig, client *http.Client, logger *slog.Logger) *WebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &WebhookSender{
		cfg:    cfg,
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if cfg.Breaker.ConsecutiveFailures > 0 {
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "webhook-" + cfg.IntegrationID,
			Timeout: cfg.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
			},
			// The receiver answered; throttles and rejections do not mean it is down.
			IsSuccessful: func(err error) bool {
				var rateLimited *domain.RateLimitError
				var permanent *domain.PermanentError
				return err == nil || apperrors.As(err, &rateLimited) || apperrors.As(err, &permanent)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					slog.String("integration_id", cfg.IntegrationID),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		})
	}
	return s
}

// State returns the circuit state, "closed" when the breaker is disabled.
func (s *WebhookSender) State() string {
	if s.breaker == nil {
		return gobreaker.StateClosed.String()
	}
	return s.breaker.State().String()
}

// Send delivers item to the configured URL.
func (s *WebhookSender) Send(ctx context.Context, item *domain.OutboxItem) (*domain.DeliveryReceipt, error) {
	if s.breaker == nil {
		return s.post(ctx, item)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.post(ctx, item)
	})
	if err != nil {
		if apperrors.Is(err, gobreaker.ErrOpenState) || apperrors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.Wrapf(err, "webhook %s circuit open", s.cfg.IntegrationID)
		}
		return nil, err
	}
	return result.(*domain.DeliveryReceipt), nil
}

func (s *WebhookSender) post(ctx context.Context, item *domain.OutboxItem) (*domain.DeliveryReceipt, error) {
	body, err := json.Marshal(newEnvelope(item))
	if err != nil {
		return nil, &domain.PermanentError{Err: apperrors.Wrap(err, "failed to encode webhook envelope")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.PermanentError{Err: apperrors.Wrap(err, "failed to build webhook request")}
	}
	for name, value := range s.cfg.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, item.IdempotencyKey)
	if len(s.cfg.SigningKey) > 0 {
		timestamp := s.now().Unix()
		req.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))
		req.Header.Set(SignatureHeader, Sign(s.cfg.SigningKey, timestamp, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &domain.DeliveryReceipt{ProviderResponse: providerResponse(resp.StatusCode, respBody)}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), s.now()),
			Err:        statusError(resp.StatusCode, respBody),
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout:
		return nil, &domain.PermanentError{Err: statusError(resp.StatusCode, respBody)}
	default:
		return nil, statusError(resp.StatusCode, respBody)
	}
}

// providerResponse records the status and body of a successful delivery. Bodies that
// are not JSON are stored as strings.
func providerResponse(status int, body []byte) json.RawMessage {
	doc := map[string]any{"status_code": status}
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
	case json.Valid(trimmed):
		doc["body"] = json.RawMessage(trimmed)
	default:
		doc["body"] = string(trimmed)
	}
	encoded, _ := json.Marshal(doc)
	return encoded
}

func statusError(status int, body []byte) error {
	text := string(bytes.TrimSpace(body))
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	if text == "" {
		return fmt.Errorf("webhook responded %d", status)
	}
	return fmt.Errorf("webhook responded %d: %s", status, text)
}

// parseRetryAfter accepts delay-seconds and HTTP-date values. Unparseable or past
// values yield zero, leaving the policy backoff in charge.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
