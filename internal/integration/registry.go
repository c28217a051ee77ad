package integration

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

// DefaultPubSubIntegration is the integration served by the topic configured with
// PUBSUB_TOPIC_URL when the integrations file does not configure it.
const DefaultPubSubIntegration = "pubsub"

// Registry maps integrations to their senders. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]domain.Sender
	kinds   map[string]string
	closers []func(context.Context) error
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]domain.Sender),
		kinds:   make(map[string]string),
	}
}

// Register sets the sender of integrationID, replacing any previous one.
func (r *Registry) Register(integrationID, kind string, sender domain.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[integrationID] = sender
	r.kinds[integrationID] = kind
}

// SenderFor returns the sender of integrationID.
func (r *Registry) SenderFor(integrationID string) (domain.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[integrationID]
	return sender, ok
}

// SenderKind returns the sender type of integrationID, or "" when none is registered.
func (r *Registry) SenderKind(integrationID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[integrationID]
}

// IntegrationIDs returns the integrations that have a sender, in sorted order.
func (r *Registry) IntegrationIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.senders))
	for id := range r.senders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close releases sender resources such as open topics.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for _, closeFn := range closers {
		errs = append(errs, closeFn(ctx))
	}
	return apperrors.Join(errs...)
}

func (r *Registry) onClose(fn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// RegistryConfig holds the settings shared by the senders built from the file.
type RegistryConfig struct {
	SigningKey []byte
	Breaker    BreakerConfig
	// PubSubTopicURL backs DefaultPubSubIntegration when set.
	PubSubTopicURL string
	HTTPClient     *http.Client
}

// BuildRegistry creates the senders configured in file. Integrations without a
// sender entry get none, and their items fail transiently until one is configured.
func BuildRegistry(ctx context.Context, file *File, cfg RegistryConfig, logger *slog.Logger) (*Registry, error) {
	registry := NewRegistry()

	fail := func(err error) (*Registry, error) {
		_ = registry.Close(ctx)
		return nil, err
	}

	for _, id := range file.IntegrationIDs() {
		senderCfg := file.Integrations[id].Sender
		if senderCfg == nil {
			continue
		}

		switch senderCfg.Type {
		case SenderTypeWebhook:
			registry.Register(id, senderCfg.Type, NewWebhookSender(WebhookConfig{
				IntegrationID: id,
				URL:           senderCfg.URL,
				Headers:       senderCfg.Headers,
				SigningKey:    cfg.SigningKey,
				Breaker:       cfg.Breaker,
			}, cfg.HTTPClient, logger))
		case SenderTypePubSub:
			sender, err := OpenPubSubSender(ctx, senderCfg.TopicURL)
			if err != nil {
				return fail(err)
			}
			registry.onClose(sender.Close)
			registry.Register(id, senderCfg.Type, sender)
		case SenderTypeLog:
			registry.Register(id, senderCfg.Type, NewLogSender(logger))
		default:
			return fail(apperrors.Wrapf(apperrors.ErrInvalidInput, "integration %s: unknown sender type %q", id, senderCfg.Type))
		}
	}

	if cfg.PubSubTopicURL != "" {
		if _, ok := registry.SenderFor(DefaultPubSubIntegration); !ok {
			sender, err := OpenPubSubSender(ctx, cfg.PubSubTopicURL)
			if err != nil {
				return fail(err)
			}
			registry.onClose(sender.Close)
			registry.Register(DefaultPubSubIntegration, SenderTypePubSub, sender)
		}
	}

	return registry, nil
}
