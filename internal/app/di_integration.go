package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/allisson/relay/internal/integration"
	"github.com/allisson/relay/internal/lock"
	"github.com/allisson/relay/internal/outbox/domain"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
)

// IntegrationsFile returns the parsed integrations file, or nil when INTEGRATIONS_FILE is unset.
func (c *Container) IntegrationsFile() (*integration.File, error) {
	var err error
	c.integrationsFileInit.Do(func() {
		c.integrationsFile, err = c.initIntegrationsFile()
		if err != nil {
			c.initErrors["integrationsFile"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["integrationsFile"]; exists {
		return nil, storedErr
	}
	return c.integrationsFile, nil
}

// PolicyRegistry returns the integration policies: the built-in catalog with the
// overrides of the integrations file applied.
func (c *Container) PolicyRegistry() (*domain.PolicyRegistry, error) {
	var err error
	c.policyRegistryInit.Do(func() {
		c.policyRegistry, err = c.initPolicyRegistry()
		if err != nil {
			c.initErrors["policyRegistry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["policyRegistry"]; exists {
		return nil, storedErr
	}
	return c.policyRegistry, nil
}

// SenderRegistry returns the downstream senders keyed by integration.
func (c *Container) SenderRegistry(ctx context.Context) (*integration.Registry, error) {
	var err error
	c.senderRegistryInit.Do(func() {
		c.senderRegistry, err = c.initSenderRegistry(ctx)
		if err != nil {
			c.initErrors["senderRegistry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["senderRegistry"]; exists {
		return nil, storedErr
	}
	return c.senderRegistry, nil
}

// RedisClient returns the redis client, or nil when REDIS_URL is unset.
func (c *Container) RedisClient(ctx context.Context) (*redis.Client, error) {
	var err error
	c.redisClientInit.Do(func() {
		c.redisClient, err = c.initRedisClient(ctx)
		if err != nil {
			c.initErrors["redisClient"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["redisClient"]; exists {
		return nil, storedErr
	}
	return c.redisClient, nil
}

// Locker returns the per-integration reconcile lock. It is backed by redis when
// REDIS_URL is set and is process local otherwise.
func (c *Container) Locker(ctx context.Context) (outboxUseCase.Locker, error) {
	var err error
	c.lockerInit.Do(func() {
		c.locker, err = c.initLocker(ctx)
		if err != nil {
			c.initErrors["locker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["locker"]; exists {
		return nil, storedErr
	}
	return c.locker, nil
}

func (c *Container) initIntegrationsFile() (*integration.File, error) {
	if c.config.IntegrationsFile == "" {
		return nil, nil
	}
	file, err := integration.LoadFile(c.config.IntegrationsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load integrations file: %w", err)
	}
	return file, nil
}

func (c *Container) initPolicyRegistry() (*domain.PolicyRegistry, error) {
	file, err := c.IntegrationsFile()
	if err != nil {
		return nil, fmt.Errorf("failed to get integrations file for policy registry: %w", err)
	}
	return file.Policies(), nil
}

func (c *Container) initSenderRegistry(ctx context.Context) (*integration.Registry, error) {
	file, err := c.IntegrationsFile()
	if err != nil {
		return nil, fmt.Errorf("failed to get integrations file for sender registry: %w", err)
	}

	secret, err := integration.OpenSigningSecret(
		ctx,
		c.config.WebhookSigningKeeperURL,
		c.config.WebhookSigningSecret,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open webhook signing secret: %w", err)
	}
	signingKey, err := integration.DeriveSigningKey(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive webhook signing key: %w", err)
	}

	registry, err := integration.BuildRegistry(ctx, file, integration.RegistryConfig{
		SigningKey: signingKey,
		Breaker: integration.BreakerConfig{
			ConsecutiveFailures: uint32(max(c.config.CircuitBreakerFailures, 0)), //nolint:gosec
			Timeout:             c.config.CircuitBreakerTimeout,
		},
		PubSubTopicURL: c.config.PubSubTopicURL,
		HTTPClient:     &http.Client{Transport: http.DefaultTransport},
	}, c.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to build sender registry: %w", err)
	}
	return registry, nil
}

func (c *Container) initRedisClient(ctx context.Context) (*redis.Client, error) {
	if c.config.RedisURL == "" {
		return nil, nil
	}
	client, err := lock.OpenRedisClient(ctx, c.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *Container) initLocker(ctx context.Context) (outboxUseCase.Locker, error) {
	client, err := c.RedisClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get redis client for locker: %w", err)
	}
	if client == nil {
		c.Logger().Warn("REDIS_URL is not set, reconcile locks are local to this process")
		return lock.NewLocalLocker(), nil
	}
	return lock.NewRedisLocker(client, c.config.LockTTL, c.Logger()), nil
}
