package app

import (
	"context"
	"fmt"

	outboxHTTP "github.com/allisson/relay/internal/outbox/http"
	"github.com/allisson/relay/internal/outbox/http/dto"
	outboxRepository "github.com/allisson/relay/internal/outbox/repository"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
)

// OutboxItemRepository returns the outbox item repository for the configured driver.
func (c *Container) OutboxItemRepository() (outboxUseCase.OutboxItemRepository, error) {
	var err error
	c.outboxItemRepositoryInit.Do(func() {
		c.outboxItemRepository, err = c.initOutboxItemRepository()
		if err != nil {
			c.initErrors["outboxItemRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxItemRepository"]; exists {
		return nil, storedErr
	}
	return c.outboxItemRepository, nil
}

// ReconcileRunRepository returns the reconcile run repository for the configured driver.
func (c *Container) ReconcileRunRepository() (outboxUseCase.ReconcileRunRepository, error) {
	var err error
	c.reconcileRunRepositoryInit.Do(func() {
		c.reconcileRunRepository, err = c.initReconcileRunRepository()
		if err != nil {
			c.initErrors["reconcileRunRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["reconcileRunRepository"]; exists {
		return nil, storedErr
	}
	return c.reconcileRunRepository, nil
}

// DownstreamLogRepository returns the downstream send log repository for the configured driver.
func (c *Container) DownstreamLogRepository() (outboxUseCase.DownstreamLogRepository, error) {
	var err error
	c.downstreamLogRepositoryInit.Do(func() {
		c.downstreamLogRepository, err = c.initDownstreamLogRepository()
		if err != nil {
			c.initErrors["downstreamLogRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["downstreamLogRepository"]; exists {
		return nil, storedErr
	}
	return c.downstreamLogRepository, nil
}

// OutboxUseCase returns the enqueue and lookup use case.
func (c *Container) OutboxUseCase() (outboxUseCase.OutboxUseCase, error) {
	var err error
	c.outboxUseCaseInit.Do(func() {
		c.outboxUseCase, err = c.initOutboxUseCase()
		if err != nil {
			c.initErrors["outboxUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxUseCase"]; exists {
		return nil, storedErr
	}
	return c.outboxUseCase, nil
}

// FailureNotifier returns the notifier that fans integration failures out to the
// configured notification channels.
func (c *Container) FailureNotifier() (outboxUseCase.FailureNotifier, error) {
	var err error
	c.failureNotifierInit.Do(func() {
		c.failureNotifier, err = c.initFailureNotifier()
		if err != nil {
			c.initErrors["failureNotifier"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["failureNotifier"]; exists {
		return nil, storedErr
	}
	return c.failureNotifier, nil
}

// DispatchUseCase returns the dispatcher.
func (c *Container) DispatchUseCase(ctx context.Context) (outboxUseCase.DispatchUseCase, error) {
	var err error
	c.dispatchUseCaseInit.Do(func() {
		c.dispatchUseCase, err = c.initDispatchUseCase(ctx)
		if err != nil {
			c.initErrors["dispatchUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["dispatchUseCase"]; exists {
		return nil, storedErr
	}
	return c.dispatchUseCase, nil
}

// ReconcileUseCase returns the reconciler.
func (c *Container) ReconcileUseCase(ctx context.Context) (outboxUseCase.ReconcileUseCase, error) {
	var err error
	c.reconcileUseCaseInit.Do(func() {
		c.reconcileUseCase, err = c.initReconcileUseCase(ctx)
		if err != nil {
			c.initErrors["reconcileUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["reconcileUseCase"]; exists {
		return nil, storedErr
	}
	return c.reconcileUseCase, nil
}

// Worker returns the in-process dispatch and reconcile scheduler.
func (c *Container) Worker(ctx context.Context) (*outboxUseCase.Worker, error) {
	var err error
	c.workerInit.Do(func() {
		c.worker, err = c.initWorker(ctx)
		if err != nil {
			c.initErrors["worker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["worker"]; exists {
		return nil, storedErr
	}
	return c.worker, nil
}

// OutboxHandler returns the enqueue and item lookup HTTP handler.
func (c *Container) OutboxHandler() (*outboxHTTP.OutboxHandler, error) {
	var err error
	c.outboxHandlerInit.Do(func() {
		c.outboxHandler, err = c.initOutboxHandler()
		if err != nil {
			c.initErrors["outboxHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxHandler"]; exists {
		return nil, storedErr
	}
	return c.outboxHandler, nil
}

// AdminHandler returns the operator HTTP handler. Its use cases are built with a
// background context since they outlive any single request.
func (c *Container) AdminHandler() (*outboxHTTP.AdminHandler, error) {
	var err error
	c.adminHandlerInit.Do(func() {
		c.adminHandler, err = c.initAdminHandler(context.Background())
		if err != nil {
			c.initErrors["adminHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["adminHandler"]; exists {
		return nil, storedErr
	}
	return c.adminHandler, nil
}

// AdminTokenVerifier returns the verifier for the operator bearer token.
func (c *Container) AdminTokenVerifier() (outboxHTTP.TokenVerifier, error) {
	var err error
	c.adminVerifierInit.Do(func() {
		c.adminVerifier, err = c.initAdminTokenVerifier()
		if err != nil {
			c.initErrors["adminVerifier"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["adminVerifier"]; exists {
		return nil, storedErr
	}
	return c.adminVerifier, nil
}

func (c *Container) initOutboxItemRepository() (outboxUseCase.OutboxItemRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for outbox item repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return outboxRepository.NewPostgreSQLOutboxItemRepository(db), nil
	case "mysql":
		return outboxRepository.NewMySQLOutboxItemRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initReconcileRunRepository() (outboxUseCase.ReconcileRunRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for reconcile run repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return outboxRepository.NewPostgreSQLReconcileRunRepository(db), nil
	case "mysql":
		return outboxRepository.NewMySQLReconcileRunRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initDownstreamLogRepository() (outboxUseCase.DownstreamLogRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for downstream log repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return outboxRepository.NewPostgreSQLDownstreamLogRepository(db), nil
	case "mysql":
		return outboxRepository.NewMySQLDownstreamLogRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initOutboxUseCase() (outboxUseCase.OutboxUseCase, error) {
	repo, err := c.OutboxItemRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox item repository for outbox use case: %w", err)
	}

	useCase := outboxUseCase.NewOutboxUseCase(repo, c.Logger())

	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for outbox use case: %w", err)
		}
		return outboxUseCase.NewOutboxUseCaseWithMetrics(useCase, businessMetrics), nil
	}

	return useCase, nil
}

func (c *Container) initFailureNotifier() (outboxUseCase.FailureNotifier, error) {
	enqueuer, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for failure notifier: %w", err)
	}
	return outboxUseCase.NewFailureNotifier(enqueuer, c.config.GetNotifyChannels(), c.Logger()), nil
}

func (c *Container) initDispatchUseCase(ctx context.Context) (outboxUseCase.DispatchUseCase, error) {
	repo, err := c.OutboxItemRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox item repository for dispatch use case: %w", err)
	}

	policies, err := c.PolicyRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy registry for dispatch use case: %w", err)
	}

	senders, err := c.SenderRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender registry for dispatch use case: %w", err)
	}

	notifier, err := c.FailureNotifier()
	if err != nil {
		return nil, fmt.Errorf("failed to get failure notifier for dispatch use case: %w", err)
	}

	useCase := outboxUseCase.NewDispatchUseCase(
		outboxUseCase.DispatchConfig{
			DefaultBatchSize: c.config.DispatchBatchSize,
			MaxBatchSize:     dto.MaxDispatchBatchSize,
			Lease:            c.config.DispatchLease,
		},
		repo,
		policies,
		senders,
		notifier,
		c.Logger(),
	)

	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for dispatch use case: %w", err)
		}
		outboxMetrics, err := c.OutboxMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbox metrics for dispatch use case: %w", err)
		}
		return outboxUseCase.NewDispatchUseCaseWithMetrics(useCase, businessMetrics, outboxMetrics), nil
	}

	return useCase, nil
}

func (c *Container) initReconcileUseCase(ctx context.Context) (outboxUseCase.ReconcileUseCase, error) {
	outboxRepo, err := c.OutboxItemRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox item repository for reconcile use case: %w", err)
	}

	runRepo, err := c.ReconcileRunRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get reconcile run repository for reconcile use case: %w", err)
	}

	logRepo, err := c.DownstreamLogRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get downstream log repository for reconcile use case: %w", err)
	}

	enqueuer, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for reconcile use case: %w", err)
	}

	policies, err := c.PolicyRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy registry for reconcile use case: %w", err)
	}

	locker, err := c.Locker(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get locker for reconcile use case: %w", err)
	}

	notifier, err := c.FailureNotifier()
	if err != nil {
		return nil, fmt.Errorf("failed to get failure notifier for reconcile use case: %w", err)
	}

	useCase := outboxUseCase.NewReconcileUseCase(
		outboxUseCase.ReconcileConfig{
			StaleAfter:  c.config.ReconcileStaleAfter,
			Concurrency: c.config.ReconcileConcurrency,
		},
		outboxRepo,
		runRepo,
		logRepo,
		enqueuer,
		policies,
		locker,
		notifier,
		c.Logger(),
	)

	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for reconcile use case: %w", err)
		}
		outboxMetrics, err := c.OutboxMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbox metrics for reconcile use case: %w", err)
		}
		return outboxUseCase.NewReconcileUseCaseWithMetrics(useCase, businessMetrics, outboxMetrics), nil
	}

	return useCase, nil
}

func (c *Container) initWorker(ctx context.Context) (*outboxUseCase.Worker, error) {
	dispatch, err := c.DispatchUseCase(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch use case for worker: %w", err)
	}

	reconcile, err := c.ReconcileUseCase(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get reconcile use case for worker: %w", err)
	}

	return outboxUseCase.NewWorker(
		outboxUseCase.WorkerConfig{
			DispatchInterval:  c.config.DispatchInterval,
			ReconcileInterval: c.config.ReconcileInterval,
			BatchSize:         c.config.DispatchBatchSize,
		},
		dispatch,
		reconcile,
		c.Logger(),
	), nil
}

func (c *Container) initOutboxHandler() (*outboxHTTP.OutboxHandler, error) {
	useCase, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for outbox handler: %w", err)
	}
	return outboxHTTP.NewOutboxHandler(useCase, c.Logger()), nil
}

func (c *Container) initAdminHandler(ctx context.Context) (*outboxHTTP.AdminHandler, error) {
	dispatch, err := c.DispatchUseCase(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch use case for admin handler: %w", err)
	}

	reconcile, err := c.ReconcileUseCase(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get reconcile use case for admin handler: %w", err)
	}

	policies, err := c.PolicyRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy registry for admin handler: %w", err)
	}

	senders, err := c.SenderRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender registry for admin handler: %w", err)
	}

	return outboxHTTP.NewAdminHandler(dispatch, reconcile, policies, senders, c.Logger()), nil
}

func (c *Container) initAdminTokenVerifier() (outboxHTTP.TokenVerifier, error) {
	if c.config.AdminTokenHash == "" {
		c.Logger().Warn("ADMIN_TOKEN_HASH is not set, admin endpoints reject every request")
	}
	verifier, err := outboxHTTP.NewAdminTokenVerifier(c.config.AdminTokenHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin token verifier: %w", err)
	}
	return verifier, nil
}
