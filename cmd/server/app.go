package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"assetdesk/internal/platform/config"
	"assetdesk/internal/platform/kafka"
	"assetdesk/internal/platform/postgres"
	"assetdesk/internal/platform/postgres/migrations"
	redisclient "assetdesk/internal/platform/redis"
	"assetdesk/internal/renewal"
	"assetdesk/internal/renewal/duedate"
	renewalmetrics "assetdesk/internal/renewal/metrics"
	"assetdesk/internal/renewal/service"
	"assetdesk/internal/renewal/store"
	"assetdesk/internal/renewal/watcher"
	audit "assetdesk/pkg/platform/audit"
	"assetdesk/pkg/platform/audit/publisher"
	auditmemory "assetdesk/pkg/platform/audit/store/memory"
	auditpostgres "assetdesk/pkg/platform/audit/store/postgres"
	txcontext "assetdesk/pkg/platform/tx"
)

// app holds the process-wide dependencies shared by the subcommands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *sql.DB
	redis   *redisclient.Client
	kafka   *kafka.Client
	audit   *publisher.Publisher
	metrics *renewalmetrics.Metrics
	service *renewal.Service
}

// newApp connects the configured backends. Postgres, Redis and Kafka are
// each optional; without them the process keeps state in memory and logs
// notifications.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, m *renewalmetrics.Metrics) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: m}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		records    service.Store
		auditStore audit.Store
		txRunner   txcontext.Runner = txcontext.NoopRunner{}
	)
	if cfg.Database.URL != "" {
		a.db, err = postgres.Open(ctx, cfg.Database.URL, postgres.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		status, err := migrations.CheckStatus(a.db)
		if err != nil {
			return nil, err
		}
		if !status.Current() {
			return nil, fmt.Errorf("database schema at version %d (dirty=%t), want %d: run `assetdesk migrate`",
				status.Version, status.Dirty, status.Latest)
		}
		records = store.NewPostgres(a.db)
		auditStore = auditpostgres.New(a.db)
		txRunner = txcontext.NewSQLRunner(a.db)
		logger.Info("using postgres renewal store")
	} else {
		records = store.NewInMemoryStore()
		auditStore = auditmemory.NewInMemoryStore()
		logger.Warn("database.url not set, renewals are kept in memory")
	}

	if a.redis, err = redisclient.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if a.kafka, err = kafka.New(ctx, cfg.Kafka); err != nil {
		return nil, err
	}

	pubOpts := []publisher.Option{publisher.WithLogger(logger)}
	switch {
	case cfg.Audit.Async && a.db != nil:
		logger.Warn("audit.async ignored: the postgres outbox is written inside the renewal transaction")
	case cfg.Audit.Async:
		pubOpts = append(pubOpts, publisher.WithAsyncBuffer(cfg.Audit.BufferSize))
	}
	a.audit = publisher.NewPublisher(auditStore, pubOpts...)

	a.service, err = renewal.NewService(records,
		service.WithLogger(logger),
		service.WithAuditPublisher(a.audit),
		service.WithMetrics(m),
		service.WithTxRunner(txRunner),
		service.WithWindow(duedate.Window{
			LookaheadMonths: cfg.Renewals.LookaheadMonths,
			GraceDays:       cfg.Renewals.GraceDays,
		}),
		service.WithLocation(cfg.Renewals.Location),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newWatcher builds the due-soon watcher over the shared snapshot store
// (Redis when configured) with the matching notifier.
func (a *app) newWatcher() (*renewal.Watcher, error) {
	var snapshots watcher.SnapshotStore = watcher.NewMemorySnapshotStore()
	if a.redis != nil {
		snapshots = watcher.NewRedisSnapshotStore(a.redis.Client, watcher.WithSnapshotKey(a.cfg.Redis.SnapshotKey))
	}
	var notifier watcher.Notifier = watcher.NewLogNotifier(a.logger)
	if a.kafka != nil {
		notifier = watcher.NewKafkaNotifier(a.kafka, a.cfg.Kafka.DueSoonTopic)
	}
	return renewal.NewWatcher(a.service, snapshots,
		watcher.WithLogger(a.logger),
		watcher.WithNotifier(notifier),
		watcher.WithAuditPublisher(a.audit),
		watcher.WithMetrics(a.metrics),
		watcher.WithInterval(a.cfg.Renewals.PollInterval),
		watcher.WithRefreshTimeout(a.cfg.Renewals.RefreshTimeout),
	)
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.audit != nil {
		a.audit.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}
