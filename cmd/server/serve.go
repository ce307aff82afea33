package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "assetdesk/internal/http"
	"assetdesk/internal/platform/httpserver"
	"assetdesk/internal/platform/metrics"
	"assetdesk/internal/renewal"
	renewalmetrics "assetdesk/internal/renewal/metrics"
	"assetdesk/pkg/platform/audit/outbox"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the due-soon watcher and the audit relay",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log, renewalmetrics.New())
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.newWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if a.kafka != nil {
		if err := a.kafka.EnsureTopics(ctx, 1, 1, cfg.Kafka.DueSoonTopic, cfg.Kafka.AuditTopic); err != nil {
			log.Warn("failed to ensure kafka topics", "error", err)
		}
	}

	router := httpapi.NewRouter(httpapi.Options{
		Logger:         log,
		Checks:         a.healthChecks(),
		RequestTimeout: cfg.Server.RequestTimeout,
	}, renewal.NewHandler(a.service, w, log, metrics.New()))
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.ReadHeaderTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting assetdesk", "addr", cfg.Server.Addr)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return w.Run(gctx)
	})
	if a.db != nil && a.kafka != nil {
		relay := outbox.NewRelay(a.db, a.kafka, cfg.Kafka.AuditTopic,
			outbox.WithBatchSize(cfg.Audit.OutboxBatchSize),
			outbox.WithInterval(cfg.Audit.OutboxPollInterval),
			outbox.WithLogger(log),
		)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("assetdesk stopped")
	return nil
}

func (a *app) healthChecks() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.kafka != nil {
		checks["kafka"] = func(ctx context.Context) error { return a.kafka.Health(ctx) }
	}
	return checks
}
