package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"fundops/internal/access"
	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/handler"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/scheduler"
	"fundops/internal/lifecycle/sections"
	"fundops/internal/lifecycle/service"
	"fundops/internal/platform/blobstore"
	"fundops/internal/platform/config"
	"fundops/internal/platform/httpserver"
	"fundops/internal/platform/kafka"
	"fundops/internal/platform/logger"
	"fundops/internal/platform/metrics"
	"fundops/internal/platform/redis"
	"fundops/internal/scope"
	httptransport "fundops/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the lifecycle service.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fundops stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openStorage(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.close() }()

	ledger := audit.NewLedger(store, audit.WithLogger(log), audit.WithMetrics(m))
	guard := access.NewGuard(
		access.WithLogger(log),
		access.WithMetrics(m),
		access.WithRoleBypass(cfg.Auth.BypassAuthorization),
	)
	if cfg.Auth.BypassAuthorization {
		log.Warn("role checks are bypassed", "env", string(cfg.Env))
	}

	resolver, err := identity.New(cfg.Env, cfg.Auth)
	if err != nil {
		return fmt.Errorf("identity resolver: %w", err)
	}
	policy, err := scope.LoadPolicyFile(cfg.Scope.PolicyFile)
	if err != nil {
		return err
	}
	severity, err := severityPolicy(cfg.Alerts.SeverityThresholds)
	if err != nil {
		return err
	}
	blobs, err := blobstore.NewLocal(cfg.Blob.Root)
	if err != nil {
		return err
	}

	svc, err := service.New(store, service.StoresOf(store), ledger, guard,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithBlobStore(blobs),
		service.WithScopePolicy(policy),
		service.WithSeverityPolicy(severity),
		service.WithSectionComputers(sections.Defaults(store)...),
	)
	if err != nil {
		return err
	}

	rc, err := redis.Open(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var lease scheduler.Lease = scheduler.NewLocalLease()
	checks := []httptransport.Check{{Name: "database", Probe: store.health}}
	if rc != nil {
		defer func() { _ = rc.Close() }()
		lease = scheduler.NewRedisLease(rc)
		checks = append(checks, httptransport.Check{Name: "redis", Probe: redis.Probe(rc)})
	} else {
		log.Warn("REDIS_URL not set, scheduler lease is process-local")
	}
	sched, err := scheduler.New(svc, lease, cfg.Alerts.ScanInterval,
		scheduler.WithLogger(log),
		scheduler.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	producer, err := kafka.New(cfg.Kafka)
	if err != nil {
		return err
	}
	var relay *outbox.Relay
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, 6, 1); err != nil {
			log.Warn("could not ensure audit topic", "error", err)
		}
		relay = outbox.NewRelay(store, producer,
			outbox.WithLogger(log),
			outbox.WithMetrics(m),
			outbox.WithInterval(cfg.Kafka.RelayInterval),
			outbox.WithBatchSize(cfg.Kafka.RelayBatch),
		)
		checks = append(checks, httptransport.Check{Name: "kafka", Probe: producer.Ping})
	} else {
		log.Warn("KAFKA_BROKERS not set, audit events stay in the outbox")
	}

	routerCfg := httptransport.Config{
		Handler:        handler.New(svc, guard, log),
		Resolver:       resolver,
		TrustedHeader:  cfg.Auth.TrustedHeader,
		RequestTimeout: cfg.Server.RequestTimeout,
		AdminToken:     cfg.Server.AdminToken,
		Gatherer:       reg,
		Checks:         checks,
		Cycle:          sched,
	}
	if relay != nil {
		routerCfg.Outbox = relay
	}
	srv := httpserver.New(cfg.Server, httptransport.NewRouter(routerCfg, log, m), log)

	log.Info("starting fundops", "env", string(cfg.Env))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return ignoreCancel(sched.Start(gctx))
	})
	if relay != nil {
		g.Go(func() error {
			return ignoreCancel(relay.Run(gctx))
		})
	}
	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func severityPolicy(thresholds []config.SeverityThreshold) (models.SeverityPolicy, error) {
	ts := make([]models.SeverityThreshold, len(thresholds))
	for i, th := range thresholds {
		ts[i] = models.SeverityThreshold{MinDaysOverdue: th.MinDaysOverdue, Severity: models.Severity(th.Severity)}
	}
	return models.NewSeverityPolicy(ts...)
}
