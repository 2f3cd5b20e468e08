package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"covenant/internal/adminaudit"
	adminstore "covenant/internal/adminaudit/store"
	"covenant/internal/alerts"
	disputemetrics "covenant/internal/dispute/metrics"
	disputeservice "covenant/internal/dispute/service"
	disputestore "covenant/internal/dispute/store"
	eventmetrics "covenant/internal/eventstore/metrics"
	eventservice "covenant/internal/eventstore/service"
	eventstore "covenant/internal/eventstore/store"
	"covenant/internal/idempotency"
	idemstore "covenant/internal/idempotency/store"
	"covenant/internal/immutability"
	"covenant/internal/integrity/attest"
	"covenant/internal/integrity/legal"
	"covenant/internal/jobs"
	"covenant/internal/platform/config"
	"covenant/internal/platform/leader"
	platformmetrics "covenant/internal/platform/metrics"
	"covenant/internal/platform/postgres"
	"covenant/internal/platform/redis"
	"covenant/internal/statemachine"
	httptransport "covenant/internal/transport/http"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/platform/audit/publishers/compliance"
	"covenant/pkg/platform/audit/publishers/security"
	auditmemory "covenant/pkg/platform/audit/store/memory"
	auditpostgres "covenant/pkg/platform/audit/store/postgres"
	txcontext "covenant/pkg/platform/tx"
)

const (
	alertTopicPartitions  = 3
	alertTopicReplication = 1
)

type stores struct {
	events      eventservice.Store
	adminAudit  adminaudit.Store
	idempotency idempotency.Store
	disputes    disputeservice.Store
	contracts   disputeservice.ContractDirectory
	audit       audit.Store
	runner      txcontext.Runner
}

type app struct {
	router    http.Handler
	scheduler *jobs.Scheduler
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires every service. Without DATABASE_URL everything runs in memory,
// which suits local development and a single process only.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	var checks []httptransport.Option

	st, db, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		checks = append(checks, httptransport.WithReadinessCheck("database", db.PingContext))
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	var lock jobs.Lock = leader.NewMemoryLock()
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		checks = append(checks, httptransport.WithReadinessCheck("redis", rdb.Health))
		lock = leader.NewRedisLock(rdb.Client)
	} else {
		log.Warn("REDIS_URL not set; scheduled jobs are only singleton within this process")
	}

	alertSink := alerts.Fanout{alerts.NewLogPublisher(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := alerts.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, alerts.WithKafkaLogger(log))
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, kp.Close)
		if err := kp.EnsureTopic(ctx, alertTopicPartitions, alertTopicReplication); err != nil {
			log.Warn("could not ensure alert topic", "topic", cfg.Kafka.AlertTopic, "error", err)
		}
		alertSink = append(alertSink, kp)
		checks = append(checks, httptransport.WithReadinessCheck("kafka", kp.Ping))
	}

	securityPublisher := security.New([]security.Sink{security.StoreSink(st.audit)}, security.WithLogger(log))
	a.closers = append(a.closers, func() { _ = securityPublisher.Close() })
	compliancePublisher := compliance.New(st.audit,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)

	events, err := eventservice.New(st.events, st.runner,
		eventservice.WithLogger(log),
		eventservice.WithMetrics(eventmetrics.New()),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	adminAudit, err := adminaudit.New(st.adminAudit, st.runner,
		adminaudit.WithLogger(log),
		adminaudit.WithMetrics(adminaudit.NewMetrics()),
		adminaudit.WithAlerts(alertSink),
		adminaudit.WithSecurityEmitter(securityPublisher),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	guard, err := idempotency.New(st.idempotency,
		idempotency.WithLogger(log),
		idempotency.WithMetrics(idempotency.NewMetrics()),
		idempotency.WithSecurityEmitter(securityPublisher),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	freeze := immutability.New(compliancePublisher,
		immutability.WithLogger(log),
		immutability.WithMetrics(immutability.NewMetrics()),
	)

	disputes, err := disputeservice.New(st.disputes, st.contracts, events, st.runner,
		disputeservice.WithLogger(log),
		disputeservice.WithMetrics(disputemetrics.New()),
		disputeservice.WithTransitionValidator(statemachine.NewGuard(statemachine.WithLogger(log))),
		disputeservice.WithFreezeGuard(freeze),
		disputeservice.WithAdminAuditor(adminAudit),
		disputeservice.WithComplianceEmitter(compliancePublisher),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	legalOpts := []legal.Option{
		legal.WithLogger(log),
		legal.WithAlerts(alertSink),
		legal.WithConcurrency(cfg.Integrity.VerifyConcurrency),
	}
	if cfg.Integrity.HMACKeys != "" {
		keys, err := attest.ParseKeys(cfg.Integrity.HMACKeys)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("INTEGRITY_HMAC_KEYS: %w", err)
		}
		keyring, err := attest.NewKeyring(keys, cfg.Integrity.ActiveKeyID)
		if err != nil {
			a.close()
			return nil, err
		}
		legalOpts = append(legalOpts, legal.WithSigner(keyring))
	} else {
		log.Warn("INTEGRITY_HMAC_KEYS not set; integrity summaries will be unsigned")
	}
	legalJob, err := legal.New(events, adminAudit, guard, compliancePublisher, legalOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	a.scheduler = jobs.New(lock,
		jobs.WithLogger(log),
		jobs.WithMetrics(platformmetrics.New()),
		jobs.WithLockTTL(cfg.Scheduler.LeaderLockTTL),
	)
	for _, job := range []jobs.Job{
		{
			Name:     "dispute-sweep",
			Interval: cfg.Scheduler.DisputeSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := disputes.ProcessExpiredDisputes(ctx)
				return err
			},
		},
		{
			Name:     "legal-integrity",
			Interval: cfg.Scheduler.IntegrityVerifyInterval,
			Run: func(ctx context.Context) error {
				_, err := legalJob.Run(ctx)
				return err
			},
		},
		{
			Name:     "idempotency-cleanup",
			Interval: cfg.Scheduler.IdempotencyCleanupInterval,
			Run: func(ctx context.Context) error {
				_, err := guard.CleanupExpiredKeys(ctx)
				return err
			},
		},
	} {
		if err := a.scheduler.Register(job); err != nil {
			a.close()
			return nil, err
		}
	}

	if cfg.Server.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set; admin endpoints reject every request")
	}
	handler, err := httptransport.New(events, adminAudit, a.scheduler,
		append(checks, httptransport.WithLogger(log), httptransport.WithIdempotency(guard))...,
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.router = httptransport.NewRouter(handler, httptransport.RouterConfig{
		AdminToken: cfg.Server.AdminToken,
		Logger:     log,
	})
	return a, nil
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, *sql.DB, error) {
	if cfg.InMemory() {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		return &stores{
			events:      eventstore.NewInMemoryStore(),
			adminAudit:  adminstore.NewInMemory(),
			idempotency: idemstore.NewInMemory(),
			disputes:    disputestore.NewInMemory(),
			contracts:   disputestore.NewInMemoryDirectory(),
			audit:       auditmemory.NewInMemoryStore(),
			runner:      txcontext.NewMemoryRunner(),
		}, nil, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return &stores{
		events:      eventstore.NewPostgres(db),
		adminAudit:  adminstore.NewPostgres(db),
		idempotency: idemstore.NewPostgres(db),
		disputes:    disputestore.NewPostgres(db),
		contracts:   disputestore.NewPostgresDirectory(db),
		audit:       auditpostgres.New(db),
		runner:      txcontext.NewManager(db, txcontext.WithTimeout(cfg.Database.TxTimeout)),
	}, db, nil
}
