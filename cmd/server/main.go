package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"fides/internal/access"
	"fides/internal/audit"
	"fides/internal/conference"
	httpapi "fides/internal/http"
	"fides/internal/platform/config"
	"fides/internal/platform/httpserver"
	"fides/internal/platform/logger"
	"fides/internal/platform/middleware"
	platformredis "fides/internal/platform/redis"
	"fides/internal/policy"
	"fides/internal/verification"
	"fides/internal/verification/channels"
	"fides/internal/verification/handler"
	"fides/internal/verification/metrics"
	"fides/internal/verification/store/memory"
	storepostgres "fides/internal/verification/store/postgres"
	storeredis "fides/internal/verification/store/redis"
	id "fides/pkg/domain"
)

// main wires dependencies and owns the process lifecycle. Session storage is
// selected by configuration: Postgres when configured, then Redis, then
// in-memory for development.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Error("postgres pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	// Audit pipeline: durable store, async worker, optional Kafka fan-out.
	var auditStore audit.Store
	if pool != nil {
		pg := audit.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("audit schema init failed", "error", err)
			os.Exit(1)
		}
		auditStore = pg
	} else {
		auditStore = audit.NewInMemoryStore()
	}
	auditOpts := []audit.Option{audit.WithLogger(log), audit.WithAsyncBuffer(1024)}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		if err != nil {
			log.Error("kafka sink init failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		auditOpts = append(auditOpts, audit.WithSink(sink))
	}
	publisher := audit.NewPublisher(auditStore, auditOpts...)
	defer publisher.Close()

	// Session store selection.
	var sessions verification.SessionStore
	switch {
	case pool != nil:
		store := storepostgres.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("session schema init failed", "error", err)
			os.Exit(1)
		}
		sessions = store
		log.Info("using postgres session store")
	case cfg.Redis.URL != "":
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("redis init failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		sessions = storeredis.NewStore(client.Client)
		log.Info("using redis session store")
	default:
		sessions = memory.NewStore()
		log.Warn("using in-memory session store; sessions will not survive restarts")
	}

	catalog, err := policy.DefaultCatalog(cfg.Verification.SessionIdleTimeout)
	if err != nil {
		log.Error("policy catalog init failed", "error", err)
		os.Exit(1)
	}

	// Channel registry: capture-driven channels run as deterministic stubs;
	// forensics and registry cross-check get real providers when configured.
	impls := []verification.Channel{
		channels.NewStub(verification.ChannelChipRead, "nfc_reader"),
		channels.NewStub(verification.ChannelBiometricMatch, "camera"),
		channels.NewStub(verification.ChannelLiveness, "camera"),
		channels.NewManualFallback(),
	}
	if cfg.Verification.ForensicsURL != "" {
		impls = append(impls, channels.NewForensics(cfg.Verification.ForensicsURL, cfg.Verification.ChannelTimeout))
	}
	if pool != nil {
		registryLookup := channels.NewPostgresRegistry(pool)
		if err := registryLookup.EnsureSchema(ctx); err != nil {
			log.Error("civil registry schema init failed", "error", err)
			os.Exit(1)
		}
		impls = append(impls, channels.NewRegistryCrossCheck(registryLookup))
	}
	registry, err := verification.NewRegistry(policy.DefaultWeights(), impls...)
	if err != nil {
		log.Error("channel registry init failed", "error", err)
		os.Exit(1)
	}

	tracker := conference.NewTracker(
		conference.WithLogger(log),
		conference.WithAuditPublisher(publisher),
	)
	codes, err := access.NewService(access.NewInMemoryStore(), cfg.Verification.AccessCodeTTL,
		access.WithLogger(log),
		access.WithAuditPublisher(publisher),
	)
	if err != nil {
		log.Error("access code service init failed", "error", err)
		os.Exit(1)
	}

	svc, err := verification.NewService(sessions, catalog, registry,
		verification.WithLogger(log),
		verification.WithAuditPublisher(publisher),
		verification.WithConferenceGate(tracker),
		verification.WithMetrics(metrics.New()),
		verification.WithChannelTimeout(cfg.Verification.ChannelTimeout),
		verification.WithTerminalCleanup(
			func(ctx context.Context, sid id.SessionID) {
				if err := codes.Revoke(ctx, sid); err != nil {
					log.WarnContext(ctx, "access code revocation failed", "session_id", sid, "error", err)
				}
			},
			func(_ context.Context, sid id.SessionID) { tracker.Drop(sid) },
		),
	)
	if err != nil {
		log.Error("verification service init failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := svc.RunReaper(ctx, cfg.Verification.ReaperInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("session reaper stopped", "error", err)
		}
	}()

	authority := middleware.NewTokenAuthority(cfg.Auth.JWTSigningKey)
	router := httpapi.NewRouter(httpapi.Deps{
		Verification: handler.New(svc, codes, tracker, publisher, log),
		Authority:    authority,
		Logger:       log,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
