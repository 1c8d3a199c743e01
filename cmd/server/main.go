package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"certledger/internal/anchor"
	"certledger/internal/anchor/ledger/httpledger"
	ledgermemory "certledger/internal/anchor/ledger/memory"
	anchormetrics "certledger/internal/anchor/metrics"
	approvalstore "certledger/internal/approval/store"
	"certledger/internal/audit"
	auditkafka "certledger/internal/audit/kafka"
	auditmemory "certledger/internal/audit/store/memory"
	auditpostgres "certledger/internal/audit/store/postgres"
	certhandler "certledger/internal/certificate/handler"
	certmetrics "certledger/internal/certificate/metrics"
	certservice "certledger/internal/certificate/service"
	certstore "certledger/internal/certificate/store"
	"certledger/internal/certificate/verificationlog"
	contentmemory "certledger/internal/content/memory"
	contents3 "certledger/internal/content/s3"
	"certledger/internal/identity"
	"certledger/internal/platform/config"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/logger"
	"certledger/internal/platform/metrics"
	platformredis "certledger/internal/platform/redis"
	"certledger/internal/registry"
	revhandler "certledger/internal/revocation/handler"
	revmetrics "certledger/internal/revocation/metrics"
	revservice "certledger/internal/revocation/service"
	revstore "certledger/internal/revocation/store"
	"certledger/internal/storage"
	httptransport "certledger/internal/transport/http"
	"certledger/pkg/platform/circuit"
	"certledger/pkg/platform/middleware/ratelimit"
	"certledger/pkg/platform/tx"
)

const (
	tokenIssuer   = "certledger"
	tokenAudience = "certledger-api"

	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// stores groups the persistence backends picked at startup.
type stores struct {
	certificates certservice.Store
	queue        certservice.QueueStore
	revocations  revservice.Store
	audit        audit.Store
	tx           tx.Runner
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.UsesDevSigningKey() {
		log.Warn("using the built-in development JWT signing key")
	}
	health := map[string]httptransport.HealthCheck{}

	st, db, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		health["postgres"] = db.PingContext
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	group, ctx := errgroup.WithContext(ctx)

	auditMetrics := audit.NewMetrics()
	trailOpts := []audit.Option{audit.WithLogger(log), audit.WithMetrics(auditMetrics)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := auditkafka.NewPublisher(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		worker := audit.NewWorker(publisher, audit.DefaultQueueSize, log, auditMetrics)
		group.Go(func() error { return ignoreCanceled(worker.Run(ctx)) })
		trailOpts = append(trailOpts, audit.WithSink(worker))
		log.Info("audit fan-out enabled", "topic", cfg.Kafka.AuditTopic)
	}
	trail := audit.New(st.audit, trailOpts...)

	ledger, err := newLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	anchors := anchor.New(ledger,
		anchor.WithIndex(certservice.NewAnchorIndex(st.certificates)),
		anchor.WithTimeout(cfg.Ledger.Timeout),
		anchor.WithCostMargin(cfg.Ledger.CostMarginPercent),
		anchor.WithBreaker(circuit.New("ledger",
			circuit.WithFailureThreshold(cfg.Ledger.FailureThreshold),
			circuit.WithCooldown(cfg.Ledger.Cooldown),
		)),
		anchor.WithLogger(log),
		anchor.WithMetrics(anchormetrics.New()),
	)

	content, err := newContentStore(ctx, cfg.Content)
	if err != nil {
		return err
	}

	certificates := certservice.New(st.certificates, st.queue, anchors, trail,
		certservice.WithLogger(log),
		certservice.WithMetrics(certmetrics.New()),
		certservice.WithTxRunner(st.tx),
		certservice.WithSubjectRegistry(newSubjectRegistry(cfg.Registry, redisClient, log)),
		certservice.WithContentStore(content),
		certservice.WithVerificationLog(newVerificationLog(redisClient)),
		certservice.WithMaxResubmissions(cfg.Lifecycle.MaxResubmissions),
	)
	revocations := revservice.New(st.revocations, st.certificates, anchors, trail,
		revservice.WithLogger(log),
		revservice.WithMetrics(revmetrics.New()),
		revservice.WithTxRunner(st.tx),
		revservice.WithAppealWindow(cfg.Lifecycle.AppealWindow),
	)

	limiter := ratelimit.New(cfg.RateLimit.VerifyRPS, cfg.RateLimit.VerifyBurst)
	group.Go(func() error {
		limiter.Run(ctx)
		return nil
	})

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:        log,
		Metrics:       metrics.New(),
		Tokens:        identity.NewJWTService(cfg.Server.JWTSigningKey, tokenIssuer, tokenAudience),
		VerifyLimiter: limiter,
		Certificates:  certhandler.New(certificates, log),
		Revocations:   revhandler.New(revocations, log),
		Health:        health,
	})
	srv := httpserver.New(cfg.Server, router)
	group.Go(func() error {
		return httpserver.ListenAndServe(ctx, srv, log, shutdownTimeout)
	})
	return group.Wait()
}

// openStores selects Postgres when a database URL is configured and the
// in-memory stores otherwise. Memory stores serialize per certificate
// through the sharded runner instead of database transactions.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, *sql.DB, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return stores{
			certificates: certstore.NewInMemoryStore(),
			queue:        approvalstore.NewInMemoryStore(),
			revocations:  revstore.NewInMemoryStore(),
			audit:        auditmemory.NewInMemoryStore(),
			tx:           tx.NewShardedRunner(),
		}, nil, nil
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return stores{}, nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return stores{}, nil, err
	}
	if err := storage.Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return stores{}, nil, err
	}
	return stores{
		certificates: certstore.NewPostgres(db),
		queue:        approvalstore.NewPostgres(db),
		revocations:  revstore.NewPostgres(db),
		audit:        auditpostgres.New(db),
		tx:           tx.NewSQLRunner(db),
	}, db, nil
}

func newLedger(cfg config.LedgerConfig) (anchor.LedgerClient, error) {
	if cfg.GatewayURL == "" {
		return ledgermemory.New(), nil
	}
	return httpledger.New(cfg.GatewayURL, cfg.APIKey, &http.Client{Timeout: cfg.Timeout})
}

func newContentStore(ctx context.Context, cfg config.ContentConfig) (certservice.ContentStore, error) {
	if cfg.Bucket == "" {
		return contentmemory.New(), nil
	}
	return contents3.New(ctx, contents3.Config{
		Bucket:   cfg.Bucket,
		Region:   cfg.Region,
		Endpoint: cfg.Endpoint,
		Prefix:   cfg.Prefix,
	})
}

func newSubjectRegistry(cfg config.RegistryConfig, rc *platformredis.Client, log *slog.Logger) certservice.SubjectRegistry {
	if cfg.URL == "" {
		log.Warn("REGISTRY_URL not set, subject identities are not cross-checked")
		return registry.StaticClient{AcceptUnknown: true}
	}
	client, err := registry.NewHTTPClient(cfg.URL, cfg.Timeout, nil)
	if err != nil {
		log.Error("invalid registry URL, subject identities are not cross-checked", "error", err)
		return registry.StaticClient{AcceptUnknown: true}
	}
	var lookup registry.Client = client
	if rc != nil {
		lookup = registry.NewCachedClient(client, rc.Client, cfg.CacheTTL, log)
	}
	return registry.NewChecker(lookup)
}

func newVerificationLog(rc *platformredis.Client) certservice.VerificationLog {
	if rc == nil {
		return verificationlog.NewMemory(1000)
	}
	return verificationlog.NewRedisLog(rc.Client, rc.VerificationStream())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
