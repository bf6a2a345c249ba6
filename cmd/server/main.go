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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"signlink/internal/admin"
	"signlink/internal/audit"
	auditsink "signlink/internal/audit/sink"
	auditmemory "signlink/internal/audit/store/memory"
	auditpostgres "signlink/internal/audit/store/postgres"
	contractstore "signlink/internal/contracts/store"
	dashboardhandler "signlink/internal/dashboard/handler"
	dashboardservice "signlink/internal/dashboard/service"
	linkhandler "signlink/internal/links/handler"
	linkservice "signlink/internal/links/service"
	linkstore "signlink/internal/links/store"
	"signlink/internal/maintenance"
	"signlink/internal/migration"
	"signlink/internal/migration/legacy"
	"signlink/internal/notify"
	"signlink/internal/platform/config"
	"signlink/internal/platform/httpserver"
	"signlink/internal/platform/kafka"
	"signlink/internal/platform/logger"
	"signlink/internal/platform/metrics"
	"signlink/internal/platform/middleware"
	"signlink/internal/platform/postgres"
	redisclient "signlink/internal/platform/redis"
	"signlink/internal/ratelimit"
	signinghandler "signlink/internal/signing/handler"
	signingservice "signlink/internal/signing/service"
	"signlink/pkg/platform/circuit"
	"signlink/pkg/platform/httputil"
)

// auditBackend is what both audit stores provide to the services.
type auditBackend interface {
	audit.Appender
	dashboardservice.AuditLog
	maintenance.AuditStore
}

// contractBackend is what both contract stores provide to the services.
type contractBackend interface {
	signingservice.ContractStore
	dashboardservice.Contracts
}

type storage struct {
	db        *sql.DB
	links     linkservice.Store
	contracts contractBackend
	audit     auditBackend
	tx        signingservice.SigningTx
}

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.VerifyRateLimitPerMinute, time.Minute)
	if rc != nil {
		defer rc.Close()
		limiter = ratelimit.NewRedisLimiter(rc.Client, cfg.VerifyRateLimitPerMinute, time.Minute)
		log.Info("verify rate limit backed by redis")
	}

	var sinks []audit.Sink
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.AuditTopic); err != nil {
			log.Warn("audit topic not ensured", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		breaker := circuit.New("kafka-audit", circuit.WithFailureThreshold(3), circuit.WithCooldown(30*time.Second))
		sinks = append(sinks, auditsink.NewGuarded(auditsink.NewKafkaSink(producer, cfg.Kafka.AuditTopic), breaker, log))
	}

	var mailer notify.Mailer = notify.NewLogMailer(log)
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTP)
	} else {
		log.Warn("SMTP_HOST not set; invitations are logged instead of sent")
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	legacyStore := legacy.NewMemory()
	if cfg.LegacyLinksFile != "" {
		if legacyStore, err = legacy.LoadFile(cfg.LegacyLinksFile); err != nil {
			return err
		}
	}

	r := newRouter(ctx, cfg, log, deps{
		storage: st,
		limiter: limiter,
		sinks:   sinks,
		mailer:  mailer,
		legacy:  legacyStore,
		proxies: proxies,
		metrics: m,
		health:  healthz(st.db, rc, producer),
	})

	srv := httpserver.New(cfg.Addr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting signlink", "addr", cfg.Addr, "postgres", st.db != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

type deps struct {
	*storage
	limiter ratelimit.Limiter
	sinks   []audit.Sink
	mailer  notify.Mailer
	legacy  legacy.Store
	proxies middleware.ProxyTrust
	metrics *metrics.Metrics
	health  http.HandlerFunc
}

// newRouter builds the services over the chosen backends and mounts every route.
func newRouter(ctx context.Context, cfg config.Server, log *slog.Logger, d deps) http.Handler {
	m := d.metrics
	recorder := audit.NewRecorder(d.audit, log, m, d.sinks...)
	registry := linkservice.New(d.links)

	issuer := linkservice.NewIssuer(registry, d.mailer, recorder, cfg.BaseURL, cfg.Links.DefaultTTL, log, m)
	signing := signingservice.New(registry, d.contracts, d.tx, recorder,
		signingservice.WithLogger(log),
		signingservice.WithMetrics(m),
	)

	migrator := migration.New(d.legacy, registry, recorder, cfg.AdminKey, log)
	if presence, err := migrator.HasLegacyData(ctx); err == nil && presence.Present {
		log.Warn("legacy links pending migration", "count", presence.Count)
	}

	maintainer := maintenance.New(registry, d.contracts, d.audit, recorder, maintenance.Options{
		LinkGrace:      cfg.Links.RetentionGrace,
		AuditRetention: cfg.Links.AuditRetention,
	}, log, m)
	dashboard := dashboardservice.New(registry, d.contracts, d.audit)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.ClientMetadata(d.proxies))
	r.Use(middleware.RequestTime)
	r.Use(middleware.LatencyMiddleware(m))

	r.Handle("/metrics", promhttp.Handler())
	if d.health != nil {
		r.Get("/healthz", d.health)
	}

	linkhandler.New(issuer, log, cfg.APIKey, cfg.AdminKey).Register(r)
	signinghandler.New(signing, log, ratelimit.Middleware(d.limiter, "verify", log, m)).Register(r)
	dashboardhandler.New(dashboard, log, cfg.AdminKey).Register(r)
	admin.New(migrator, maintainer, log, cfg.AdminKey).Register(r)
	return r
}

// openStorage selects Postgres when DATABASE_URL is set, otherwise process memory.
func openStorage(ctx context.Context, cfg config.Server, log *slog.Logger) (*storage, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return memoryStorage(), nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	links := linkstore.NewPostgres(db)
	contracts := contractstore.NewPostgres(db)
	return &storage{
		db:        db,
		links:     links,
		contracts: contracts,
		audit:     auditpostgres.New(db),
		tx:        newSigningPostgresTx(db, links, contracts),
	}, nil
}

// memoryStorage keeps everything in process. Deleting a link drops its contract.
func memoryStorage() *storage {
	links := linkstore.NewInMemory()
	contracts := contractstore.NewInMemory()
	links.OnDelete(contracts.DeleteForLinks)
	return &storage{
		links:     links,
		contracts: contracts,
		audit:     auditmemory.NewInMemoryStore(),
		tx:        signingservice.NewShardedTx(links, contracts),
	}
}

func healthz(db *sql.DB, rc *redisclient.Client, producer *kgo.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		check := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}
		if db != nil {
			check("postgres", db.PingContext(ctx))
		}
		if rc != nil {
			check("redis", rc.Health(ctx))
		}
		if producer != nil {
			check("kafka", producer.Ping(ctx))
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
	}
}
