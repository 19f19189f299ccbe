package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "agencyhub/internal/jwt_token"
	"agencyhub/internal/membership/handler"
	membershipmetrics "agencyhub/internal/membership/metrics"
	"agencyhub/internal/membership/service"
	"agencyhub/internal/membership/store"
	"agencyhub/internal/membership/store/migrations"
	"agencyhub/internal/membership/sweeper"
	"agencyhub/internal/notify"
	"agencyhub/internal/platform/config"
	"agencyhub/internal/platform/httpserver"
	"agencyhub/internal/platform/kafka"
	"agencyhub/internal/platform/logger"
	"agencyhub/internal/platform/metrics"
	"agencyhub/internal/platform/migrate"
	"agencyhub/internal/platform/postgres"
	"agencyhub/internal/platform/redis"
	"agencyhub/internal/pricing"
	"agencyhub/internal/reputation"
	authmw "agencyhub/pkg/platform/middleware/auth"
	request "agencyhub/pkg/platform/middleware/request"
	"agencyhub/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router and runs the
// background workers. Business logic lives in internal services packages.
func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("agencyhub stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("agencyhub stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrate.Apply(ctx, db, migrations.FS, "."); err != nil {
		return err
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	catalogOpts := []pricing.Option{pricing.WithLogger(log)}
	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(membershipmetrics.New(reg)),
		service.WithSweepBatch(cfg.Workers.SweepBatch),
	}
	if rc != nil {
		defer rc.Close()
		catalogOpts = append(catalogOpts, pricing.WithCache(pricing.NewRedisCache(rc, cfg.Redis.PricingTTL)))
		svcOpts = append(svcOpts, service.WithReputation(reputation.NewRedisTrust(rc)))
	}

	var sink notify.Sink = notify.NewLogSink(log)
	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		if err := kafka.EnsureTopics(ctx, kafka.NewAdmin(producer), cfg.Kafka, cfg.Kafka.NotificationsTopic); err != nil {
			return err
		}
		sink = notify.NewKafkaSink(producer, cfg.Kafka.NotificationsTopic)
	}
	dispatcher := notify.NewDispatcher(sink,
		notify.WithWorkers(cfg.Workers.NotifyWorkers),
		notify.WithBufferSize(cfg.Workers.NotifyBuffer),
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics(reg)),
	)
	svcOpts = append(svcOpts, service.WithNotifier(dispatcher))

	ledger := store.NewPostgres(db)
	catalog := pricing.New(pricing.NewPostgresSource(db), catalogOpts...)
	svc, err := service.New(ledger, store.NewPostgresTx(db, store.WithTimeout(cfg.Database.TxTimeout)), catalog, svcOpts...)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	router := newRouter(log, reg, handler.New(svc, log), jwttoken.NewJWTServiceAdapter(jwtService))
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		err := sweeper.New(svc, sweeper.WithInterval(cfg.Workers.SweepInterval), sweeper.WithLogger(log)).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info("starting agencyhub", "addr", cfg.Server.Addr)
		return httpserver.Serve(gctx, srv, cfg.Server.ShutdownGrace)
	})

	err = g.Wait()
	svc.Wait()
	return err
}

func newRouter(log *slog.Logger, reg *prometheus.Registry, h *handler.Handler, validator authmw.JWTValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(request.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(request.AccessLog(log))
	r.Use(metrics.NewHTTP(reg).Middleware)
	r.Use(requesttime.Middleware)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	h.RegisterPublic(r)

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(validator, log))
		h.Register(r)
	})
	return r
}
