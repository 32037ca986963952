package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookline/schedcore/libs/config"
	"github.com/bookline/schedcore/libs/db"
	"github.com/bookline/schedcore/libs/httpx"
	"github.com/bookline/schedcore/libs/kafkax"
	otelx "github.com/bookline/schedcore/libs/otel"
	"github.com/bookline/schedcore/libs/runtime"
	"github.com/bookline/schedcore/services/scheduling-service/internal/availability"
	"github.com/bookline/schedcore/services/scheduling-service/internal/booking"
	"github.com/bookline/schedcore/services/scheduling-service/internal/clock"
	"github.com/bookline/schedcore/services/scheduling-service/internal/handlers"
	"github.com/bookline/schedcore/services/scheduling-service/internal/observability"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
	"github.com/bookline/schedcore/services/scheduling-service/internal/policy"
	"github.com/bookline/schedcore/services/scheduling-service/internal/recurrence"
	"github.com/bookline/schedcore/services/scheduling-service/internal/storage"
	"github.com/bookline/schedcore/services/scheduling-service/internal/waitlist"
	"github.com/bookline/schedcore/services/scheduling-service/internal/workinghours"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	clk := clock.System()

	outboxRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	scheduleRepo := storage.NewScheduleRepository(pool)
	waitlistRepo := storage.NewWaitlistRepository(pool, outboxRepo)
	idemRepo := storage.NewIdempotencyRepository(pool)

	registry := workinghours.NewRegistry(scheduleRepo)
	generator := availability.NewGenerator(registry, clk)
	index := availability.NewIndex(generator, apptRepo, rdb,
		config.Duration("AVAILABILITY_CACHE_TTL", 5*time.Minute), metrics, logger)

	bookingMgr := booking.NewManager(apptRepo, registry, index, clk, metrics, logger)
	recurringScheduler := recurrence.NewScheduler(bookingMgr)
	waitlistMgr := waitlist.NewManager(waitlistRepo, bookingMgr, clk, metrics, logger)

	policyProvider, err := policy.NewBusinessPolicyProvider(logger, config.String("BILLING_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("policy provider init failed", "err", err)
		policyProvider = policy.NewStaticProvider()
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	handler := handlers.NewSchedulingHandler(
		bookingMgr,
		recurringScheduler,
		waitlistMgr,
		index,
		registry,
		apptRepo,
		idemRepo,
		policyProvider,
		logger,
	)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())
	handler.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 30*time.Second)),
	}
	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}))
	}
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(rateLimit, time.Minute).Middleware())
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
