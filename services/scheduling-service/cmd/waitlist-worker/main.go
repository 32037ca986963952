package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/bookline/schedcore/libs/config"
	"github.com/bookline/schedcore/libs/db"
	"github.com/bookline/schedcore/libs/kafkax"
	otelx "github.com/bookline/schedcore/libs/otel"
	"github.com/bookline/schedcore/libs/runtime"
	"github.com/bookline/schedcore/services/scheduling-service/internal/availability"
	"github.com/bookline/schedcore/services/scheduling-service/internal/booking"
	"github.com/bookline/schedcore/services/scheduling-service/internal/clock"
	"github.com/bookline/schedcore/services/scheduling-service/internal/consumer"
	"github.com/bookline/schedcore/services/scheduling-service/internal/events"
	"github.com/bookline/schedcore/services/scheduling-service/internal/inbox"
	"github.com/bookline/schedcore/services/scheduling-service/internal/observability"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
	"github.com/bookline/schedcore/services/scheduling-service/internal/storage"
	"github.com/bookline/schedcore/services/scheduling-service/internal/waitlist"
	"github.com/bookline/schedcore/services/scheduling-service/internal/workinghours"
)

// The worker owns waitlist promotion: it consumes slot.freed events and books
// the oldest matching waiting customer into the freed slot. Promotion runs
// through the same booking path as the API, so a direct booking racing the
// promotion is decided by the database, not by timing.
func main() {
	service := config.String("SERVICE_NAME", "waitlist-worker")
	port, err := config.Port("PORT", "8085")
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

	registry := workinghours.NewRegistry(scheduleRepo)
	generator := availability.NewGenerator(registry, clk)
	index := availability.NewIndex(generator, apptRepo, rdb,
		config.Duration("AVAILABILITY_CACHE_TTL", 5*time.Minute), metrics, logger)

	bookingMgr := booking.NewManager(apptRepo, registry, index, clk, metrics, logger)
	waitlistMgr := waitlist.NewManager(waitlistRepo, bookingMgr, clk, metrics, logger)

	// Promotions write their own outbox rows; the worker publishes them.
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	freedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "waitlist-worker"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", events.SlotFreed),
	}, func(ctx context.Context, msg kafka.Message) error {
		freed, err := events.DecodeSlotFreed(msg.Value)
		if err != nil {
			logger.Error("invalid slot.freed payload", "err", err)
			return nil
		}
		return waitlistMgr.PromoteFor(ctx, freed)
	})
	go freedConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
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
	logger.Info("worker stopped")
}
