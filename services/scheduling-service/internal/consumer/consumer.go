package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bookline/schedcore/libs/kafkax"
	"github.com/bookline/schedcore/services/scheduling-service/internal/inbox"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer reads one topic with inbox-based dedup. The inbox row is written
// before the handler runs, so a redelivered event is never applied twice;
// the flip side is that a failing handler cannot rely on redelivery, which
// is why handler errors are retried in-process with backoff before the
// message is dropped.
type Consumer struct {
	reader       *kafka.Reader
	logger       *slog.Logger
	inbox        *inbox.Repository
	handler      Handler
	maxAttempts  int
	retryBackoff time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	// MaxAttempts bounds in-process handler retries per message;
	// RetryBackoff is the initial delay and doubles per attempt.
	// Zero values default to 3 attempts starting at 500ms.
	MaxAttempts  int
	RetryBackoff time.Duration
}

func New(logger *slog.Logger, inboxRepo *inbox.Repository, cfg Config, handler Handler) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:       reader,
		logger:       logger,
		inbox:        inboxRepo,
		handler:      handler,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
		if err != nil {
			c.logger.Error("inbox record failed", "err", err)
			span.RecordError(err)
			span.End()
			continue
		}
		if !ok {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			span.End()
			continue
		}

		if err := c.process(ctxSpan, msg, meta.EventID); err != nil {
			c.logger.Error("handler gave up", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
		}
		span.End()
	}
}

// process runs the handler with bounded retries and doubling backoff.
func (c *Consumer) process(ctx context.Context, msg kafka.Message, eventID string) error {
	delay := c.retryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		if attempt >= c.maxAttempts {
			return err
		}
		c.logger.Warn("handler error, retrying",
			"err", err, "event_id", eventID, "attempt", attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
	}
}
