package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaylabs/chatbridge/internal/broker"
	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
)

// DefaultConsumerBackoff is the fixed delay before the consumer re-enters its
// loop after a transport failure.
const DefaultConsumerBackoff = 5 * time.Second

var errStreamClosed = errors.New("chatbridge: response stream closed")

// Consumer drains the response queue and resolves ledger entries by matching
// correlation tokens. Run never returns except via context cancellation:
// transport failures are converted into a fixed backoff and a reconnect, so a
// broker hiccup costs seconds of responses, not the whole response path.
type Consumer struct {
	source  broker.Source
	ledger  *Ledger
	queue   string
	logger  logging.ServiceLogger
	metrics *metrics.Bridge
	backoff time.Duration
	tracer  trace.Tracer
}

// NewConsumer wires a Consumer. A non-positive backoff falls back to the
// default 5 seconds.
func NewConsumer(source broker.Source, ledger *Ledger, queue string, logger logging.ServiceLogger, m *metrics.Bridge, backoff time.Duration) *Consumer {
	if backoff <= 0 {
		backoff = DefaultConsumerBackoff
	}
	return &Consumer{
		source:  source,
		ledger:  ledger,
		queue:   queue,
		logger:  logger,
		metrics: m,
		backoff: backoff,
		tracer:  otel.Tracer("chatbridge/bridge"),
	}
}

// Run consumes the response queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errStreamClosed
		}

		c.logger.Error("response consumer failed, backing off", err, logging.LogFields{
			"queue":   c.queue,
			"backoff": c.backoff.String(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	transport, err := c.source.Acquire()
	if err != nil {
		return err
	}

	messages, err := transport.Subscriber.Subscribe(ctx, c.queue)
	if err != nil {
		return err
	}

	c.logger.Info("consuming responses", logging.LogFields{"queue": c.queue})

	for msg := range messages {
		c.handle(msg)
	}
	return nil
}

// handle resolves a single delivery. Malformed messages are contained: they
// are logged, counted, and acknowledged so they cannot wedge the loop.
func (c *Consumer) handle(msg *message.Message) {
	token := Token(msg)

	_, span := c.tracer.Start(msg.Context(), "bridge.resolve",
		trace.WithAttributes(attribute.String("correlation_id", token)))
	defer span.End()

	if token == "" {
		c.metrics.CorrelationMisses.Inc()
		c.logger.Debug("dropping response without correlation id", logging.LogFields{
			"message_uuid": msg.UUID,
		})
		msg.Ack()
		return
	}

	if c.ledger.Resolve(token, string(msg.Payload)) {
		c.metrics.ResponsesResolved.Inc()
		c.logger.Info("resolved response", logging.LogFields{"token": token})
	} else {
		// Late or unknown response; no caller can be matched to it.
		c.metrics.CorrelationMisses.Inc()
		c.logger.Debug("dropping unmatched response", logging.LogFields{"token": token})
	}

	msg.Ack()
}
