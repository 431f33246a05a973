// Package worker implements the consume-process-publish cycle that answers
// chat requests. It runs as a separate process from the front-end and talks
// to it only through the broker.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaylabs/chatbridge/internal/bridge"
	"github.com/relaylabs/chatbridge/internal/broker"
	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
)

// Metadata keys attached to poisoned messages.
const (
	MetadataKeyOriginalQueue = "original_queue"
	MetadataKeyErrorMessage  = "error_message"
)

// DefaultBackoff is the fixed delay before the loop re-enters after a
// top-level transport failure, mirroring the response consumer.
const DefaultBackoff = 5 * time.Second

// Config tunes a worker Loop.
type Config struct {
	RequestQueue  string
	ResponseQueue string
	PoisonQueue   string

	// MaxAttempts caps deliveries of a failing request. Zero means unbounded
	// broker redelivery, the default contract. When positive, the attempt
	// that reaches the cap is acknowledged and a copy of the request is
	// published to the poison queue instead of being requeued.
	MaxAttempts int

	// Backoff between loop restarts after transport failures. Non-positive
	// falls back to DefaultBackoff.
	Backoff time.Duration
}

// Loop drains the request queue one message at a time, invokes the generator,
// and publishes the result to the response queue with the correlation id
// copied unchanged. Failed deliveries are negatively acknowledged so the
// broker redelivers them; at-least-once is the contract, so generators should
// tolerate repeats.
type Loop struct {
	source  broker.Source
	gen     Generator
	conf    Config
	logger  logging.ServiceLogger
	metrics *metrics.Worker
	tracer  trace.Tracer

	mu       sync.Mutex
	attempts map[string]int
}

// NewLoop wires a worker Loop.
func NewLoop(source broker.Source, gen Generator, conf Config, logger logging.ServiceLogger, m *metrics.Worker) *Loop {
	if conf.Backoff <= 0 {
		conf.Backoff = DefaultBackoff
	}
	return &Loop{
		source:   source,
		gen:      gen,
		conf:     conf,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("chatbridge/worker"),
		attempts: make(map[string]int),
	}
}

// Run consumes the request queue until ctx is cancelled. Transport failures
// restart the cycle after a fixed backoff.
func (w *Loop) Run(ctx context.Context) error {
	for {
		err := w.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Error("worker loop failed, backing off", err, logging.LogFields{
			"queue":   w.conf.RequestQueue,
			"backoff": w.conf.Backoff.String(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.conf.Backoff):
		}
	}
}

func (w *Loop) consume(ctx context.Context) error {
	transport, err := w.source.Acquire()
	if err != nil {
		return err
	}

	router, err := message.NewRouter(message.RouterConfig{}, logging.NewWatermillAdapter(w.logger))
	if err != nil {
		return err
	}
	router.AddMiddleware(middleware.Recoverer)

	router.AddHandler(
		"chat_worker",
		w.conf.RequestQueue,
		transport.Subscriber,
		w.conf.ResponseQueue,
		transport.Publisher,
		w.handle,
	)

	w.logger.Info("worker waiting for messages", logging.LogFields{
		"queue": w.conf.RequestQueue,
	})

	return router.Run(ctx)
}

// handle answers one request. Returning an error makes the router nack the
// delivery, which requeues it on the broker.
func (w *Loop) handle(msg *message.Message) ([]*message.Message, error) {
	token := bridge.Token(msg)

	ctx, span := w.tracer.Start(msg.Context(), "worker.generate",
		trace.WithAttributes(attribute.String("correlation_id", token)))
	defer span.End()

	start := time.Now()
	reply, err := w.gen.Generate(ctx, string(msg.Payload))
	if err != nil {
		w.metrics.Failures.Inc()
		if w.exhausted(msg, err) {
			return nil, nil
		}
		return nil, fmt.Errorf("generate response: %w", err)
	}
	w.metrics.Duration.Observe(time.Since(start).Seconds())
	w.metrics.Processed.Inc()
	w.forget(msg.UUID)

	w.logger.Info("answered request", logging.LogFields{
		"token":        token,
		"message_uuid": msg.UUID,
	})

	out := bridge.NewEnvelope(reply, token)
	return []*message.Message{out}, nil
}

// exhausted tracks failed deliveries per message UUID and, once the cap is
// reached, routes a copy of the request to the poison queue. Returns true
// when the original delivery should be acknowledged instead of requeued.
// With MaxAttempts zero it never triggers and redelivery stays unbounded.
func (w *Loop) exhausted(msg *message.Message, cause error) bool {
	if w.conf.MaxAttempts <= 0 {
		return false
	}

	w.mu.Lock()
	w.attempts[msg.UUID]++
	seen := w.attempts[msg.UUID]
	w.mu.Unlock()

	if seen < w.conf.MaxAttempts {
		return false
	}
	w.forget(msg.UUID)

	poison := message.NewMessage(msg.UUID, msg.Payload)
	for key, value := range msg.Metadata {
		poison.Metadata.Set(key, value)
	}
	poison.Metadata.Set(MetadataKeyOriginalQueue, w.conf.RequestQueue)
	poison.Metadata.Set(MetadataKeyErrorMessage, cause.Error())

	transport, err := w.source.Acquire()
	if err == nil {
		err = transport.Publisher.Publish(w.conf.PoisonQueue, poison)
	}
	if err != nil {
		// Could not park the message; keep it in the redelivery cycle.
		w.logger.Error("failed to publish poison message", err, logging.LogFields{
			"message_uuid": msg.UUID,
		})
		return false
	}

	w.metrics.Poisoned.Inc()
	w.logger.Error("poisoned request after exhausting attempts", cause, logging.LogFields{
		"message_uuid": msg.UUID,
		"attempts":     seen,
		"poison_queue": w.conf.PoisonQueue,
	})
	return true
}

func (w *Loop) forget(uuid string) {
	if w.conf.MaxAttempts <= 0 {
		return
	}
	w.mu.Lock()
	delete(w.attempts, uuid)
	w.mu.Unlock()
}
