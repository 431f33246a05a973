package bridge

import (
	"context"
	"sync"

	"github.com/relaylabs/chatbridge/internal/broker"
	"github.com/relaylabs/chatbridge/internal/ids"
	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
)

// Publisher mints correlation tokens and hands requests to the broker without
// blocking the caller. The send itself runs detached: the caller gets the
// token back immediately, and a send failure is recorded as a failed ledger
// entry rather than an API error.
type Publisher struct {
	source  broker.Source
	ledger  *Ledger
	queue   string
	logger  logging.ServiceLogger
	metrics *metrics.Bridge

	wg sync.WaitGroup
}

// NewPublisher wires a Publisher to the given broker source and ledger.
func NewPublisher(source broker.Source, ledger *Ledger, queue string, logger logging.ServiceLogger, m *metrics.Bridge) *Publisher {
	return &Publisher{
		source:  source,
		ledger:  ledger,
		queue:   queue,
		logger:  logger,
		metrics: m,
	}
}

// Publish registers a pending ledger entry for a fresh token and publishes
// the request in the background. The returned token is valid immediately;
// callers poll the ledger with it.
func (p *Publisher) Publish(ctx context.Context, text string) (string, error) {
	token := ids.NewToken()
	if err := p.ledger.Create(token); err != nil {
		return "", err
	}

	p.wg.Add(1)
	go p.send(context.WithoutCancel(ctx), text, token)

	return token, nil
}

func (p *Publisher) send(ctx context.Context, text, token string) {
	defer p.wg.Done()

	transport, err := p.source.Acquire()
	if err != nil {
		p.fail(token, err)
		return
	}

	msg := NewEnvelope(text, token)
	msg.SetContext(ctx)

	if err := transport.Publisher.Publish(p.queue, msg); err != nil {
		p.fail(token, err)
		return
	}

	p.metrics.RequestsPublished.Inc()
	p.logger.Debug("published request", logging.LogFields{
		"token": token,
		"queue": p.queue,
	})
}

func (p *Publisher) fail(token string, err error) {
	p.metrics.PublishFailures.Inc()
	p.ledger.Fail(token)
	p.logger.Error("failed to publish request", err, logging.LogFields{
		"token": token,
		"queue": p.queue,
	})
}

// Wait blocks until all detached sends have finished. Called on shutdown and
// by tests.
func (p *Publisher) Wait() {
	p.wg.Wait()
}
