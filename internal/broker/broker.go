// Package broker owns the connection to the message broker. The Manager
// lazily builds a publisher/subscriber pair over one shared AMQP connection,
// caches it, and rebuilds it whenever the connection is observed closed.
package broker

import (
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport pairs the publisher and subscriber built on one broker
// connection. Queue declaration happens inside the transport on first use and
// is idempotent.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Source hands out a live Transport, reconnecting as needed. The Manager is
// the production implementation; tests substitute an in-memory one.
type Source interface {
	Acquire() (Transport, error)
}

// Factory variables allow overriding broker construction for testing.
var (
	ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
	LivenessCheck = func(conn *amqp.ConnectionWrapper) bool {
		return conn.IsConnected()
	}
)

// Manager lazily establishes and caches the AMQP transport. Acquire is safe
// for concurrent use; callers share the cached transport until the connection
// drops, at which point the next Acquire rebuilds it. The first acquisition
// pays the connection latency so that later operations do not.
type Manager struct {
	url      string
	prefetch int
	logger   watermill.LoggerAdapter

	mu        sync.Mutex
	conn      *amqp.ConnectionWrapper
	transport Transport
}

// NewManager returns a Manager for the given broker URL. prefetchCount bounds
// in-flight deliveries per consumer; zero leaves the broker default.
func NewManager(url string, prefetchCount int, logger watermill.LoggerAdapter) *Manager {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Manager{url: url, prefetch: prefetchCount, logger: logger}
}

// Acquire returns the cached transport, establishing or re-establishing the
// underlying connection first when necessary.
func (m *Manager) Acquire() (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && LivenessCheck(m.conn) {
		return m.transport, nil
	}

	amqpConfig := amqp.NewDurableQueueConfig(m.url)
	amqpConfig.Consume.Qos.PrefetchCount = m.prefetch

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   m.url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, m.logger)
	if err != nil {
		return Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, m.logger, conn)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, m.logger, conn)
	if err != nil {
		return Transport{}, err
	}

	m.conn = conn
	m.transport = Transport{Publisher: publisher, Subscriber: subscriber}
	return m.transport, nil
}

// Close tears down the cached transport and connection. Safe to call when
// nothing was ever acquired.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}

	if m.transport.Publisher != nil {
		_ = m.transport.Publisher.Close()
	}
	if m.transport.Subscriber != nil {
		_ = m.transport.Subscriber.Close()
	}
	err := m.conn.Close()
	m.conn = nil
	m.transport = Transport{}
	return err
}
