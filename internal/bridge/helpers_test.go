package bridge

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaylabs/chatbridge/internal/broker"
	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
)

func newTestMetrics() *metrics.Bridge {
	return metrics.NewBridge(prometheus.NewRegistry())
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
	err      error
}

func (p *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.messages == nil {
		p.messages = make(map[string][]*message.Message)
	}
	p.messages[topic] = append(p.messages[topic], messages...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}

type closedSubscriber struct{}

func (closedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (closedSubscriber) Close() error { return nil }

// fakeSource hands out a fixed transport, optionally failing the first N
// acquisitions to exercise reconnect paths.
type fakeSource struct {
	mu        sync.Mutex
	transport broker.Transport
	failures  int
	err       error
	acquired  int
}

func (s *fakeSource) Acquire() (broker.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	if s.failures > 0 {
		s.failures--
		return broker.Transport{}, s.err
	}
	return s.transport, nil
}

func nopLogger() logging.ServiceLogger {
	return logging.Nop()
}
