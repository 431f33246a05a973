package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// InMemory is a Source backed by Watermill's in-process Pub/Sub. It is used in
// tests and for local runs without a broker. Nacked messages are redelivered,
// which preserves the worker's at-least-once contract.
type InMemory struct {
	transport Transport
}

// NewInMemory builds an in-process transport.
func NewInMemory(logger watermill.LoggerAdapter) *InMemory {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	return &InMemory{transport: Transport{Publisher: pubSub, Subscriber: pubSub}}
}

func (m *InMemory) Acquire() (Transport, error) {
	return m.transport, nil
}

func (m *InMemory) Close() error {
	return m.transport.Publisher.Close()
}

var _ Source = (*InMemory)(nil)
var _ Source = (*Manager)(nil)
