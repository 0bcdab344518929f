package mq

import (
	"context"
	"fmt"
	"strings"

	"github.com/savage-app/savage/config"
)

const (
	BackendLocal    = "local"
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
	name    string
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Open connects to the broker named by cfg.Backend.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	var (
		backend Backend
		err     error
	)
	switch name {
	case BackendLocal, "":
		name = BackendLocal
		backend = NewLocalBus(defaultLocalBuffer)
	case BackendRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case BackendPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &MQ{backend: backend, name: name}, nil
}

// Name reports the backend kind chosen by Open.
func (m *MQ) Name() string {
	return m.name
}

// InProcess reports whether publishers and subscribers must share the process.
func (m *MQ) InProcess() bool {
	_, ok := m.backend.(*LocalBus)
	return ok
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
