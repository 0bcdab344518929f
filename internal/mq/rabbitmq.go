package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/savage-app/savage/config"
)

const contentTypeAttr = "content_type"

// RabbitMQClient publishes on one confirm-mode channel and opens a
// dedicated channel for every consumer.
type RabbitMQClient struct {
	conn *amqp.Connection
	cfg  config.RabbitMQConfig

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]struct{}
}

// NewRabbitMQClient dials the broker and puts the publish channel in
// confirm mode.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pub.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &RabbitMQClient{
		conn:     conn,
		cfg:      cfg,
		pub:      pub,
		declared: make(map[string]struct{}),
	}, nil
}

// Publish sends data to the named queue and waits for the broker to
// confirm it.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}

	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}
	contentType := attrs[contentTypeAttr]
	if contentType == "" {
		contentType = "application/json"
	}
	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: r.deliveryMode(),
		MessageId:    uuid.NewString(),
		Headers:      headers,
		Body:         data,
	}

	r.mu.Lock()
	if err := r.ensureQueue(r.pub, channel); err != nil {
		r.mu.Unlock()
		return "", err
	}
	confirm, err := r.pub.PublishWithDeferredConfirmWithContext(ctx, "", channel, false, false, msg)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return "", err
	}
	if !acked {
		return "", fmt.Errorf("rabbitmq nacked message %s", msg.MessageId)
	}
	return msg.MessageId, nil
}

// Subscribe consumes the named queue on its own channel until ctx ends.
// A failed delivery is requeued once and dropped when it fails again.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if r.cfg.PrefetchCount > 0 {
		if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
			return err
		}
	}
	if _, err := r.declare(ch, channel); err != nil {
		return err
	}

	tag := "savage-" + uuid.NewString()
	deliveries, err := ch.Consume(channel, tag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Cancel(tag, false) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			err := handler(ctx, Message{
				ID:         d.MessageId,
				Data:       d.Body,
				Attributes: headersToAttributes(d.Headers),
			})
			if err != nil {
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close closes the publish channel and the connection, which also ends
// any consumer channels.
func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	if r.pub != nil {
		_ = r.pub.Close()
		r.pub = nil
	}
	r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// ensureQueue declares a queue once per client. Callers hold r.mu.
func (r *RabbitMQClient) ensureQueue(ch *amqp.Channel, name string) error {
	if _, ok := r.declared[name]; ok {
		return nil
	}
	if _, err := r.declare(ch, name); err != nil {
		return err
	}
	r.declared[name] = struct{}{}
	return nil
}

func (r *RabbitMQClient) declare(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(name, r.cfg.QueueDurable, r.cfg.QueueAutoDelete, false, false, nil)
	if err != nil {
		return q, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return q, nil
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch v := value.(type) {
		case string:
			attrs[key] = v
		case []byte:
			attrs[key] = string(v)
		default:
			attrs[key] = fmt.Sprint(v)
		}
	}
	return attrs
}

// deliveryMode persists messages on durable queues so pending sync
// requests survive a broker restart.
func (r *RabbitMQClient) deliveryMode() uint8 {
	if r.cfg.QueueDurable {
		return amqp.Persistent
	}
	return amqp.Transient
}
