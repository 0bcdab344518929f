package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultLocalBuffer = 64

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mq: bus closed")
	// ErrChannelFull is returned when a subscriber's buffer is full and the
	// message was dropped for it.
	ErrChannelFull = errors.New("mq: channel buffer full")
)

// LocalBus is an in-process fan-out backend. Every subscriber of a channel
// receives each message once; there is no redelivery.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	buffer int
	closed bool
}

func NewLocalBus(buffer int) *LocalBus {
	if buffer < 1 {
		buffer = defaultLocalBuffer
	}
	return &LocalBus{subs: make(map[string][]chan Message), buffer: buffer}
}

func (b *LocalBus) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("local channel is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", ErrClosed
	}

	msg := Message{ID: uuid.NewString(), Data: append([]byte(nil), data...), Attributes: attrs}
	var err error
	for _, ch := range b.subs[channel] {
		select {
		case ch <- msg:
		default:
			err = ErrChannelFull
		}
	}
	return msg.ID, err
}

// Subscribe blocks until ctx is cancelled or the bus is closed. Handler
// errors are dropped.
func (b *LocalBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("local channel is required")
	}

	ch := make(chan Message, b.buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	defer b.unsubscribe(channel, ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			_ = handler(ctx, msg)
		}
	}
}

func (b *LocalBus) unsubscribe(channel string, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	for i, existing := range subs {
		if existing == ch {
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}

// Close stops every subscriber.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, channel)
	}
	return nil
}

// Subscribers returns the number of active subscribers on channel.
func (b *LocalBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
