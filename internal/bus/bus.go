// Package bus propagates user-change events between instances so each
// node can drop stale local cache entries and feed live subscribers.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a small pub/sub abstraction. Messages are opaque payloads;
// delivery is best effort and slow subscribers lose messages rather
// than blocking publishers.
type Bus interface {
	Publish(ctx context.Context, topic string, msg []byte) error
	Subscribe(ctx context.Context, topic string) (chan []byte, error)
	Unsubscribe(ctx context.Context, topic string, ch chan []byte) error
}

// InMemoryBus is a local implementation of Bus mainly for testing and
// single-node deployments.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan []byte
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan []byte)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, msg []byte) error {
	b.mu.Lock()
	chans := append([]chan []byte(nil), b.subs[topic]...)
	b.mu.Unlock()
	atomic.AddUint64(&b.published, 1)
	for _, ch := range chans {
		select {
		case ch <- msg:
			atomic.AddUint64(&b.delivered, 1)
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch chan []byte) error {
	b.mu.Lock()
	subs := b.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[topic] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	return nil
}

// Metrics reports publish/delivery counts.
type Metrics struct {
	Published uint64
	Delivered uint64
}

func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
