// Package bus is the in-process publish/subscribe surface agent workers
// listen on.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"agentrelay/pkg/logger"
	"agentrelay/pkg/telemetry"
)

// ErrBusClosed is returned when publishing to a closed Bus.
var ErrBusClosed = errors.New("message bus closed")

type Topic string

const (
	TopicNewMessage     Topic = "new_message"
	TopicMessageDeleted Topic = "message_deleted"
	TopicChannelCleared Topic = "channel_cleared"
)

type Event struct {
	Topic   Topic
	Payload any
}

// Handler runs inline on the publisher goroutine and must not block.
type Handler func(ctx context.Context, ev Event)

type subscriber struct {
	id      uint64
	handler Handler
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscriber
	nextID uint64
	closed atomic.Bool
	log    *slog.Logger
	// buffer of channel subscriptions created without an explicit size
	defaultBuffer int
}

func New(defaultBuffer int, log *slog.Logger) *Bus {
	if defaultBuffer <= 0 {
		defaultBuffer = 256
	}
	return &Bus{
		subs:          make(map[Topic][]subscriber),
		log:           logger.Or(log),
		defaultBuffer: defaultBuffer,
	}
}

// Subscribe registers h for topic and returns a function removing it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// SubscribeChan delivers topic events into a buffered channel. Events that
// do not fit are dropped and counted so a slow consumer never stalls
// publishers. cancel closes the channel.
func (b *Bus) SubscribeChan(topic Topic, buffer int) (events <-chan Event, cancel func()) {
	if buffer <= 0 {
		buffer = b.defaultBuffer
	}
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	done := false
	unsub := b.Subscribe(topic, func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case ch <- ev:
		default:
			telemetry.BusDropped.WithLabelValues(string(topic)).Inc()
			b.log.Warn("bus_event_dropped", "topic", topic)
		}
	})
	return ch, func() {
		unsub()
		mu.Lock()
		defer mu.Unlock()
		if !done {
			done = true
			close(ch)
		}
	}
}

// Publish invokes every current subscriber of topic in registration order
// and returns once all of them have run.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.mu.RLock()
	list := append([]subscriber(nil), b.subs[topic]...)
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, s := range list {
		b.dispatch(ctx, s, ev)
	}
	telemetry.BusPublished.WithLabelValues(string(topic)).Inc()
	return nil
}

func (b *Bus) dispatch(ctx context.Context, s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus_handler_panic", "topic", ev.Topic, "subscriber", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.handler(ctx, ev)
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		b.mu.Lock()
		b.subs = make(map[Topic][]subscriber)
		b.mu.Unlock()
	}
}
