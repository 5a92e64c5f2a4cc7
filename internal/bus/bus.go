// Package bus implements the in-process topic fan-out between the
// pipeline and the sinks.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"lookout/internal/event"
	"lookout/pkg/logging"
)

// Well-known topics.
const (
	TopicCLI       = "cli"
	TopicAlerts    = "alerts"
	TopicDashboard = "dashboard"
	TopicFirehose  = "firehose"
)

const subscriberQueueSize = 256

// Handler consumes one event. Handlers run on a dedicated worker
// goroutine per subscription; a panic in one handler never reaches
// another subscriber.
type Handler func(e *event.Event)

type subscription struct {
	id      string
	topic   string
	queue   chan *event.Event
	handler Handler
	done    chan struct{}
}

// Bus routes published events to topic subscribers with per-subscriber
// FIFO ordering and isolation.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	byID   map[string]*subscription
	logger logging.Logger
	wg     sync.WaitGroup
	closed bool
}

// New creates an event bus.
func New(logger logging.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]*subscription),
		byID:   make(map[string]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler on a topic and returns its subscription
// id. Duplicate subscriptions are allowed and delivered independently.
func (b *Bus) Subscribe(topic string, handler Handler) string {
	sub := &subscription{
		id:      uuid.New().String(),
		topic:   topic,
		queue:   make(chan *event.Event, subscriberQueueSize),
		handler: handler,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ""
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.byID[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.drain(sub)
	return sub.id
}

// Unsubscribe removes a subscription; its worker exits after finishing
// the event in flight.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.byID[id]
	if ok {
		delete(b.byID, id)
		list := b.subs[sub.topic]
		for i, s := range list {
			if s.id == id {
				b.subs[sub.topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish enqueues the event for every subscriber of the topic. It never
// blocks: a subscriber with a full queue misses this event and a warning
// is logged.
func (b *Bus) Publish(topic string, e *event.Event) {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- e:
		default:
			b.logger.WithFields(logging.Fields{
				"topic":        topic,
				"subscription": sub.id,
			}).Warn("Subscriber queue full, dropping event")
		}
	}
}

// Close stops every worker, giving each up to the grace period to drain
// its backlog before shutdown is forced.
func (b *Bus) Close(grace time.Duration) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.byID))
	for _, sub := range b.byID {
		subs = append(subs, sub)
	}
	b.byID = make(map[string]*subscription)
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(grace):
		b.logger.Warn("Topic drain grace period elapsed, forcing shutdown")
	}
}

func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			// Drain the backlog without blocking, then exit.
			for {
				select {
				case e := <-sub.queue:
					b.invoke(sub, e)
				default:
					return
				}
			}
		case e := <-sub.queue:
			b.invoke(sub, e)
		}
	}
}

func (b *Bus) invoke(sub *subscription, e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logging.Fields{
				"topic":        sub.topic,
				"subscription": sub.id,
				"panic":        r,
			}).Error("Subscriber handler panic")
		}
	}()
	sub.handler(e)
}
