// Package eventbus implements a small in-process publish/subscribe hub.
// The core itself never speaks HTTP or WebSocket; it only publishes
// structured events (incident created, incident updated, action executed,
// execution failure recorded) onto named topics. A wrapping web layer —
// out of scope for this module — subscribes and relays events onward over
// whatever transport it chooses (websocket, SSE, etc.).
package eventbus

import (
	"sync"
	"time"

	"github.com/homelab/sentinel/internal/metrics"
)

// Event is one message published to a topic.
type Event struct {
	Topic     string      `json:"topic"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription is a live subscriber's channel handle. Ch is closed when
// Unsubscribe is called; callers must stop reading from Ch at that point.
type Subscription struct {
	id    uint64
	topic string
	Ch    chan Event
	bus   *Bus
}

// Unsubscribe detaches this subscription from the bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

// Bus is a topic-keyed fan-out hub. Publish never blocks on a slow
// subscriber: a subscriber whose buffer is full silently misses the event.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription
}

// New constructs an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber for topic and returns its handle.
// bufferSize governs how many unconsumed events may queue before Publish
// starts dropping for this subscriber; callers that don't care may pass 0,
// which defaults to 64.
func (b *Bus) Subscribe(topic string, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, topic: topic, Ch: make(chan Event, bufferSize), bus: b}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub

	metrics.EventBusSubscribers.Set(float64(b.subscriberCountLocked()))
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topicSubs, ok := b.subs[sub.topic]; ok {
		if _, ok := topicSubs[sub.id]; ok {
			delete(topicSubs, sub.id)
			close(sub.Ch)
		}
		if len(topicSubs) == 0 {
			delete(b.subs, sub.topic)
		}
	}
	metrics.EventBusSubscribers.Set(float64(b.subscriberCountLocked()))
}

func (b *Bus) subscriberCountLocked() int {
	total := 0
	for _, topicSubs := range b.subs {
		total += len(topicSubs)
	}
	return total
}

// Publish sends data to every current subscriber of topic. Delivery is
// best-effort and non-blocking.
func (b *Bus) Publish(topic string, data interface{}) {
	ev := Event{Topic: topic, Data: data, Timestamp: time.Now().UTC()}

	b.mu.Lock()
	topicSubs := make([]*Subscription, 0, len(b.subs[topic]))
	for _, sub := range b.subs[topic] {
		topicSubs = append(topicSubs, sub)
	}
	b.mu.Unlock()

	metrics.EventBusMessagesTotal.WithLabelValues(topic).Inc()
	for _, sub := range topicSubs {
		select {
		case sub.Ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the total number of active subscriptions across
// every topic.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscriberCountLocked()
}

// Topic names the core publishes on. A wrapping layer should not assume
// this list is exhaustive — new topics may be added.
const (
	TopicIncidentCreated  = "incident.created"
	TopicIncidentUpdated  = "incident.updated"
	TopicActionExecuted   = "action.executed"
	TopicCircuitBreaker   = "circuit_breaker.tripped" // every recorded execution failure, not only the one that opens a breaker
)
