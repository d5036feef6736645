// Package bus provides the in-process event bus that decouples realtime
// transport from its consumers.
package bus

import (
	"sync"

	"doerhub-agent/internal/common/logger"
)

// Topic constants. Dynamic topics are built with the helper funcs below.
const (
	TopicNotificationNew    = "notification.new"
	TopicNotificationUnread = "notification.unread"
)

// TopicChannelState is the topic for connection state changes of a channel.
func TopicChannelState(channel string) string {
	return "channel.state." + channel
}

// TopicChannelMessage is the topic for inbound envelopes of a channel.
func TopicChannelMessage(channel string) string {
	return "channel.message." + channel
}

// TopicNegotiation is the topic for lifecycle events of one negotiation.
func TopicNegotiation(requestID string) string {
	return "negotiation." + requestID
}

// Handler receives events published to a subscribed topic.
type Handler func(topic string, payload interface{})

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers published events synchronously to subscribers in
// subscription order. There is no replay: a subscriber only sees events
// published after it subscribed.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	log    logger.Logger
}

func New(log logger.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
		log:  log,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// func. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Publish delivers payload to every handler subscribed to topic, in
// subscription order, on the caller's goroutine. A panicking handler is
// isolated so the remaining handlers still run.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	list := make([]subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range list {
		b.deliver(topic, payload, s.handler)
	}
}

func (b *Bus) deliver(topic string, payload interface{}, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", map[string]interface{}{
				"topic": topic,
				"panic": r,
			})
		}
	}()
	h(topic, payload)
}
