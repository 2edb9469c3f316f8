package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names a broadcast signal. Any number of listeners may subscribe;
// delivery is fire-and-forget and carries no reply channel.
type Topic string

const (
	TopicUserLoggedIn       Topic = "userLoggedIn"
	TopicUserLoggedOut      Topic = "userLoggedOut"
	TopicUserRoleChanged    Topic = "userRoleChanged"
	TopicUserProfileUpdated Topic = "userProfileUpdated"
)

type Event struct {
	ID     string
	Topic  Topic
	At     time.Time
	Detail map[string]interface{}
}

type Handler func(Event)

type subscriber struct {
	id      int
	handler Handler
}

// Bus is an in-process publish/subscribe broker. Handlers for a topic run
// synchronously in registration order; that order is not contractual, only
// that all handlers eventually run.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic][]subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscriber)}
}

// Subscribe registers handler for topic and returns an unsubscribe function.
// Unsubscribing is idempotent.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, sub := range subs {
			if sub.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to all current subscribers of topic.
func (b *Bus) Publish(topic Topic, detail map[string]interface{}) {
	evt := Event{
		ID:     uuid.New().String(),
		Topic:  topic,
		At:     time.Now().UTC(),
		Detail: detail,
	}

	b.mu.RLock()
	subs := make([]subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(evt)
	}
}
