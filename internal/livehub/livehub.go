// Package livehub fans out ledger activity to debug stream subscribers.
package livehub

import (
	"sync"
	"time"
)

const subscriberQueueSize = 200

// WildcardKey subscribes to events from every shop.
const WildcardKey = "*"

// Event is one observable moment in the message pipeline.
type Event struct {
	ShopKey   string    `json:"shop_key"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub delivers events to per-shop subscribers. Delivery is best effort: a
// subscriber whose queue is full loses the event rather than blocking the
// publisher, because publishing happens on the message handling path.
type Hub struct {
	mutex       sync.Mutex
	subscribers map[string]map[chan Event]struct{}
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{subscribers: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for one shop key (or WildcardKey) and
// returns its event channel with a cancel function. Cancel is idempotent.
func (hub *Hub) Subscribe(shopKey string) (<-chan Event, func()) {
	queue := make(chan Event, subscriberQueueSize)

	hub.mutex.Lock()
	if hub.subscribers[shopKey] == nil {
		hub.subscribers[shopKey] = make(map[chan Event]struct{})
	}
	hub.subscribers[shopKey][queue] = struct{}{}
	hub.mutex.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			hub.mutex.Lock()
			delete(hub.subscribers[shopKey], queue)
			if len(hub.subscribers[shopKey]) == 0 {
				delete(hub.subscribers, shopKey)
			}
			hub.mutex.Unlock()
			close(queue)
		})
	}
	return queue, cancel
}

// Publish sends the event to the shop's subscribers and every wildcard
// subscriber without blocking.
func (hub *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for _, key := range []string{event.ShopKey, WildcardKey} {
		for queue := range hub.subscribers[key] {
			select {
			case queue <- event:
			default:
			}
		}
	}
}
