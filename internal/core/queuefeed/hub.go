package queuefeed

import (
	"sync"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const subscriberBuffer = 64

// Hub fans queue events out to per-user subscribers. A subscriber that falls
// behind loses events and is expected to reload with a snapshot.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	userID string
	ch     chan domain.QueueEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a listener for one user's rows. The returned func
// unregisters it and closes the channel.
func (h *Hub) Subscribe(userID string) (<-chan domain.QueueEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan domain.QueueEvent, subscriberBuffer)
	h.subs[id] = subscriber{userID: userID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish delivers the event to subscribers of the row's owner and reports
// how many subscribers dropped it.
func (h *Hub) Publish(event domain.QueueEvent) int {
	if event.Item == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for _, sub := range h.subs {
		if sub.userID != event.Item.UserID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
