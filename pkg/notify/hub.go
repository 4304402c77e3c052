// Package notify fans persisted notifications out to live subscribers.
package notify

import (
	"context"
	"sync"

	"momflow/pkg/domain"
)

const subscriberBuffer = 32

// Hub delivers notifications to connected clients of a user. Delivery is best
// effort: slow subscribers drop messages, the database row stays authoritative.
type Hub interface {
	Publish(ctx context.Context, n domain.Notification) error
	// Subscribe returns a stream of the user's notifications that is closed
	// when ctx ends or cancel is called.
	Subscribe(ctx context.Context, userID uint) (<-chan domain.Notification, func(), error)
}

// MemoryHub is an in-process Hub for single-instance runs and tests.
type MemoryHub struct {
	mu   sync.Mutex
	subs map[uint]map[*memorySub]struct{}
}

type memorySub struct {
	ch   chan domain.Notification
	once sync.Once
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint]map[*memorySub]struct{})}
}

func (h *MemoryHub) Publish(_ context.Context, n domain.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[n.UserID] {
		select {
		case sub.ch <- n:
		default:
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, userID uint) (<-chan domain.Notification, func(), error) {
	sub := &memorySub{ch: make(chan domain.Notification, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*memorySub]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], sub)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.ch, cancel, nil
}

// Subscribers reports how many live subscriptions a user has.
func (h *MemoryHub) Subscribers(userID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
