// Package progress fans review progress out to websocket followers and webhooks.
package progress

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-review/pkg/reviewdto"
)

const subscriberBuffer = 64

// Hub delivers events to in-process subscribers keyed by review id.
type Hub struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// subscriber channels are only sent to and closed under Hub.mu.
type subscriber struct {
	ch   chan reviewdto.ProgressEvent
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for one review. The channel closes after a
// terminal event or when cancel is called.
func (h *Hub) Subscribe(reviewID string) (<-chan reviewdto.ProgressEvent, func()) {
	sub := &subscriber{ch: make(chan reviewdto.ProgressEvent, subscriberBuffer)}
	h.mu.Lock()
	set, ok := h.subs[reviewID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[reviewID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() { h.remove(reviewID, sub) }
	return sub.ch, cancel
}

// Publish never blocks; a subscriber that falls behind loses events.
func (h *Hub) Publish(ctx context.Context, webhook string, ev reviewdto.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[ev.ReviewID]
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("progress subscriber lagging, event dropped",
				zap.String("review_id", ev.ReviewID),
				zap.String("kind", string(ev.Kind)),
			)
		}
	}
	if terminal(ev) {
		for sub := range set {
			sub.close()
		}
		delete(h.subs, ev.ReviewID)
	}
}

func (h *Hub) Subscribers(reviewID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[reviewID])
}

func (h *Hub) remove(reviewID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.close()
	set, ok := h.subs[reviewID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, reviewID)
	}
}
