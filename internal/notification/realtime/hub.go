package realtime

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const DefaultSubscriberBuffer = 16

// Hub fans frames out to the sessions connected to this process.
type Hub struct {
	mu               sync.RWMutex
	streams          map[snowflake.ID]*stream
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID snowflake.ID
	id     uint64
	ch     chan Event
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[snowflake.ID]*stream),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// PushToUser delivers to every session of userID without blocking. A session
// whose buffer is full misses the frame.
func (h *Hub) PushToUser(ctx context.Context, userID snowflake.ID, event Event) error {
	if h == nil {
		return ErrHubUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current == nil {
		return ErrNoSubscribers
	}

	if deliver(current.snapshot(), event) == 0 {
		return ErrBackpressure
	}
	return nil
}

// Broadcast delivers to every connected session.
func (h *Hub) Broadcast(ctx context.Context, event Event) error {
	if h == nil {
		return ErrHubUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	streams := make([]*stream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.mu.RUnlock()

	for _, s := range streams {
		deliver(s.snapshot(), event)
	}
	return nil
}

func (s *stream) snapshot() []chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]chan Event, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	return subs
}

func deliver(subs []chan Event, event Event) int {
	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) Subscribe(userID snowflake.ID) (*Subscription, error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}
	if userID == 0 {
		return nil, ErrInvalidReceiver
	}

	h.mu.Lock()
	current := h.streams[userID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[userID] = current
	}
	current.mu.Lock()
	id := current.nextID
	current.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	current.subs[id] = ch
	current.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{
		hub:    h,
		userID: userID,
		id:     id,
		ch:     ch,
	}, nil
}

// Connected reports how many sessions userID has on this process.
func (h *Hub) Connected(userID snowflake.ID) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current == nil {
		return 0
	}
	current.mu.Lock()
	defer current.mu.Unlock()
	return len(current.subs)
}

func (h *Hub) unsubscribe(userID snowflake.ID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current := h.streams[userID]
	if current == nil {
		return
	}

	current.mu.Lock()
	delete(current.subs, id)
	empty := len(current.subs) == 0
	current.mu.Unlock()
	if empty {
		delete(h.streams, userID)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
