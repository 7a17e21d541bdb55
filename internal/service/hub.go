package service

import (
	"log/slog"
	"sync"

	"github.com/audiolibrelab/cliptalk/internal/notify"
	"github.com/audiolibrelab/cliptalk/internal/transcript"
	"github.com/audiolibrelab/cliptalk/internal/upload"
)

// UpdateKind names what changed.
type UpdateKind string

const (
	UpdateNotification UpdateKind = "notification"
	UpdateProgress     UpdateKind = "progress"
	UpdateMessage      UpdateKind = "message"
	UpdateStatus       UpdateKind = "status"
)

// Update is one event pushed to subscribers.
type Update struct {
	Kind         UpdateKind          `json:"kind"`
	Notification *notify.Event       `json:"notification,omitempty"`
	Upload       *upload.Status      `json:"upload,omitempty"`
	Message      *transcript.Message `json:"message,omitempty"`
	Status       *Status             `json:"status,omitempty"`
}

// Hub fans updates out to subscribers. A subscriber that falls behind
// loses updates rather than stalling the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Update
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Update)}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it may be called more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Update, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Publish delivers u to every subscriber without blocking.
func (h *Hub) Publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- u:
		default:
			slog.Debug("Dropping update for slow subscriber", "subscriber", id, "kind", u.Kind)
		}
	}
}

// Notify makes the hub a notification sink.
func (h *Hub) Notify(e notify.Event) {
	h.Publish(Update{Kind: UpdateNotification, Notification: &e})
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
