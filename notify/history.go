package notify

import (
	"sync"

	"board-sync/domain"
)

// HistoryCapacity is the number of notifications kept per session.
const HistoryCapacity = 20

// HistoryItem is a notification as listed in the history panel.
type HistoryItem struct {
	domain.NotificationEvent
	Read bool `json:"read"`
}

// History is a bounded list of past notifications. When full, the oldest
// entry is evicted.
type History struct {
	mu       sync.Mutex
	capacity int
	items    []HistoryItem // oldest first
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{capacity: capacity}
}

// Push appends an unread notification and reports the evicted one, if any.
func (h *History) Push(ev domain.NotificationEvent) (evicted *domain.NotificationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) >= h.capacity {
		old := h.items[0].NotificationEvent
		evicted = &old
		h.items = append(h.items[:0], h.items[1:]...)
	}
	h.items = append(h.items, HistoryItem{NotificationEvent: ev})
	return evicted
}

// List returns the notifications newest first.
func (h *History) List() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryItem, len(h.items))
	for i, item := range h.items {
		out[len(h.items)-1-i] = item
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *History) Unread() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, item := range h.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkRead marks the given notification ids as read. With no ids every
// notification is marked. It returns how many changed.
func (h *History) MarkRead(ids ...string) int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	changed := 0
	for i := range h.items {
		if h.items[i].Read {
			continue
		}
		if _, ok := want[h.items[i].ID]; len(ids) > 0 && !ok {
			continue
		}
		h.items[i].Read = true
		changed++
	}
	return changed
}
