package notify

import (
	"sync"
	"time"

	"board-sync/domain"
)

const (
	DefaultToastTTL     = 5000 * time.Millisecond
	DefaultToastStagger = 100 * time.Millisecond

	toastSubscriberBuffer = 32

	// maxBurstIndex caps the stagger of a long burst.
	maxBurstIndex = 9
)

type ToastState string

const (
	ToastVisible   ToastState = "visible"
	ToastDismissed ToastState = "dismissed"
	ToastExpired   ToastState = "expired"
)

// Toast is an entry of the active toast queue.
type Toast struct {
	Event     domain.NotificationEvent `json:"event"`
	State     ToastState               `json:"state"`
	ShownAt   time.Time                `json:"shownAt"`
	TTL       time.Duration            `json:"ttl"`
	ExpiresAt time.Time                `json:"expiresAt"`
}

// ToastChange reports a toast entering or leaving the active queue.
type ToastChange struct {
	State ToastState `json:"state"`
	Toast Toast      `json:"toast"`
}

type ToastConfig struct {
	BaseTTL time.Duration
	Stagger time.Duration
}

// stoppable is the part of *time.Timer the queue uses.
type stoppable interface {
	Stop() bool
}

type toastEntry struct {
	toast Toast
	timer stoppable
}

// ToastQueue owns the visible toasts. Each entry expires on its own timer,
// scheduled at insertion for BaseTTL plus Stagger times the entry's position
// in its burst. An arrival joins the current burst when it follows the
// previous one by less than Stagger; otherwise it starts a new burst at
// position 0. Removing an entry never touches the timers of the others.
type ToastQueue struct {
	cfg       ToastConfig
	now       func() time.Time
	afterFunc func(time.Duration, func()) stoppable

	mu      sync.Mutex
	entries []*toastEntry
	burst   int
	last    time.Time
	subs    map[int]chan ToastChange
	nextSub int
	closed  bool
}

func NewToastQueue(cfg ToastConfig) *ToastQueue {
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = DefaultToastTTL
	}
	if cfg.Stagger < 0 {
		cfg.Stagger = 0
	}
	return &ToastQueue{
		cfg: cfg,
		now: time.Now,
		afterFunc: func(d time.Duration, f func()) stoppable {
			return time.AfterFunc(d, f)
		},
		subs: make(map[int]chan ToastChange),
	}
}

// Enqueue shows ev at the tail of the queue. An event already visible is not
// shown twice.
func (q *ToastQueue) Enqueue(ev domain.NotificationEvent) (Toast, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Toast{}, false
	}
	for _, e := range q.entries {
		if e.toast.Event.ID == ev.ID {
			return e.toast, false
		}
	}
	now := q.now()
	ttl := q.cfg.BaseTTL + time.Duration(q.burstIndexLocked(now))*q.cfg.Stagger
	entry := &toastEntry{toast: Toast{
		Event:     ev,
		State:     ToastVisible,
		ShownAt:   now,
		TTL:       ttl,
		ExpiresAt: now.Add(ttl),
	}}
	id := ev.ID
	entry.timer = q.afterFunc(ttl, func() { q.expire(id, entry) })
	q.entries = append(q.entries, entry)
	q.publishLocked(ToastChange{State: ToastVisible, Toast: entry.toast})
	return entry.toast, true
}

func (q *ToastQueue) burstIndexLocked(now time.Time) int {
	if q.last.IsZero() || now.Sub(q.last) >= q.cfg.Stagger {
		q.burst = 0
	} else if q.burst < maxBurstIndex {
		q.burst++
	}
	q.last = now
	return q.burst
}

// Dismiss removes a visible toast and cancels its timer. It reports whether
// the toast was still visible.
func (q *ToastQueue) Dismiss(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.removeLocked(id, nil)
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	entry.toast.State = ToastDismissed
	q.publishLocked(ToastChange{State: ToastDismissed, Toast: entry.toast})
	return true
}

func (q *ToastQueue) expire(id string, owner *toastEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.removeLocked(id, owner)
	if entry == nil {
		return
	}
	entry.toast.State = ToastExpired
	q.publishLocked(ToastChange{State: ToastExpired, Toast: entry.toast})
}

// removeLocked drops the entry with the given id. A non-nil owner restricts
// removal to that exact entry.
func (q *ToastQueue) removeLocked(id string, owner *toastEntry) *toastEntry {
	for i, e := range q.entries {
		if e.toast.Event.ID != id || (owner != nil && e != owner) {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return e
	}
	return nil
}

// Active returns the visible toasts in queue order.
func (q *ToastQueue) Active() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Toast, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.toast
	}
	return out
}

// Subscribe returns a channel of queue changes and a function releasing it.
// Changes are dropped for subscribers that fall behind.
func (q *ToastQueue) Subscribe() (<-chan ToastChange, func()) {
	ch := make(chan ToastChange, toastSubscriberBuffer)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		close(ch)
		return ch, func() {}
	}
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if c, ok := q.subs[id]; ok {
				delete(q.subs, id)
				close(c)
			}
		})
	}
}

func (q *ToastQueue) publishLocked(change ToastChange) {
	for _, ch := range q.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// Close stops every pending timer, clears the queue and closes subscriber
// channels.
func (q *ToastQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, e := range q.entries {
		e.timer.Stop()
	}
	q.entries = nil
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
}
