package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"board-sync/domain"
)

var errLookup = errors.New("lookup failed")

type fakeIdentity struct {
	mu       sync.Mutex
	names    map[string]string
	titles   map[string]string
	failTask map[string]bool
	calls    int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		names:    map[string]string{"u-alice": "Alice", "u-bob": "Bob"},
		titles:   map[string]string{"t1": "Write launch plan", "t2": "Review budget"},
		failTask: map[string]bool{},
	}
}

func (f *fakeIdentity) DisplayName(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	name, ok := f.names[userID]
	if !ok {
		return "", errLookup
	}
	return name, nil
}

func (f *fakeIdentity) TaskTitle(ctx context.Context, workspaceID, taskID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failTask[taskID] {
		return "", errLookup
	}
	title, ok := f.titles[taskID]
	if !ok {
		return "", errLookup
	}
	return title, nil
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) stoppable {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fire runs the i-th timer as the runtime would, unless it was stopped.
func (s *fakeScheduler) fire(i int) {
	t := s.timer(i)
	if t.stopped || t.fired {
		return
	}
	t.fired = true
	t.f()
}

func newTestQueue(cfg ToastConfig) (*ToastQueue, *fakeScheduler) {
	q := NewToastQueue(cfg)
	sched := &fakeScheduler{}
	q.afterFunc = sched.afterFunc
	q.now = func() time.Time { return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC) }
	return q, sched
}

func event(id string) domain.NotificationEvent {
	return domain.NotificationEvent{ID: id, MovementID: "m-" + id, WorkspaceID: "ws1", Message: "msg " + id}
}

func record(id, ws, actor, task string) domain.MovementRecord {
	return domain.MovementRecord{
		ID:          id,
		TaskID:      task,
		WorkspaceID: ws,
		ActorID:     actor,
		FromStatus:  domain.StagePlanning,
		ToStatus:    domain.StageInProgress,
		CreatedAt:   time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}
