package feed

import (
	"context"
	"errors"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

var errMultiplexerClosed = errors.New("multiplexer closed")

// Delivery is a raw movement record together with the membership of the
// workspace channel it arrived on.
type Delivery struct {
	Membership domain.WorkspaceMembership
	Record     domain.MovementRecord
}

// Sink receives deliveries from the multiplexer's dispatcher goroutine.
type Sink interface {
	Deliver(ctx context.Context, d Delivery)
}

type SinkFunc func(ctx context.Context, d Delivery)

func (f SinkFunc) Deliver(ctx context.Context, d Delivery) { f(ctx, d) }

// Tee delivers to every sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, d Delivery) {
		for _, s := range sinks {
			s.Deliver(ctx, d)
		}
	})
}

const defaultDeliveryBuffer = 64

// Multiplexer keeps exactly one change-feed subscription per workspace of the
// current membership set and fans their deliveries in to a single sink. It is
// the only owner of the subscription handles.
type Multiplexer struct {
	feed   domain.ChangeFeed
	sink   Sink
	logger *log.Logger

	syncMu  sync.Mutex
	mu      sync.Mutex
	members map[string]domain.WorkspaceMembership
	subs    map[string]domain.Subscription
	closed  bool

	deliveries chan Delivery
	stop       chan struct{}
	done       chan struct{}
}

func NewMultiplexer(feed domain.ChangeFeed, sink Sink, logger *log.Logger) *Multiplexer {
	if feed == nil || sink == nil {
		panic("feed.NewMultiplexer: feed and sink are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Multiplexer{
		feed:       feed,
		sink:       sink,
		logger:     logger,
		members:    make(map[string]domain.WorkspaceMembership),
		subs:       make(map[string]domain.Subscription),
		deliveries: make(chan Delivery, defaultDeliveryBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go m.dispatch()
	return m
}

func (m *Multiplexer) dispatch() {
	defer close(m.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		select {
		case d := <-m.deliveries:
			m.sink.Deliver(ctx, d)
		case <-m.stop:
			return
		}
	}
}

// Sync makes the open subscriptions match memberships: channels of workspaces
// that left the set are released and one channel is opened, in workspace id
// order, for every new workspace. Subscriptions that fail are reported as
// joined *domain.SubscriptionError values; the others stay open. Nothing is
// retried.
func (m *Multiplexer) Sync(ctx context.Context, memberships []domain.WorkspaceMembership) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	desired := make(map[string]domain.WorkspaceMembership, len(memberships))
	for _, mem := range memberships {
		if mem.WorkspaceID == "" {
			continue
		}
		desired[mem.WorkspaceID] = mem
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errMultiplexerClosed
	}
	var stale []domain.Subscription
	for id, sub := range m.subs {
		if _, keep := desired[id]; !keep {
			stale = append(stale, sub)
			delete(m.subs, id)
			delete(m.members, id)
		}
	}
	var added []string
	for id, mem := range desired {
		m.members[id] = mem
		if _, open := m.subs[id]; !open {
			added = append(added, id)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, sub := range stale {
		if err := sub.Close(); err != nil {
			m.logger.WithError(err).WithField("workspace", sub.WorkspaceID()).Warn("failed to release workspace channel")
		}
	}

	sort.Strings(added)
	for _, id := range added {
		sub, err := m.feed.Subscribe(ctx, id, m.handler(id))
		if err != nil {
			var subErr *domain.SubscriptionError
			if !errors.As(err, &subErr) {
				err = &domain.SubscriptionError{WorkspaceID: id, Err: err}
			}
			errs = append(errs, err)
			m.mu.Lock()
			delete(m.members, id)
			m.mu.Unlock()
			m.logger.WithError(err).WithField("workspace", id).Error("failed to open workspace channel")
			continue
		}
		m.mu.Lock()
		m.subs[id] = sub
		m.mu.Unlock()
	}
	m.logger.WithFields(log.Fields{"opened": len(added) - len(errs), "released": len(stale), "failed": len(errs)}).Debug("workspace channels synced")
	return errors.Join(errs...)
}

func (m *Multiplexer) handler(workspaceID string) func(domain.MovementRecord) {
	return func(rec domain.MovementRecord) {
		m.mu.Lock()
		mem, ok := m.members[workspaceID]
		m.mu.Unlock()
		if !ok {
			mem = domain.WorkspaceMembership{WorkspaceID: workspaceID}
		}
		select {
		case m.deliveries <- Delivery{Membership: mem, Record: rec}:
		case <-m.stop:
		}
	}
}

// Workspaces returns the ids of the open channels, sorted.
func (m *Multiplexer) Workspaces() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close releases every channel and stops the dispatcher.
func (m *Multiplexer) Close() error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[string]domain.Subscription)
	m.members = make(map[string]domain.WorkspaceMembership)
	m.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	close(m.stop)
	<-m.done
	return errors.Join(errs...)
}
