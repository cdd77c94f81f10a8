package api

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/notify"
)

// ErrNoSession is returned for notification calls made while the user has no
// open stream.
var ErrNoSession = errors.New("no active notification session")

// Sessions keeps one notification session per connected user. Each open
// stream holds a reference; the session stops with the last one.
type Sessions struct {
	newService func() *notify.Service
	logger     *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	svc  *notify.Service
	refs int
	// ready is closed once Start has returned; err holds its hard failure.
	ready chan struct{}
	err   error
}

func (sess *session) started() bool {
	select {
	case <-sess.ready:
		return sess.err == nil
	default:
		return false
	}
}

func NewSessions(newService func() *notify.Service, logger *log.Logger) *Sessions {
	if newService == nil {
		panic("api.NewSessions: service factory is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sessions{newService: newService, logger: logger, sessions: make(map[string]*session)}
}

// Acquire returns the user's session, starting it on first use. Start runs
// outside the lock; concurrent callers for the same user wait for it. A
// session whose workspace channels only partly opened is kept and the failure
// logged.
func (s *Sessions) Acquire(ctx context.Context, userID string) (*notify.Service, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	if sess, ok := s.sessions[userID]; ok {
		sess.refs++
		s.mu.Unlock()
		select {
		case <-sess.ready:
		case <-ctx.Done():
			s.release(userID, sess)
			return nil, ctx.Err()
		}
		if sess.err != nil {
			return nil, sess.err
		}
		return sess.svc, nil
	}
	sess := &session{svc: s.newService(), refs: 1, ready: make(chan struct{})}
	s.sessions[userID] = sess
	s.mu.Unlock()

	err := sess.svc.Start(ctx, userID)
	if err != nil && errors.Is(err, domain.ErrSubscription) {
		s.logger.WithError(err).WithField("user", userID).Warn("notification session degraded")
		err = nil
	}

	s.mu.Lock()
	if err == nil && s.closed {
		err = ErrNoSession
	}
	if err != nil {
		if s.sessions[userID] == sess {
			delete(s.sessions, userID)
		}
		sess.err = err
	}
	close(sess.ready)
	s.mu.Unlock()

	if err != nil {
		_ = sess.svc.Stop()
		return nil, err
	}
	return sess.svc, nil
}

// Release drops one reference taken by Acquire.
func (s *Sessions) Release(userID string) {
	s.mu.Lock()
	sess := s.sessions[userID]
	s.mu.Unlock()
	if sess != nil {
		s.release(userID, sess)
	}
}

func (s *Sessions) release(userID string, sess *session) {
	s.mu.Lock()
	if s.sessions[userID] != sess {
		s.mu.Unlock()
		return
	}
	sess.refs--
	if sess.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, userID)
	s.mu.Unlock()

	if err := sess.svc.Stop(); err != nil {
		s.logger.WithError(err).WithField("user", userID).Warn("failed to stop notification session")
	}
}

// Lookup returns the running session of a user without taking a reference.
// A session still starting is not returned.
func (s *Sessions) Lookup(userID string) (*notify.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok || !sess.started() {
		return nil, ErrNoSession
	}
	return sess.svc, nil
}

// ResyncAll re-reads memberships for every running session.
func (s *Sessions) ResyncAll(ctx context.Context) {
	s.mu.Lock()
	svcs := make([]*notify.Service, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.started() {
			svcs = append(svcs, sess.svc)
		}
	}
	s.mu.Unlock()
	for _, svc := range svcs {
		if err := svc.Resync(ctx); err != nil {
			s.logger.WithError(err).WithField("user", svc.UserID()).Warn("notification resync failed")
		}
	}
}

// Close stops every session. Later Acquire calls fail. Sessions still
// starting are stopped by their starter.
func (s *Sessions) Close() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.closed = true
	s.mu.Unlock()
	for _, sess := range all {
		<-sess.ready
		if sess.err == nil {
			_ = sess.svc.Stop()
		}
	}
}
