package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/feed"
)

var (
	ErrNotStarted     = errors.New("notification service not started")
	ErrAlreadyStarted = errors.New("notification service already started")
)

type ServiceConfig struct {
	Toasts          ToastConfig
	HistoryCapacity int
}

// Service is the notification session of one user. Start subscribes to every
// workspace the user belongs to and routes movements made by others into the
// history and the toast queue; Stop releases everything.
type Service struct {
	changes  domain.ChangeFeed
	members  domain.MembershipResolver
	identity domain.IdentityResolver
	dedupe   Deduper
	cfg      ServiceConfig
	logger   *log.Logger

	mu       sync.Mutex
	userID   string
	clientID string
	history  *History
	toasts   *ToastQueue
	router   *Router
	mux      *feed.Multiplexer
}

// NewService wires a session. A nil dedupe gives every session its own
// in-memory deduper.
func NewService(changes domain.ChangeFeed, members domain.MembershipResolver, identity domain.IdentityResolver, dedupe Deduper, cfg ServiceConfig, logger *log.Logger) *Service {
	if changes == nil || members == nil || identity == nil {
		panic("notify.NewService: change feed, membership and identity resolvers are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		changes:  changes,
		members:  members,
		identity: identity,
		dedupe:   dedupe,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins the session for userID under a fresh client id, which scopes
// de-duplication to this session. When some workspace channels cannot
// be opened the session still runs on the others and the returned error
// matches domain.ErrSubscription.
func (s *Service) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("start notifications: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mux != nil {
		return ErrAlreadyStarted
	}

	memberships, err := s.members.WorkspacesForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve memberships for %s: %w", userID, err)
	}

	s.userID = userID
	s.clientID = userID + ":" + uuid.NewString()
	s.history = NewHistory(s.cfg.HistoryCapacity)
	s.toasts = NewToastQueue(s.cfg.Toasts)
	s.router = NewRouter(userID, s.identity, s.dedupe, s.history, s.toasts, s.logger)
	s.router.clientID = s.clientID
	s.mux = feed.NewMultiplexer(s.changes, s.router, s.logger)

	err = s.mux.Sync(ctx, memberships)
	s.logger.WithFields(log.Fields{
		"user":       userID,
		"client":     s.clientID,
		"workspaces": len(memberships),
	}).Info("notification session started")
	return err
}

// Resync re-reads the user's memberships and opens or releases workspace
// channels accordingly.
func (s *Service) Resync(ctx context.Context) error {
	s.mu.Lock()
	mux, userID := s.mux, s.userID
	s.mu.Unlock()
	if mux == nil {
		return ErrNotStarted
	}
	memberships, err := s.members.WorkspacesForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve memberships for %s: %w", userID, err)
	}
	return mux.Sync(ctx, memberships)
}

// Stop releases every channel and pending toast timer. The history stays
// readable until the next Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	mux, toasts, userID := s.mux, s.toasts, s.userID
	s.mux = nil
	s.mu.Unlock()
	if mux == nil {
		return nil
	}
	err := mux.Close()
	toasts.Close()
	s.logger.WithField("user", userID).Info("notification session stopped")
	return err
}

func (s *Service) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// History returns the session's notification history, or nil before Start.
func (s *Service) History() *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// Toasts returns the session's toast queue, or nil before Start.
func (s *Service) Toasts() *ToastQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toasts
}

// Workspaces lists the workspaces with an open channel.
func (s *Service) Workspaces() []string {
	s.mu.Lock()
	mux := s.mux
	s.mu.Unlock()
	if mux == nil {
		return nil
	}
	return mux.Workspaces()
}
