package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"board-sync/domain"
	"board-sync/feed"
)

const tracerName = "board-sync/notify"

// Router turns movement records seen by one user into notifications.
type Router struct {
	userID   string
	clientID string
	identity domain.IdentityResolver
	dedupe   Deduper
	history  *History
	toasts   *ToastQueue
	logger   *log.Logger

	now   func() time.Time
	newID func() string
}

func NewRouter(userID string, identity domain.IdentityResolver, dedupe Deduper, history *History, toasts *ToastQueue, logger *log.Logger) *Router {
	if identity == nil || history == nil || toasts == nil {
		panic("notify.NewRouter: identity, history and toasts are required")
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper(defaultDedupeCapacity)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Router{
		userID:   userID,
		clientID: userID,
		identity: identity,
		dedupe:   dedupe,
		history:  history,
		toasts:   toasts,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Deliver implements feed.Sink.
func (r *Router) Deliver(ctx context.Context, d feed.Delivery) {
	ev, ok, err := r.Route(ctx, d.Membership, d.Record)
	entry := r.logger.WithFields(log.Fields{
		"user":      r.userID,
		"workspace": d.Record.WorkspaceID,
		"movement":  d.Record.ID,
	})
	switch {
	case err != nil:
		entry.WithError(err).Debug("notification dropped")
	case ok:
		entry.WithField("notification", ev.ID).Debug("notification delivered")
	}
}

// Route builds the notification for rec and pushes it to the history and the
// toast queue. It reports false when the record is the user's own or was
// already notified. Resolution failures return an error wrapping
// domain.ErrResolutionFailed and notify nothing.
func (r *Router) Route(ctx context.Context, mem domain.WorkspaceMembership, rec domain.MovementRecord) (ev domain.NotificationEvent, ok bool, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "notify.route", trace.WithAttributes(
		attribute.String("movement.id", rec.ID),
		attribute.String("workspace.id", rec.WorkspaceID),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("notify.delivered", ok))
		span.End()
	}()

	if rec.ActorID == r.userID {
		return domain.NotificationEvent{}, false, nil
	}

	fresh, err := r.dedupe.Add(ctx, r.clientID, rec.ID)
	if err != nil {
		// fail open
		r.logger.WithError(err).WithField("movement", rec.ID).Warn("dedupe unavailable")
		fresh = true
	}
	if !fresh {
		return domain.NotificationEvent{}, false, nil
	}

	ev, err = r.build(ctx, mem, rec)
	if err != nil {
		if rerr := r.dedupe.Remove(ctx, r.clientID, rec.ID); rerr != nil {
			r.logger.WithError(rerr).WithField("movement", rec.ID).Warn("failed to release dedupe key")
		}
		return domain.NotificationEvent{}, false, err
	}

	r.history.Push(ev)
	r.toasts.Enqueue(ev)
	return ev, true, nil
}

func (r *Router) build(ctx context.Context, mem domain.WorkspaceMembership, rec domain.MovementRecord) (domain.NotificationEvent, error) {
	workspaceID := rec.WorkspaceID
	if workspaceID == "" {
		workspaceID = mem.WorkspaceID
	}
	title, err := r.identity.TaskTitle(ctx, workspaceID, rec.TaskID)
	if err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("%w: task %s: %v", domain.ErrResolutionFailed, rec.TaskID, err)
	}
	actor, err := r.identity.DisplayName(ctx, rec.ActorID)
	if err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("%w: user %s: %v", domain.ErrResolutionFailed, rec.ActorID, err)
	}
	if title == "" || actor == "" {
		return domain.NotificationEvent{}, fmt.Errorf("%w: empty title or name for movement %s", domain.ErrResolutionFailed, rec.ID)
	}

	from, to := rec.FromStatus.Label(), rec.ToStatus.Label()
	return domain.NotificationEvent{
		ID:             r.newID(),
		MovementID:     rec.ID,
		WorkspaceID:    workspaceID,
		WorkspaceName:  mem.WorkspaceName,
		TaskID:         rec.TaskID,
		ActorID:        rec.ActorID,
		Message:        fmt.Sprintf("%s moved %q from %s to %s", actor, title, from, to),
		FromStageLabel: from,
		ToStageLabel:   to,
		CreatedAt:      r.now().UTC(),
	}, nil
}
