package board

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"board-sync/domain"
)

// MovementWriter appends one immutable record per accepted transition. It is
// the only place a broadcast-worthy movement is created.
type MovementWriter struct {
	store domain.MovementLogStore
	now   func() time.Time
	newID func() string
}

func NewMovementWriter(store domain.MovementLogStore) *MovementWriter {
	if store == nil {
		panic("board.NewMovementWriter: movement log store is nil")
	}
	return &MovementWriter{store: store, now: time.Now, newID: uuid.NewString}
}

// Record builds and appends a movement record. Failures are returned as is;
// retrying is up to the caller.
func (w *MovementWriter) Record(ctx context.Context, taskID, workspaceID, actorID string, from, to domain.Stage) (domain.MovementRecord, error) {
	rec, err := w.Prepare(taskID, workspaceID, actorID, from, to)
	if err != nil {
		return domain.MovementRecord{}, err
	}
	return w.Append(ctx, rec)
}

// Prepare validates the transition and assigns the record id and timestamp
// without writing anything.
func (w *MovementWriter) Prepare(taskID, workspaceID, actorID string, from, to domain.Stage) (domain.MovementRecord, error) {
	if taskID == "" || workspaceID == "" || actorID == "" {
		return domain.MovementRecord{}, fmt.Errorf("%w: task, workspace and actor are required", domain.ErrInvalidMove)
	}
	if !from.Valid() || !to.Valid() {
		return domain.MovementRecord{}, fmt.Errorf("%w: %s -> %s", domain.ErrUnknownStage, from, to)
	}
	if from == to {
		return domain.MovementRecord{}, fmt.Errorf("%w: task %s already in %s", domain.ErrInvalidMove, taskID, to)
	}
	return domain.MovementRecord{
		ID:          w.newID(),
		TaskID:      taskID,
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		FromStatus:  from,
		ToStatus:    to,
		CreatedAt:   w.now().UTC(),
	}, nil
}

// Append writes a prepared record once.
func (w *MovementWriter) Append(ctx context.Context, rec domain.MovementRecord) (domain.MovementRecord, error) {
	return w.store.Append(ctx, rec)
}
