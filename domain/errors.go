package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the actor is neither the workspace
	// admin, the task creator nor the assignee. Nothing is written.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidMove covers malformed or stale move requests.
	ErrInvalidMove = errors.New("invalid move")
	// ErrMoveFailed matches every *MoveFailedError.
	ErrMoveFailed = errors.New("move failed")
	// ErrResolutionFailed marks a notification dropped because its task title
	// or actor name could not be resolved.
	ErrResolutionFailed = errors.New("resolution failed")
	// ErrSubscription matches every *SubscriptionError.
	ErrSubscription = errors.New("subscription failed")

	ErrNotFound     = errors.New("not found")
	ErrUnknownStage = errors.New("unknown stage")
)

// MovePhase names the durable write that failed after an optimistic update.
type MovePhase string

const (
	PhaseMovementLog  MovePhase = "movement-log"
	PhaseStatusUpdate MovePhase = "status-update"
)

// MoveFailedError reports a write failure after the optimistic update was
// rolled back locally.
type MoveFailedError struct {
	TaskID     string
	Phase      MovePhase
	RestoredTo Stage
	// Record is set when the movement log write succeeded before the failure.
	Record *MovementRecord
	Err    error
}

func (e *MoveFailedError) Error() string {
	return fmt.Sprintf("move of task %s failed during %s, restored to %s: %v", e.TaskID, e.Phase, e.RestoredTo, e.Err)
}

func (e *MoveFailedError) Unwrap() error { return e.Err }

func (e *MoveFailedError) Is(target error) bool { return target == ErrMoveFailed }

// SubscriptionError reports a workspace channel that could not be opened.
type SubscriptionError struct {
	WorkspaceID string
	Err         error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe to workspace %s: %v", e.WorkspaceID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func (e *SubscriptionError) Is(target error) bool { return target == ErrSubscription }
