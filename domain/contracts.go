package domain

import "context"

// TaskStore is the durable task store.
type TaskStore interface {
	GetTasksByWorkspace(ctx context.Context, workspaceID string) ([]Task, error)
	UpdateStatus(ctx context.Context, workspaceID, taskID string, status Stage) error
}

// MovementLogStore appends movement records. Implementations never update or
// delete a record once appended.
type MovementLogStore interface {
	Append(ctx context.Context, rec MovementRecord) (MovementRecord, error)
}

// Subscription is a live change-feed channel for one workspace. Close is the
// unsubscribe operation.
type Subscription interface {
	WorkspaceID() string
	Close() error
}

// ChangeFeed delivers movement-log inserts for a workspace.
type ChangeFeed interface {
	Subscribe(ctx context.Context, workspaceID string, onInsert func(MovementRecord)) (Subscription, error)
}

type MembershipResolver interface {
	WorkspacesForUser(ctx context.Context, userID string) ([]WorkspaceMembership, error)
}

type IdentityResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
	TaskTitle(ctx context.Context, workspaceID, taskID string) (string, error)
}

type WorkspaceDirectory interface {
	Workspace(ctx context.Context, workspaceID string) (Workspace, error)
}
