package domain

import "time"

// MovementRecord is an immutable log entry for one status transition.
type MovementRecord struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	WorkspaceID string    `json:"workspaceId"`
	ActorID     string    `json:"actorId"`
	FromStatus  Stage     `json:"fromStatus"`
	ToStatus    Stage     `json:"toStatus"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NotificationEvent is the user-facing form of a movement made by someone else.
type NotificationEvent struct {
	ID             string    `json:"id"`
	MovementID     string    `json:"movementId"`
	WorkspaceID    string    `json:"workspaceId"`
	WorkspaceName  string    `json:"workspaceName"`
	TaskID         string    `json:"taskId"`
	ActorID        string    `json:"actorId"`
	Message        string    `json:"message"`
	FromStageLabel string    `json:"fromStageLabel"`
	ToStageLabel   string    `json:"toStageLabel"`
	CreatedAt      time.Time `json:"createdAt"`
}
