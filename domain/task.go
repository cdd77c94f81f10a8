package domain

import "time"

// Task is a board item. Status is the only field this module mutates.
type Task struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Title       string     `json:"title"`
	Status      Stage      `json:"status"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// CanBeMovedBy reports whether actorID may change the task's status.
func (t Task) CanBeMovedBy(actorID, adminID string) bool {
	if actorID == "" {
		return false
	}
	return actorID == adminID || actorID == t.CreatedBy || (t.AssignedTo != "" && actorID == t.AssignedTo)
}

// Workspace carries the fields the board needs about its workspace.
type Workspace struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	AdminID string `json:"adminId"`
}

// WorkspaceMembership links a user to a workspace.
type WorkspaceMembership struct {
	UserID        string `json:"userId"`
	WorkspaceID   string `json:"workspaceId"`
	WorkspaceName string `json:"workspaceName"`
	Role          string `json:"role,omitempty"`
}

const RoleAdmin = "admin"
