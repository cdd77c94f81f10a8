package storage

import (
	"time"

	"board-sync/domain"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const EdmDateTime = "Edm.DateTime"

// taskEntity is a task row. Partition: workspace id, row: task id.
type taskEntity struct {
	Entity
	Title       string     `json:"Title"`
	Status      string     `json:"Status"`
	AssignedTo  string     `json:"AssignedTo,omitempty"`
	CreatedBy   string     `json:"CreatedBy"`
	DueDate     *time.Time `json:"DueDate,omitempty"`
	DueDateType string     `json:"DueDate@odata.type,omitempty"`
}

type taskStatusUpdate struct {
	Entity
	Status string `json:"Status"`
}

// movementEntity is a movement log row. Partition: workspace id, row:
// movement id. Rows are only ever added.
type movementEntity struct {
	Entity
	TaskID        string    `json:"TaskId"`
	ActorID       string    `json:"ActorId"`
	FromStatus    string    `json:"FromStatus"`
	ToStatus      string    `json:"ToStatus"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

// workspaceEntity uses the workspace id as both keys.
type workspaceEntity struct {
	Entity
	Name    string `json:"Name"`
	AdminID string `json:"AdminId"`
}

// memberEntity lists a workspace for a user. Partition: user id, row:
// workspace id.
type memberEntity struct {
	Entity
	WorkspaceName string `json:"WorkspaceName"`
	Role          string `json:"Role,omitempty"`
}

// profileEntity uses the user id as both keys.
type profileEntity struct {
	Entity
	DisplayName string `json:"DisplayName"`
	Email       string `json:"Email,omitempty"`
}

func newTaskEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:     Entity{PartitionKey: t.WorkspaceID, RowKey: t.ID},
		Title:      t.Title,
		Status:     string(t.Status),
		AssignedTo: t.AssignedTo,
		CreatedBy:  t.CreatedBy,
	}
	if t.DueDate != nil {
		due := t.DueDate.UTC()
		ent.DueDate = &due
		ent.DueDateType = EdmDateTime
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		WorkspaceID: e.PartitionKey,
		Title:       e.Title,
		Status:      domain.Stage(e.Status),
		AssignedTo:  e.AssignedTo,
		CreatedBy:   e.CreatedBy,
		DueDate:     e.DueDate,
	}
}

func newMovementEntity(rec domain.MovementRecord) movementEntity {
	return movementEntity{
		Entity:        Entity{PartitionKey: rec.WorkspaceID, RowKey: rec.ID},
		TaskID:        rec.TaskID,
		ActorID:       rec.ActorID,
		FromStatus:    string(rec.FromStatus),
		ToStatus:      string(rec.ToStatus),
		CreatedAt:     rec.CreatedAt.UTC(),
		CreatedAtType: EdmDateTime,
	}
}

func (e movementEntity) record() domain.MovementRecord {
	return domain.MovementRecord{
		ID:          e.RowKey,
		TaskID:      e.TaskID,
		WorkspaceID: e.PartitionKey,
		ActorID:     e.ActorID,
		FromStatus:  domain.Stage(e.FromStatus),
		ToStatus:    domain.Stage(e.ToStatus),
		CreatedAt:   e.CreatedAt,
	}
}
