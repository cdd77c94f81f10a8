package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"board-sync/domain"
)

// GetTasksByWorkspace retrieves all tasks of a workspace.
func (s *Storage) GetTasksByWorkspace(ctx context.Context, workspaceID string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := listAll(ctx, s.taskTable, "PartitionKey eq "+quote(workspaceID), func(data []byte) error {
		var ent taskEntity
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return err
		}
		tasks = append(tasks, ent.task())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", workspaceID, err)
	}
	return tasks, nil
}

// GetTask retrieves one task.
func (s *Storage) GetTask(ctx context.Context, workspaceID, taskID string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, workspaceID, taskID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return domain.Task{}, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.task(), nil
}

// UpdateStatus merges the new status into an existing task row.
func (s *Storage) UpdateStatus(ctx context.Context, workspaceID, taskID string, status domain.Stage) error {
	payload, err := sonic.Marshal(taskStatusUpdate{
		Entity: Entity{PartitionKey: workspaceID, RowKey: taskID},
		Status: string(status),
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isStatus(err, 404) {
			return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
		}
		return fmt.Errorf("update status of %s: %w", taskID, err)
	}
	return nil
}

// UpsertTask creates or replaces a task row.
func (s *Storage) UpsertTask(ctx context.Context, t domain.Task) error {
	payload, err := sonic.Marshal(newTaskEntity(t))
	if err == nil {
		_, err = s.taskTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// TaskTitle implements domain.IdentityResolver.
func (s *Storage) TaskTitle(ctx context.Context, workspaceID, taskID string) (string, error) {
	t, err := s.GetTask(ctx, workspaceID, taskID)
	if err != nil {
		return "", err
	}
	return t.Title, nil
}
