package board

import (
	"context"
	"errors"
	"sync"

	"board-sync/domain"
)

type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     []domain.Task
	updates   []domain.Stage
	updateErr error
	// gate, when set, blocks UpdateStatus until it is closed.
	gate chan struct{}
}

func (f *fakeTaskStore) GetTasksByWorkspace(ctx context.Context, workspaceID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		if t.WorkspaceID == workspaceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) UpdateStatus(ctx context.Context, workspaceID, taskID string, status domain.Stage) error {
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, status)
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks[i].Status = status
		}
	}
	return nil
}

func (f *fakeTaskStore) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeMovementLog struct {
	mu        sync.Mutex
	records   []domain.MovementRecord
	appendErr error
	// onAppend runs after a successful append, like a feed delivering the
	// record back before the writer returns.
	onAppend func(domain.MovementRecord)
}

func (f *fakeMovementLog) Append(ctx context.Context, rec domain.MovementRecord) (domain.MovementRecord, error) {
	f.mu.Lock()
	if f.appendErr != nil {
		f.mu.Unlock()
		return domain.MovementRecord{}, f.appendErr
	}
	f.records = append(f.records, rec)
	hook := f.onAppend
	f.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
	return rec, nil
}

func (f *fakeMovementLog) all() []domain.MovementRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MovementRecord(nil), f.records...)
}

type fakeDirectory struct {
	workspaces map[string]domain.Workspace
	calls      int
}

func (f *fakeDirectory) Workspace(ctx context.Context, id string) (domain.Workspace, error) {
	f.calls++
	ws, ok := f.workspaces[id]
	if !ok {
		return domain.Workspace{}, domain.ErrNotFound
	}
	return ws, nil
}

var errWrite = errors.New("write failed")
