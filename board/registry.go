package board

import (
	"context"
	"fmt"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// Registry lazily loads and shares one Board per workspace.
type Registry struct {
	dir    domain.WorkspaceDirectory
	store  domain.TaskStore
	writer *MovementWriter
	logger *log.Logger

	mu     sync.Mutex
	boards map[string]*Board
	onLoad []func(context.Context, domain.Workspace)
}

func NewRegistry(dir domain.WorkspaceDirectory, store domain.TaskStore, writer *MovementWriter, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{dir: dir, store: store, writer: writer, logger: logger, boards: make(map[string]*Board)}
}

// Board returns the loaded board for a workspace.
func (r *Registry) Board(ctx context.Context, workspaceID string) (*Board, error) {
	r.mu.Lock()
	b, ok := r.boards[workspaceID]
	r.mu.Unlock()
	if ok {
		return b, nil
	}

	ws, err := r.dir.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	nb := New(ws, r.store, r.writer, r.logger)
	if err := nb.Load(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if b, ok := r.boards[workspaceID]; ok {
		r.mu.Unlock()
		return b, nil
	}
	r.boards[workspaceID] = nb
	hooks := slices.Clone(r.onLoad)
	r.mu.Unlock()

	r.logger.WithFields(log.Fields{"workspace": workspaceID, "name": ws.Name}).Debug("board loaded")
	for _, fn := range hooks {
		fn(ctx, ws)
	}
	return nb, nil
}

// OnLoad registers fn to run after a board is loaded for the first time.
func (r *Registry) OnLoad(fn func(context.Context, domain.Workspace)) {
	r.mu.Lock()
	r.onLoad = append(r.onLoad, fn)
	r.mu.Unlock()
}

// Memberships lists the loaded workspaces in the form the multiplexer syncs.
func (r *Registry) Memberships() []domain.WorkspaceMembership {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.WorkspaceMembership, 0, len(r.boards))
	for id, b := range r.boards {
		out = append(out, domain.WorkspaceMembership{WorkspaceID: id, WorkspaceName: b.Workspace().Name})
	}
	return out
}

// Observe forwards a remote movement to the board of its workspace, if loaded.
func (r *Registry) Observe(rec domain.MovementRecord) {
	r.mu.Lock()
	b, ok := r.boards[rec.WorkspaceID]
	r.mu.Unlock()
	if ok {
		b.Observe(rec)
	}
}

// Close closes every board, waiting for their in-flight moves.
func (r *Registry) Close() {
	r.mu.Lock()
	boards := make([]*Board, 0, len(r.boards))
	for _, b := range r.boards {
		boards = append(boards, b)
	}
	r.boards = make(map[string]*Board)
	r.mu.Unlock()
	for _, b := range boards {
		b.Close()
	}
}
