package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"board-sync/domain"
)

const tracerName = "board-sync/board"

// ErrClosed is returned by Move once Close has been called.
var ErrClosed = errors.New("board closed")

// ChangeKind describes what happened to a task's local status.
type ChangeKind string

const (
	ChangeApplied    ChangeKind = "applied"
	ChangeCommitted  ChangeKind = "committed"
	ChangeRolledBack ChangeKind = "rolled-back"
	ChangeObserved   ChangeKind = "observed"
)

// Change is reported to listeners whenever the local view of a task changes
// or a pending move is confirmed.
type Change struct {
	Kind   ChangeKind
	Task   domain.Task
	From   domain.Stage
	To     domain.Stage
	Record *domain.MovementRecord
}

// Column is one stage of the board with its tasks.
type Column struct {
	Stage domain.Stage  `json:"stage"`
	Label string        `json:"label"`
	Tasks []domain.Task `json:"tasks"`
}

type taskState struct {
	task    domain.Task
	version uint64
	pending int
	// lastOwn is the id of the latest record written by a local move.
	lastOwn string
	// remote is the latest record from elsewhere seen while local moves were
	// pending. supersededBy names a local record that followed it on the feed.
	remote       *domain.MovementRecord
	supersededBy string
}

// ownRecord is a movement written by this board, tracked until its echo
// arrives from the feed.
type ownRecord struct {
	to        domain.Stage
	committed bool
}

// pendingMove is the local half of a two-phase move: it is applied
// optimistically and later either committed or rolled back.
type pendingMove struct {
	taskID  string
	actorID string
	from    domain.Stage
	to      domain.Stage
	version uint64
}

// Board holds the in-memory tasks of one workspace and is the only mutator of
// their status.
type Board struct {
	workspace domain.Workspace
	store     domain.TaskStore
	writer    *MovementWriter
	logger    *log.Logger

	mu        sync.Mutex
	tasks     map[string]*taskState
	own       map[string]ownRecord
	listeners []func(Change)
	closed    bool
	inflight  sync.WaitGroup
}

// New creates an empty board. Call Load to populate it.
func New(ws domain.Workspace, store domain.TaskStore, writer *MovementWriter, logger *log.Logger) *Board {
	if store == nil || writer == nil {
		panic("board.New: task store and movement writer are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Board{
		workspace: ws,
		store:     store,
		writer:    writer,
		logger:    logger,
		tasks:     make(map[string]*taskState),
		own:       make(map[string]ownRecord),
	}
}

func (b *Board) Workspace() domain.Workspace { return b.workspace }

// Load replaces the local view with the durable tasks of the workspace. Tasks
// carrying an unknown status are skipped.
func (b *Board) Load(ctx context.Context) error {
	tasks, err := b.store.GetTasksByWorkspace(ctx, b.workspace.ID)
	if err != nil {
		return fmt.Errorf("load tasks for workspace %s: %w", b.workspace.ID, err)
	}
	next := make(map[string]*taskState, len(tasks))
	for _, t := range tasks {
		if !t.Status.Valid() {
			b.logger.WithFields(log.Fields{"workspace": b.workspace.ID, "task": t.ID, "status": t.Status}).Warn("skipping task with unknown status")
			continue
		}
		next[t.ID] = &taskState{task: t}
	}
	b.mu.Lock()
	b.tasks = next
	b.mu.Unlock()
	return nil
}

// OnChange registers a listener. Listeners run with the board lock held and
// must not call back into the board.
func (b *Board) OnChange(fn func(Change)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Task returns the current local view of a task.
func (b *Board) Task(id string) (domain.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return st.task, true
}

// Snapshot returns the tasks grouped by stage in board order.
func (b *Board) Snapshot() []Column {
	b.mu.Lock()
	cols := make([]Column, len(domain.Stages))
	for i, s := range domain.Stages {
		cols[i] = Column{Stage: s, Label: s.Label(), Tasks: []domain.Task{}}
	}
	for _, st := range b.tasks {
		i := st.task.Status.Index()
		cols[i].Tasks = append(cols[i].Tasks, st.task)
	}
	b.mu.Unlock()
	for _, c := range cols {
		sort.Slice(c.Tasks, func(i, j int) bool { return c.Tasks[i].ID < c.Tasks[j].ID })
	}
	return cols
}

// Move changes a task's status optimistically, then records the movement and
// persists the new status. If either write fails the local status is rolled
// back and a *domain.MoveFailedError is returned.
//
// The durable writes are detached from ctx: once the optimistic update has
// been applied the move always runs to commit or rollback, even if the caller
// goes away.
func (b *Board) Move(ctx context.Context, taskID string, from, to domain.Stage, actorID string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "board.move", trace.WithAttributes(
		attribute.String("board.workspace_id", b.workspace.ID),
		attribute.String("board.task_id", taskID),
		attribute.String("board.from", string(from)),
		attribute.String("board.to", string(to)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	mv, err := b.apply(taskID, from, to, actorID)
	if err != nil {
		return err
	}
	defer b.inflight.Done()

	wctx := context.WithoutCancel(ctx)
	rec, err := b.writer.Prepare(taskID, b.workspace.ID, actorID, from, to)
	if err != nil {
		return b.rollback(mv, domain.PhaseMovementLog, nil, err)
	}
	// the echo of rec may reach Observe before Append returns
	b.remember(rec)
	if _, err := b.writer.Append(wctx, rec); err != nil {
		b.forget(rec.ID)
		return b.rollback(mv, domain.PhaseMovementLog, nil, err)
	}
	if err := b.store.UpdateStatus(wctx, b.workspace.ID, taskID, to); err != nil {
		return b.rollback(mv, domain.PhaseStatusUpdate, &rec, err)
	}
	b.commit(mv, rec)
	return nil
}

func (b *Board) apply(taskID string, from, to domain.Stage, actorID string) (pendingMove, error) {
	if !from.Valid() || !to.Valid() {
		return pendingMove{}, fmt.Errorf("%w: %w", domain.ErrInvalidMove, domain.ErrUnknownStage)
	}
	if from == to {
		return pendingMove{}, fmt.Errorf("%w: source and target stage are both %s", domain.ErrInvalidMove, to)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pendingMove{}, ErrClosed
	}
	st, ok := b.tasks[taskID]
	if !ok {
		return pendingMove{}, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if !st.task.CanBeMovedBy(actorID, b.workspace.AdminID) {
		b.logger.WithFields(log.Fields{"workspace": b.workspace.ID, "task": taskID, "actor": actorID}).Info("move rejected")
		return pendingMove{}, domain.ErrPermissionDenied
	}
	if st.task.Status != from {
		return pendingMove{}, fmt.Errorf("%w: task %s is in %s, not %s", domain.ErrInvalidMove, taskID, st.task.Status, from)
	}

	st.task.Status = to
	st.version++
	st.pending++
	b.inflight.Add(1)
	b.emitLocked(Change{Kind: ChangeApplied, Task: st.task, From: from, To: to})
	return pendingMove{taskID: taskID, actorID: actorID, from: from, to: to, version: st.version}, nil
}

func (b *Board) commit(mv pendingMove, rec domain.MovementRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.tasks[mv.taskID]
	if !ok {
		return
	}
	if o, mine := b.own[rec.ID]; mine {
		o.committed = true
		b.own[rec.ID] = o
	}
	st.pending--
	b.emitLocked(Change{Kind: ChangeCommitted, Task: st.task, From: mv.from, To: mv.to, Record: &rec})
	b.settleLocked(st, rec.ID)
}

// rollback restores the pre-move status unless a later local move has
// already replaced the optimistic value. A remote record held back during the
// move is applied afterwards.
func (b *Board) rollback(mv pendingMove, phase domain.MovePhase, rec *domain.MovementRecord, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	fields := log.Fields{"workspace": b.workspace.ID, "task": mv.taskID, "from": mv.from, "to": mv.to, "phase": phase}
	restored := mv.from
	if st, ok := b.tasks[mv.taskID]; ok {
		st.pending--
		if st.version == mv.version {
			st.task.Status = mv.from
			st.version++
			b.emitLocked(Change{Kind: ChangeRolledBack, Task: st.task, From: mv.to, To: mv.from, Record: rec})
		} else {
			b.logger.WithFields(fields).Warn("move superseded locally, skipping rollback")
		}
		b.settleLocked(st, "")
		restored = st.task.Status
	}
	b.logger.WithError(cause).WithFields(fields).Error("move failed, local status rolled back")
	return &domain.MoveFailedError{TaskID: mv.taskID, Phase: phase, RestoredTo: restored, Record: rec, Err: cause}
}

// Observe applies a movement seen on the workspace feed; the last observed
// write wins. A record from elsewhere arriving while a local move of the same
// task is pending is held back and applied once the task settles. The echo of
// a local record that committed reasserts it, since it came later on the feed
// than anything applied before it.
func (b *Board) Observe(rec domain.MovementRecord) {
	if rec.WorkspaceID != b.workspace.ID || !rec.ToStatus.Valid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.tasks[rec.TaskID]
	if o, mine := b.own[rec.ID]; mine {
		delete(b.own, rec.ID)
		if ok {
			b.observeOwnLocked(st, rec, o)
		}
		return
	}
	if !ok {
		return
	}
	if st.pending > 0 {
		r := rec
		st.remote, st.supersededBy = &r, ""
		return
	}
	b.observeLocked(st, rec, rec.ToStatus)
}

func (b *Board) observeOwnLocked(st *taskState, rec domain.MovementRecord, o ownRecord) {
	if st.pending > 0 {
		if st.remote != nil {
			if o.committed {
				st.remote, st.supersededBy = nil, ""
			} else {
				st.supersededBy = rec.ID
			}
		}
		return
	}
	if o.committed && st.lastOwn == rec.ID {
		b.observeLocked(st, rec, o.to)
	}
}

func (b *Board) observeLocked(st *taskState, rec domain.MovementRecord, to domain.Stage) {
	if st.task.Status == to {
		return
	}
	prev := st.task.Status
	st.task.Status = to
	st.version++
	r := rec
	b.emitLocked(Change{Kind: ChangeObserved, Task: st.task, From: prev, To: to, Record: &r})
}

// settleLocked applies the held-back remote record once no local move of the
// task is pending. It is dropped when committed names a local record that
// followed it on the feed.
func (b *Board) settleLocked(st *taskState, committed string) {
	if st.pending > 0 || st.remote == nil {
		return
	}
	rec := *st.remote
	superseded := committed != "" && st.supersededBy == committed
	st.remote, st.supersededBy = nil, ""
	if !superseded {
		b.observeLocked(st, rec, rec.ToStatus)
	}
}

const maxOwnRecords = 1024

func (b *Board) remember(rec domain.MovementRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.own) >= maxOwnRecords {
		for k := range b.own {
			delete(b.own, k)
			break
		}
	}
	b.own[rec.ID] = ownRecord{to: rec.ToStatus}
	if st, ok := b.tasks[rec.TaskID]; ok {
		st.lastOwn = rec.ID
	}
}

func (b *Board) forget(id string) {
	b.mu.Lock()
	delete(b.own, id)
	b.mu.Unlock()
}

func (b *Board) emitLocked(c Change) {
	for _, fn := range b.listeners {
		fn(c)
	}
}

// Close rejects new moves and waits for in-flight ones to finish.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
}
