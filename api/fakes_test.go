package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/notify"
)

const (
	wsID     = "ws1"
	admin    = "u-admin"
	alice    = "u-alice"
	bob      = "u-bob"
	stranger = "u-stranger"
)

var (
	testSecret = []byte("test-secret")
	errWrite   = errors.New("write failed")
)

type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     []domain.Task
	updateErr error
}

func (f *fakeTaskStore) GetTasksByWorkspace(ctx context.Context, workspaceID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Task
	for _, t := range f.tasks {
		if t.WorkspaceID == workspaceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) UpdateStatus(ctx context.Context, workspaceID, taskID string, status domain.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks[i].Status = status
		}
	}
	return nil
}

func (f *fakeTaskStore) status(taskID string) domain.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == taskID {
			return t.Status
		}
	}
	return ""
}

type fakeMovementLog struct {
	mu      sync.Mutex
	records []domain.MovementRecord
}

func (f *fakeMovementLog) Append(ctx context.Context, rec domain.MovementRecord) (domain.MovementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeMovementLog) ListMovements(ctx context.Context, workspaceID, taskID string) ([]domain.MovementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MovementRecord
	for _, r := range f.records {
		if r.WorkspaceID == workspaceID && r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeDirectory map[string]domain.Workspace

func (f fakeDirectory) Workspace(ctx context.Context, id string) (domain.Workspace, error) {
	ws, ok := f[id]
	if !ok {
		return domain.Workspace{}, domain.ErrNotFound
	}
	return ws, nil
}

type stubMembers struct {
	mu     sync.Mutex
	byUser map[string][]string
	err    error
	// gates block lookups for a user until closed.
	gates map[string]chan struct{}
}

func (m *stubMembers) WorkspacesForUser(ctx context.Context, userID string) ([]domain.WorkspaceMembership, error) {
	m.mu.Lock()
	gate := m.gates[userID]
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.WorkspaceMembership
	for _, id := range m.byUser[userID] {
		out = append(out, domain.WorkspaceMembership{UserID: userID, WorkspaceID: id, WorkspaceName: "Launch"})
	}
	return out, nil
}

type stubIdentity struct{}

func (stubIdentity) DisplayName(ctx context.Context, userID string) (string, error) {
	switch userID {
	case alice:
		return "Alice", nil
	case bob:
		return "Bob", nil
	}
	return "", domain.ErrNotFound
}

func (stubIdentity) TaskTitle(ctx context.Context, workspaceID, taskID string) (string, error) {
	if taskID == "t1" {
		return "Write launch plan", nil
	}
	return "", domain.ErrNotFound
}

type stubFeed struct {
	mu       sync.Mutex
	handlers map[string]func(domain.MovementRecord)
	fail     map[string]bool
}

func newStubFeed() *stubFeed {
	return &stubFeed{handlers: map[string]func(domain.MovementRecord){}, fail: map[string]bool{}}
}

type stubSub struct {
	f  *stubFeed
	ws string
}

func (s stubSub) WorkspaceID() string { return s.ws }

func (s stubSub) Close() error {
	s.f.mu.Lock()
	delete(s.f.handlers, s.ws)
	s.f.mu.Unlock()
	return nil
}

func (f *stubFeed) Subscribe(ctx context.Context, ws string, onInsert func(domain.MovementRecord)) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[ws] {
		return nil, &domain.SubscriptionError{WorkspaceID: ws, Err: errors.New("refused")}
	}
	f.handlers[ws] = onInsert
	return stubSub{f: f, ws: ws}, nil
}

func (f *stubFeed) publish(rec domain.MovementRecord) {
	f.mu.Lock()
	h := f.handlers[rec.WorkspaceID]
	f.mu.Unlock()
	if h != nil {
		h(rec)
	}
}

func (f *stubFeed) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type testEnv struct {
	e        *echo.Echo
	store    *fakeTaskStore
	mlog     *fakeMovementLog
	feed     *stubFeed
	members  *stubMembers
	sessions *Sessions
	hook     *test.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	env := &testEnv{
		store: &fakeTaskStore{tasks: []domain.Task{{
			ID: "t1", WorkspaceID: wsID, Title: "Write launch plan",
			Status: domain.StagePlanning, AssignedTo: alice, CreatedBy: admin,
		}}},
		mlog: &fakeMovementLog{},
		feed: newStubFeed(),
		members: &stubMembers{byUser: map[string][]string{
			admin: {wsID}, alice: {wsID}, bob: {wsID},
		}},
		hook: hook,
	}
	dir := fakeDirectory{wsID: {ID: wsID, Name: "Launch", AdminID: admin}}
	reg := board.NewRegistry(dir, env.store, board.NewMovementWriter(env.mlog), logger)
	t.Cleanup(reg.Close)

	env.sessions = NewSessions(func() *notify.Service {
		return notify.NewService(env.feed, env.members, stubIdentity{}, nil, notify.ServiceConfig{}, logger)
	}, logger)
	t.Cleanup(env.sessions.Close)

	env.e = echo.New()
	Register(env.e, Deps{
		Boards:    reg,
		Members:   env.members,
		Movements: env.mlog,
		Sessions:  env.sessions,
		Auth:      NewTestAuth(testSecret),
		Logger:    logger,
		Heartbeat: time.Hour,
	})
	return env
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func tokenFor(t *testing.T, sub string) string {
	return signToken(t, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()})
}

func (env *testEnv) do(t *testing.T, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tokenFor(t, user))
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func movement(id, actor string) domain.MovementRecord {
	return domain.MovementRecord{
		ID:          id,
		TaskID:      "t1",
		WorkspaceID: wsID,
		ActorID:     actor,
		FromStatus:  domain.StagePlanning,
		ToStatus:    domain.StageInProgress,
		CreatedAt:   time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
