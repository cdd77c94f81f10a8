package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bytedance/sonic"

	"board-sync/domain"
)

func TestGetBoardReturnsColumns(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/workspaces/ws1/board", "", alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Workspace.Name != "Launch" || len(resp.Columns) != len(domain.Stages) {
		t.Fatalf("unexpected board %+v", resp)
	}
	if resp.Columns[0].Stage != domain.StagePlanning || len(resp.Columns[0].Tasks) != 1 {
		t.Fatalf("expected t1 in planning, got %+v", resp.Columns[0])
	}
}

func TestWorkspaceRoutesRequireMembership(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/api/workspaces/ws1/board", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/workspaces/ws1/board", "", stranger); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", rec.Code)
	}
	body := `{"from":"planning","to":"in_progress"}`
	if rec := env.do(t, http.MethodPost, "/api/workspaces/ws1/tasks/t1/move", body, stranger); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member move, got %d", rec.Code)
	}
	if len(env.mlog.records) != 0 {
		t.Fatalf("no movement must be written")
	}

	env.members.err = errors.New("directory down")
	if rec := env.do(t, http.MethodGet, "/api/workspaces/ws1/board", "", alice); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when memberships fail, got %d", rec.Code)
	}
}

func TestPostMoveByAssignee(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/workspaces/ws1/tasks/t1/move", `{"from":"planning","to":"in_progress"}`, alice)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.store.status("t1"); got != domain.StageInProgress {
		t.Fatalf("expected persisted status in_progress, got %s", got)
	}
	if len(env.mlog.records) != 1 || env.mlog.records[0].ActorID != alice {
		t.Fatalf("unexpected movement log %+v", env.mlog.records)
	}

	var logged bool
	for _, e := range env.hook.AllEntries() {
		if e.Message == "move.request.metrics" && e.Data["status"] == http.StatusNoContent && e.Data["to"] == "in_progress" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("expected move metrics to be logged")
	}

	recs := env.do(t, http.MethodGet, "/api/workspaces/ws1/tasks/t1/movements", "", bob)
	if recs.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recs.Code)
	}
	var list []domain.MovementRecord
	if err := sonic.Unmarshal(recs.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(list) != 1 || list[0].ToStatus != domain.StageInProgress {
		t.Fatalf("unexpected movements %+v", list)
	}
}

func TestPostMoveErrors(t *testing.T) {
	tests := []struct {
		name   string
		task   string
		body   string
		user   string
		status int
	}{
		{name: "unknown stage", task: "t1", body: `{"from":"planning","to":"done"}`, user: alice, status: http.StatusBadRequest},
		{name: "unknown field", task: "t1", body: `{"from":"planning","to":"on_hold","x":1}`, user: alice, status: http.StatusBadRequest},
		{name: "same stage", task: "t1", body: `{"from":"planning","to":"planning"}`, user: alice, status: http.StatusBadRequest},
		{name: "stale source", task: "t1", body: `{"from":"on_hold","to":"completed"}`, user: alice, status: http.StatusBadRequest},
		{name: "not permitted", task: "t1", body: `{"from":"planning","to":"in_progress"}`, user: bob, status: http.StatusForbidden},
		{name: "unknown task", task: "t9", body: `{"from":"planning","to":"in_progress"}`, user: admin, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/workspaces/ws1/tasks/"+tt.task+"/move", tt.body, tt.user)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if len(env.mlog.records) != 0 {
				t.Fatalf("rejected move must not be logged")
			}
		})
	}
}

func TestPostMoveRollbackReportsRestoredStage(t *testing.T) {
	env := newTestEnv(t)
	env.store.updateErr = errWrite

	rec := env.do(t, http.MethodPost, "/api/workspaces/ws1/tasks/t1/move", `{"from":"planning","to":"completed"}`, admin)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp moveFailedResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Phase != domain.PhaseStatusUpdate || resp.RestoredTo != domain.StagePlanning {
		t.Fatalf("unexpected failure body %+v", resp)
	}

	board := env.do(t, http.MethodGet, "/api/workspaces/ws1/board", "", admin)
	var snap boardResponse
	if err := sonic.Unmarshal(board.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(snap.Columns[0].Tasks) != 1 {
		t.Fatalf("expected t1 back in planning, got %+v", snap.Columns)
	}
}

func TestUnknownWorkspaceIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.members.byUser[alice] = append(env.members.byUser[alice], "ws-gone")
	if rec := env.do(t, http.MethodGet, "/api/workspaces/ws-gone/board", "", alice); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNotificationsWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/notifications", "", bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp notificationsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Items) != 0 || resp.Unread != 0 {
		t.Fatalf("expected empty history, got %+v", resp)
	}
	if rec := env.do(t, http.MethodPost, "/api/notifications/read", "", bob); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without session, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/toasts/x", "", bob); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without session, got %d", rec.Code)
	}
}

func TestNotificationsFlow(t *testing.T) {
	env := newTestEnv(t)
	svc, err := env.sessions.Acquire(context.Background(), bob)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer env.sessions.Release(bob)

	env.feed.publish(movement("m1", alice))
	waitFor(t, func() bool { return svc.History().Len() == 1 && len(svc.Toasts().Active()) == 1 })

	rec := env.do(t, http.MethodGet, "/api/notifications", "", bob)
	var resp notificationsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Unread != 1 || len(resp.Items) != 1 {
		t.Fatalf("unexpected notifications %+v", resp)
	}
	want := `Alice moved "Write launch plan" from Planning to In Progress`
	if resp.Items[0].Message != want {
		t.Fatalf("unexpected message %q", resp.Items[0].Message)
	}

	toastID := svc.Toasts().Active()[0].Event.ID
	if rec := env.do(t, http.MethodDelete, "/api/toasts/"+toastID, "", bob); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/toasts/"+toastID, "", bob); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for dismissed toast, got %d", rec.Code)
	}

	read := env.do(t, http.MethodPost, "/api/notifications/read", `{"ids":["`+resp.Items[0].ID+`"]}`, bob)
	var marked markReadResponse
	if err := sonic.Unmarshal(read.Body.Bytes(), &marked); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if marked.Marked != 1 || svc.History().Unread() != 0 {
		t.Fatalf("expected one notification marked read, got %+v", marked)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
