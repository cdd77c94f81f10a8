package main

import (
	"strings"
	"testing"
	"time"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/notify"
)

func TestRenderBoard(t *testing.T) {
	out := renderBoard(boardView{
		Workspace: domain.Workspace{ID: "ws1", Name: "Launch"},
		Columns: []board.Column{
			{Stage: domain.StagePlanning, Label: "Planning", Tasks: []domain.Task{{ID: "t1", Title: "Plan"}}},
			{Stage: domain.StageOnHold, Label: "On Hold"},
		},
	})
	for _, want := range []string{"Launch", "Planning (1)", "On Hold (0)", "Plan", "t1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in\n%s", want, out)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	if out := renderHistory(notifications{}); !strings.Contains(out, "no notifications") {
		t.Fatalf("unexpected empty history %q", out)
	}
	out := renderHistory(notifications{Unread: 1, Items: []notify.HistoryItem{
		{NotificationEvent: domain.NotificationEvent{Message: "Alice moved it", CreatedAt: time.Now()}},
		{NotificationEvent: domain.NotificationEvent{Message: "Bob moved it", CreatedAt: time.Now()}, Read: true},
	}})
	if !strings.Contains(out, "1 unread") || !strings.Contains(out, "• ") || !strings.Contains(out, "Bob moved it") {
		t.Fatalf("unexpected history\n%s", out)
	}
}

func TestRenderToastChange(t *testing.T) {
	ev := domain.NotificationEvent{Message: "Alice moved it", WorkspaceName: "Launch"}
	shown := renderToastChange(notify.ToastChange{State: notify.ToastVisible, Toast: notify.Toast{Event: ev, TTL: 5100 * time.Millisecond}})
	if !strings.Contains(shown, "Alice moved it") || !strings.Contains(shown, "5.1s") {
		t.Fatalf("unexpected toast\n%s", shown)
	}
	if out := renderToastChange(notify.ToastChange{State: notify.ToastDismissed, Toast: notify.Toast{Event: ev}}); !strings.HasPrefix(out, "dismissed:") {
		t.Fatalf("unexpected dismissed line %q", out)
	}
}

func TestRenderMovements(t *testing.T) {
	out := renderMovements([]domain.MovementRecord{{
		FromStatus: domain.StagePlanning, ToStatus: domain.StageAtRisk, ActorID: "u-alice", CreatedAt: time.Now(),
	}})
	if !strings.Contains(out, "Planning") || !strings.Contains(out, "At Risk") || !strings.Contains(out, "u-alice") {
		t.Fatalf("unexpected movements %q", out)
	}
}
