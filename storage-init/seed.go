package main

import (
	"context"
	"fmt"
	"time"

	"board-sync/domain"
)

type seeder interface {
	UpsertWorkspace(ctx context.Context, ws domain.Workspace) error
	UpsertMembership(ctx context.Context, m domain.WorkspaceMembership) error
	UpsertProfile(ctx context.Context, userID, displayName, email string) error
	UpsertTask(ctx context.Context, t domain.Task) error
}

var demoWorkspace = domain.Workspace{ID: "demo", Name: "Demo launch", AdminID: "demo-admin"}

var demoProfiles = []struct {
	id, name, email string
	role            string
}{
	{id: "demo-admin", name: "Dana Admin", email: "dana@example.com", role: domain.RoleAdmin},
	{id: "demo-alice", name: "Alice", email: "alice@example.com"},
	{id: "demo-bob", name: "Bob", email: "bob@example.com"},
}

// seedDemo writes a small workspace with one task per stage. Running it again
// overwrites the same rows.
func seedDemo(ctx context.Context, s seeder) error {
	if err := s.UpsertWorkspace(ctx, demoWorkspace); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	for _, p := range demoProfiles {
		if err := s.UpsertProfile(ctx, p.id, p.name, p.email); err != nil {
			return fmt.Errorf("profile %s: %w", p.id, err)
		}
		m := domain.WorkspaceMembership{UserID: p.id, WorkspaceID: demoWorkspace.ID, WorkspaceName: demoWorkspace.Name, Role: p.role}
		if err := s.UpsertMembership(ctx, m); err != nil {
			return fmt.Errorf("membership %s: %w", p.id, err)
		}
	}
	due := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Hour)
	for i, st := range domain.Stages {
		t := domain.Task{
			ID:          fmt.Sprintf("demo-task-%d", i+1),
			WorkspaceID: demoWorkspace.ID,
			Title:       st.Label() + " example",
			Status:      st,
			CreatedBy:   "demo-admin",
			AssignedTo:  demoProfiles[1+i%2].id,
		}
		if i == 0 {
			t.DueDate = &due
		}
		if err := s.UpsertTask(ctx, t); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return nil
}
