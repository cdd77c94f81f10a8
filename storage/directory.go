package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"

	"board-sync/domain"
)

// Workspace implements domain.WorkspaceDirectory.
func (s *Storage) Workspace(ctx context.Context, workspaceID string) (domain.Workspace, error) {
	resp, err := s.workspaceTable.GetEntity(ctx, workspaceID, workspaceID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return domain.Workspace{}, fmt.Errorf("workspace %s: %w", workspaceID, domain.ErrNotFound)
		}
		return domain.Workspace{}, err
	}
	var ent workspaceEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Workspace{}, err
	}
	return domain.Workspace{ID: ent.RowKey, Name: ent.Name, AdminID: ent.AdminID}, nil
}

// UpsertWorkspace creates or replaces a workspace row.
func (s *Storage) UpsertWorkspace(ctx context.Context, ws domain.Workspace) error {
	payload, err := sonic.Marshal(workspaceEntity{
		Entity:  Entity{PartitionKey: ws.ID, RowKey: ws.ID},
		Name:    ws.Name,
		AdminID: ws.AdminID,
	})
	if err == nil {
		_, err = s.workspaceTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// WorkspacesForUser implements domain.MembershipResolver. Memberships are
// returned sorted by workspace id.
func (s *Storage) WorkspacesForUser(ctx context.Context, userID string) ([]domain.WorkspaceMembership, error) {
	out := []domain.WorkspaceMembership{}
	err := listAll(ctx, s.memberTable, "PartitionKey eq "+quote(userID), func(data []byte) error {
		var ent memberEntity
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return err
		}
		out = append(out, domain.WorkspaceMembership{
			UserID:        ent.PartitionKey,
			WorkspaceID:   ent.RowKey,
			WorkspaceName: ent.WorkspaceName,
			Role:          ent.Role,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list memberships of %s: %w", userID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out, nil
}

func (s *Storage) UpsertMembership(ctx context.Context, m domain.WorkspaceMembership) error {
	payload, err := sonic.Marshal(memberEntity{
		Entity:        Entity{PartitionKey: m.UserID, RowKey: m.WorkspaceID},
		WorkspaceName: m.WorkspaceName,
		Role:          m.Role,
	})
	if err == nil {
		_, err = s.memberTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// DisplayName implements domain.IdentityResolver.
func (s *Storage) DisplayName(ctx context.Context, userID string) (string, error) {
	resp, err := s.profileTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return "", fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
		}
		return "", err
	}
	var ent profileEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return "", err
	}
	if ent.DisplayName == "" {
		return "", fmt.Errorf("profile %s has no display name: %w", userID, domain.ErrNotFound)
	}
	return ent.DisplayName, nil
}

func (s *Storage) UpsertProfile(ctx context.Context, userID, displayName, email string) error {
	payload, err := sonic.Marshal(profileEntity{
		Entity:      Entity{PartitionKey: userID, RowKey: userID},
		DisplayName: displayName,
		Email:       email,
	})
	if err == nil {
		_, err = s.profileTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}
