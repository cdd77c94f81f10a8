package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// Append adds a movement row. The row is never updated afterwards; appending
// an id twice fails with ErrConflict. When an export queue is configured the
// record is also enqueued for downstream consumers. Export failures are
// logged only.
func (s *Storage) Append(ctx context.Context, rec domain.MovementRecord) (domain.MovementRecord, error) {
	payload, err := sonic.Marshal(newMovementEntity(rec))
	if err != nil {
		return domain.MovementRecord{}, err
	}
	if _, err := s.movementTable.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, 409) {
			return domain.MovementRecord{}, fmt.Errorf("movement %s: %w", rec.ID, ErrConflict)
		}
		return domain.MovementRecord{}, fmt.Errorf("append movement %s: %w", rec.ID, err)
	}
	s.export(ctx, rec)
	return rec, nil
}

func (s *Storage) export(ctx context.Context, rec domain.MovementRecord) {
	if s.exportQueue == nil {
		return
	}
	data, err := sonic.Marshal(rec)
	if err == nil {
		_, err = s.exportQueue.EnqueueMessage(ctx, string(data), nil)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"movement": rec.ID, "workspace": rec.WorkspaceID}).Warn("failed to export movement")
	}
}

// ListMovements returns the movements of a task, oldest first.
func (s *Storage) ListMovements(ctx context.Context, workspaceID, taskID string) ([]domain.MovementRecord, error) {
	filter := "PartitionKey eq " + quote(workspaceID) + " and TaskId eq " + quote(taskID)
	records := []domain.MovementRecord{}
	err := listAll(ctx, s.movementTable, filter, func(data []byte) error {
		var ent movementEntity
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return err
		}
		records = append(records, ent.record())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list movements of %s: %w", taskID, err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}
