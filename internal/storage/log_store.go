package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendLog writes one instance log record.
func (s *GormStore) AppendLog(ctx context.Context, entry *InstanceLog) error {
	instID, err := uuid.Parse(entry.InstanceID)
	if err != nil {
		return fmt.Errorf("invalid instance ID: %w", err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	model := &InstanceLogModel{
		ID:         uuid.New(),
		InstanceID: instID,
		Timestamp:  ts,
		Level:      entry.Level,
		LogType:    entry.LogType,
		TaskID:     entry.TaskID,
		Message:    entry.Message,
		Details:    JSONB(entry.Details),
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append instance log: %w", err)
	}
	return nil
}

// ListLogs returns the newest log records of an instance.
func (s *GormStore) ListLogs(ctx context.Context, instanceID string, limit int) ([]*InstanceLog, error) {
	instID, err := uuid.Parse(instanceID)
	if err != nil {
		return nil, fmt.Errorf("invalid instance ID: %w", err)
	}

	query := s.db.WithContext(ctx).
		Where("instance_id = ?", instID).
		Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var logModels []InstanceLogModel
	if err := query.Find(&logModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list instance logs: %w", err)
	}

	logs := make([]*InstanceLog, 0, len(logModels))
	for i := range logModels {
		m := &logModels[i]
		logs = append(logs, &InstanceLog{
			InstanceID: m.InstanceID.String(),
			Timestamp:  m.Timestamp,
			Level:      m.Level,
			LogType:    m.LogType,
			TaskID:     m.TaskID,
			Message:    m.Message,
			Details:    map[string]interface{}(m.Details),
		})
	}
	return logs, nil
}
