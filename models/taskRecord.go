package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/utils"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskStatusQueued         TaskStatus = "QUEUED"
	TaskStatusRunning        TaskStatus = "RUNNING"
	TaskStatusSucceeded      TaskStatus = "SUCCEEDED"
	TaskStatusRetryScheduled TaskStatus = "RETRY_SCHEDULED"
	TaskStatusFailed         TaskStatus = "FAILED"
)

// TaskRecord tracks one asynchronously dispatched unit of work across its
// lifetime, including the long-horizon retry hop.
type TaskRecord struct {
	ID          string     `gorm:"primary_key;size:36" json:"task_id"`
	Kind        string     `gorm:"size:50;not null" json:"kind"`
	Queue       string     `gorm:"size:50;not null" json:"queue"`
	Status      TaskStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	Result      *string    `gorm:"type:text" json:"result,omitempty"`
	LastError   *string    `gorm:"size:1024" json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TaskRecord) TableName() string {
	return "task_records"
}

func CreateTaskRecord(ctx context.Context, id string, kind string, queue string) (*TaskRecord, error) {
	task := TaskRecord{
		ID:     id,
		Kind:   kind,
		Queue:  queue,
		Status: TaskStatusQueued,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func GetTaskRecord(ctx context.Context, id string) (*TaskRecord, error) {
	db := config.GetDB()
	task := TaskRecord{}
	if err := db.WithContext(ctx).Model(&TaskRecord{}).Where("id = ?", id).Take(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func MarkTaskRunning(ctx context.Context, id string, attempt int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&TaskRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   TaskStatusRunning,
			"attempts": attempt,
		}).Error
}

func MarkTaskSucceeded(ctx context.Context, id string, result *string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&TaskRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        TaskStatusSucceeded,
			"result":        result,
			"next_retry_at": nil,
		}).Error
}

func MarkTaskRetryScheduled(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&TaskRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        TaskStatusRetryScheduled,
			"next_retry_at": &nextRetryAt,
			"last_error":    lastError,
		}).Error
}

func MarkTaskFailed(ctx context.Context, id string, lastError string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&TaskRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        TaskStatusFailed,
			"last_error":    lastError,
			"next_retry_at": nil,
		}).Error
}
