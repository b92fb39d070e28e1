package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/utils"
	"gorm.io/gorm"
)

// PIDMode is the resolution mode requested for a PIDMR event.
type PIDMode string

const (
	PIDModeLandingPage PIDMode = "landingpage"
	PIDModeMetadata    PIDMode = "metadata"
	PIDModeResource    PIDMode = "resource"
)

func (m PIDMode) Valid() bool {
	switch m {
	case PIDModeLandingPage, PIDModeMetadata, PIDModeResource:
		return true
	}
	return false
}

// PIDMREvent is a request to resolve-and-track a PID under a resolution
// mode. The dispatcher only ever writes back ResolverStatus.
type PIDMREvent struct {
	ID             int       `gorm:"primary_key" json:"id"`
	TimeStamp      time.Time `gorm:"not null" json:"time_stamp"`
	PID            string    `gorm:"column:pid_id;size:767;not null" json:"pid_id"`
	PIDMode        PIDMode   `gorm:"size:20;not null" json:"pid_mode"`
	PIDType        string    `gorm:"size:100;not null" json:"pid_type"`
	PIDEndpoint    string    `gorm:"size:1024;not null" json:"pid_endpoint"`
	ResolverStatus *string   `gorm:"size:255" json:"resolver_status"`
}

func (PIDMREvent) TableName() string {
	return "pidmr_events"
}

type NewPIDMREvent struct {
	TimeStamp   time.Time `json:"time_stamp" binding:"required"`
	PID         string    `json:"pid_id" binding:"required"`
	PIDMode     PIDMode   `json:"pid_mode" binding:"required"`
	PIDType     string    `json:"pid_type" binding:"required"`
	PIDEndpoint string    `json:"pid_endpoint" binding:"required"`
}

func CreatePIDMREvent(ctx context.Context, input *NewPIDMREvent) (*PIDMREvent, error) {
	event := PIDMREvent{
		TimeStamp:   input.TimeStamp,
		PID:         input.PID,
		PIDMode:     input.PIDMode,
		PIDType:     input.PIDType,
		PIDEndpoint: input.PIDEndpoint,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func GetPIDMREvent(ctx context.Context, id int) (*PIDMREvent, error) {
	db := config.GetDB()
	event := PIDMREvent{}
	if err := db.WithContext(ctx).Model(&PIDMREvent{}).Where("id = ?", id).Take(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &event, nil
}

// UpdatePIDMREventResolverStatus writes back the resolver status once the
// async resolution of the event's PID completes. Best-effort: callers may
// ignore the error.
func UpdatePIDMREventResolverStatus(ctx context.Context, id int, status string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&PIDMREvent{}).
		Where("id = ?", id).
		Update("resolver_status", status).Error
}
