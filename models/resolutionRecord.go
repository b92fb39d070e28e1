package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/utils"
	"gorm.io/gorm"
)

// ResolutionRecord is one recorded attempt at fetching a PID's actionable
// URL. Append-only: re-resolution creates a new row, rows are never updated.
// Exactly one of StatusCode and HTTPError is set.
type ResolutionRecord struct {
	ID            int       `gorm:"primary_key" json:"id"`
	TimeStamp     time.Time `gorm:"not null;index" json:"time_stamp"`
	PID           string    `gorm:"column:pid_id;size:767;not null;index" json:"pid_id"`
	PIDURL        string    `gorm:"column:pid_url;size:1024;not null" json:"pid_url"`
	StatusCode    *int      `json:"status_code"`
	ContentType   *string   `gorm:"size:255" json:"content_type"`
	SSLVerified   bool      `json:"ssl_verified"`
	RedirectCount *int      `json:"redirect_count"`
	ResolutionURL *string   `gorm:"size:2048" json:"resolution_url"`
	HTTPError     *string   `gorm:"size:1024" json:"http_error"`
}

func (ResolutionRecord) TableName() string {
	return "monitor_records"
}

// NewSuccessRecord builds the record for an attempt that produced an HTTP
// response (whatever its status code).
func NewSuccessRecord(pid string, pidURL string, statusCode int, contentType string, sslVerified bool, redirectCount int, resolutionURL string) *ResolutionRecord {
	var ct *string
	if contentType != "" {
		ct = &contentType
	}
	return &ResolutionRecord{
		TimeStamp:     time.Now().UTC(),
		PID:           pid,
		PIDURL:        pidURL,
		StatusCode:    &statusCode,
		ContentType:   ct,
		SSLVerified:   sslVerified,
		RedirectCount: &redirectCount,
		ResolutionURL: &resolutionURL,
	}
}

// NewFailureRecord builds the record for an attempt on which no HTTP
// response was ever obtained. Status, content type, redirect count and
// resolution URL stay absent.
func NewFailureRecord(pid string, pidURL string, httpError string) *ResolutionRecord {
	return &ResolutionRecord{
		TimeStamp:   time.Now().UTC(),
		PID:         pid,
		PIDURL:      pidURL,
		SSLVerified: false,
		HTTPError:   &httpError,
	}
}

// SaveResolutionRecord appends the record. Write failures propagate to the
// caller; the dispatcher's retry budget is the only recovery mechanism.
func SaveResolutionRecord(ctx context.Context, record *ResolutionRecord) error {
	if (record.StatusCode == nil) == (record.HTTPError == nil) {
		return errors.New("resolution record must carry exactly one of status_code and http_error")
	}
	db := config.GetDB()
	return db.WithContext(ctx).Create(record).Error
}

func GetResolutionRecord(ctx context.Context, id int) (*ResolutionRecord, error) {
	db := config.GetDB()
	record := ResolutionRecord{}
	if err := db.WithContext(ctx).Model(&ResolutionRecord{}).Where("id = ?", id).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}
