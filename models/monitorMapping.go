package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"gorm.io/gorm"
)

// MonitorMapping links an internal group identifier (e.g. "pid_graph:E2045F7A")
// to an UptimeRobot monitor id. Rows are versioned by generation; only rows of
// the active generation are visible to readers.
type MonitorMapping struct {
	ID         int    `gorm:"primary_key" json:"id"`
	Generation int64  `gorm:"not null;index:idx_mapping_gen_key,unique,priority:1" json:"-"`
	PIDGraphID string `gorm:"column:pid_graph_id;size:255;not null;index:idx_mapping_gen_key,unique,priority:2" json:"pid_graph_id"`
	MonitorID  string `gorm:"size:50;not null" json:"monitor_id"`
	Label      string `gorm:"size:255" json:"label"`
	URL        string `gorm:"size:1024" json:"url"`
}

func (MonitorMapping) TableName() string {
	return "monitor_mappings"
}

// MonitorMappingState is a single-row table holding the active generation.
// Flipping it is the atomic "swap" of a mapping rebuild: a refresh that dies
// mid-pagination leaves the previous generation fully intact.
type MonitorMappingState struct {
	ID               int       `gorm:"primary_key" json:"id"`
	ActiveGeneration int64     `gorm:"not null" json:"active_generation"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MonitorMappingState) TableName() string {
	return "monitor_mapping_state"
}

type MonitorMappingEntry struct {
	PIDGraphID string
	MonitorID  string
	Label      string
	URL        string
}

func activeGeneration(tx *gorm.DB) (int64, error) {
	state := MonitorMappingState{}
	err := tx.Model(&MonitorMappingState{}).Where("id = 1").Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return state.ActiveGeneration, nil
}

// ReplaceMonitorMappings installs a freshly fetched mapping set: rows are
// written under a new generation, the state row is flipped, then stale
// generations are pruned. Returns the number of installed entries.
func ReplaceMonitorMappings(ctx context.Context, entries []MonitorMappingEntry) (int, error) {
	db := config.GetDB()
	generation := time.Now().UnixNano()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			row := MonitorMapping{
				Generation: generation,
				PIDGraphID: entry.PIDGraphID,
				MonitorID:  entry.MonitorID,
				Label:      entry.Label,
				URL:        entry.URL,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		state := MonitorMappingState{ID: 1, ActiveGeneration: generation}
		res := tx.Model(&MonitorMappingState{}).Where("id = 1").Update("active_generation", generation)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&state).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Prune outside the transaction; leftover stale rows are harmless.
	db.WithContext(ctx).Where("generation < ?", generation).Delete(&MonitorMapping{})

	return len(entries), nil
}

// LookupMonitorMapping resolves a group id against the active generation.
// The second return value reports whether the key exists.
func LookupMonitorMapping(ctx context.Context, pidGraphID string) (string, bool, error) {
	db := config.GetDB()
	generation, err := activeGeneration(db.WithContext(ctx))
	if err != nil {
		return "", false, err
	}

	row := MonitorMapping{}
	err = db.WithContext(ctx).Model(&MonitorMapping{}).
		Where("generation = ? AND pid_graph_id = ?", generation, pidGraphID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.MonitorID, true, nil
}
