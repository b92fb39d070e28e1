package models

import (
	"log"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ResolutionRecord{},
		&PIDMREvent{},
		&MonitorMapping{}, &MonitorMappingState{},
		&TaskRecord{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
