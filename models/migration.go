package models

import (
	"log"

	"bitbucket.org/mmdatafocus/pos_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &Shop{}, &User{}, &Device{},
		&Product{}, &Stock{},
		&Sale{}, &SaleDetail{},
		&SaleSession{}, &SaleSessionItem{},
		&PendingAction{},
		&DataConflict{},
		&SyncRun{}, &SyncRunError{}, &DeviceSyncState{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
