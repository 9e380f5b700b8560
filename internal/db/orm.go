package db

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"obd-datalogger/internal/model"
)

// openORM opens a GORM SQLite connection with sane defaults.
// Foreign keys are switched on so trip deletes cascade to readings and alerts.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists. Safe to run against
// an existing database file.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Vehicle{},
		&model.Trip{},
		&model.Reading{},
		&model.AlertRule{},
		&model.AlertEvent{},
	)
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
