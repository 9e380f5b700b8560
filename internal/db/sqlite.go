package db

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"obd-datalogger/internal/model"
)

// DefaultReadingLimit caps how many readings the log view pulls per refresh.
const DefaultReadingLimit = 200

// DB wraps the sqlite connection and implements the store contract.
//
// Read operations never surface storage errors to callers: they log and
// return an empty slice. Hot-path writes (LogReading, LogAlertEvent) are
// best-effort. User-initiated writes report their error.
type DB struct {
	ORM *gorm.DB
	log *zap.Logger
}

// Open opens the SQLite database using GORM and runs migrations.
func Open(path string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	log.Info("vehicle database ready", zap.String("path", path))
	return &DB{ORM: g, log: log}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// UpsertVehicle returns the id of the vehicle with the given VIN, inserting
// a new profile if the VIN is unknown. Atomic: concurrent callers with the
// same VIN always converge on one row.
func (d *DB) UpsertVehicle(ctx context.Context, vin, name string) (int64, error) {
	var id int64
	err := d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v := model.Vehicle{VIN: vin, Name: name}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vin"}},
			DoNothing: true,
		}).Create(&v).Error; err != nil {
			return err
		}
		var existing model.Vehicle
		if err := tx.Where("vin = ?", vin).First(&existing).Error; err != nil {
			return err
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListVehicles returns all vehicle profiles ordered by name.
func (d *DB) ListVehicles(ctx context.Context) []model.Vehicle {
	var out []model.Vehicle
	if err := d.ORM.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		d.log.Error("list vehicles", zap.Error(err))
		return nil
	}
	return out
}

// StartTrip opens a new trip for the vehicle and returns its id. Any trip
// still open for the same vehicle is closed first, in the same transaction,
// so at most one trip per vehicle is ever open.
func (d *DB) StartTrip(ctx context.Context, vehicleID int64) (int64, error) {
	now := time.Now()
	var id int64
	err := d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Trip{}).
			Where("vehicle_id = ? AND end_time IS NULL", vehicleID).
			Update("end_time", now).Error; err != nil {
			return err
		}
		t := model.Trip{VehicleID: vehicleID, StartTime: now}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		id = t.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.log.Info("trip started", zap.Int64("trip_id", id), zap.Int64("vehicle_id", vehicleID))
	return id, nil
}

// EndTrip marks a trip as completed. A missing trip id is logged and
// swallowed; callers must not rely on an error for it.
func (d *DB) EndTrip(ctx context.Context, tripID int64) error {
	res := d.ORM.WithContext(ctx).Model(&model.Trip{}).
		Where("id = ?", tripID).
		Update("end_time", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		d.log.Error("end trip: no such trip", zap.Int64("trip_id", tripID))
		return nil
	}
	d.log.Info("trip ended", zap.Int64("trip_id", tripID))
	return nil
}

// LogReading inserts one reading row. Best-effort: this sits on the hot
// telemetry path, so failures are logged at debug and never surfaced.
func (d *DB) LogReading(ctx context.Context, tripID int64, command, value, unit string) {
	r := model.Reading{
		TripID:    tripID,
		Timestamp: time.Now(),
		Command:   command,
		Value:     value,
		Unit:      unit,
	}
	if err := d.ORM.WithContext(ctx).Create(&r).Error; err != nil {
		d.log.Debug("log reading", zap.Error(err))
	}
}

// LogAlertEvent records a rule firing during a trip. Best-effort.
func (d *DB) LogAlertEvent(ctx context.Context, tripID, ruleID int64, triggeredValue string) {
	e := model.AlertEvent{
		TripID:         tripID,
		RuleID:         ruleID,
		Timestamp:      time.Now(),
		TriggeredValue: triggeredValue,
	}
	if err := d.ORM.WithContext(ctx).Create(&e).Error; err != nil {
		d.log.Error("log alert event", zap.Error(err))
		return
	}
	d.log.Info("alert event logged", zap.Int64("rule_id", ruleID), zap.String("value", triggeredValue))
}

// EnabledAlertRules returns the enabled rules for a vehicle ordered by
// command name.
func (d *DB) EnabledAlertRules(ctx context.Context, vehicleID int64) []model.AlertRule {
	var out []model.AlertRule
	if err := d.ORM.WithContext(ctx).
		Where("vehicle_id = ? AND is_enabled = ?", vehicleID, true).
		Order("command").
		Find(&out).Error; err != nil {
		d.log.Error("fetch alert rules", zap.Error(err))
		return nil
	}
	return out
}

// TripReadings returns the most recent readings of a trip, newest first.
// limit <= 0 applies DefaultReadingLimit.
func (d *DB) TripReadings(ctx context.Context, tripID int64, limit int) []model.Reading {
	if limit <= 0 {
		limit = DefaultReadingLimit
	}
	var out []model.Reading
	if err := d.ORM.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		d.log.Error("get trip readings", zap.Error(err))
		return nil
	}
	return out
}

// tripReadingsAsc returns every reading of a trip in ascending timestamp
// order, for export.
func (d *DB) tripReadingsAsc(ctx context.Context, tripID int64) ([]model.Reading, error) {
	var out []model.Reading
	err := d.ORM.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("timestamp").
		Find(&out).Error
	return out, err
}

// PruneOlderThan deletes trips whose start_time is older than the given
// number of days, together with their readings and alert events. The whole
// delete set goes through one transaction; VACUUM runs afterwards to
// reclaim file space.
func (d *DB) PruneOlderThan(ctx context.Context, days int) (trips int64, readings int64, err error) {
	if days <= 0 {
		return 0, 0, errors.New("days must be positive")
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	err = d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&model.Trip{}).
			Where("start_time < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Where("trip_id IN ?", ids).Delete(&model.Reading{})
		if res.Error != nil {
			return res.Error
		}
		readings = res.RowsAffected
		if err := tx.Where("trip_id IN ?", ids).Delete(&model.AlertEvent{}).Error; err != nil {
			return err
		}
		res = tx.Where("id IN ?", ids).Delete(&model.Trip{})
		if res.Error != nil {
			return res.Error
		}
		trips = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if trips > 0 {
		if verr := d.ORM.WithContext(ctx).Exec("VACUUM").Error; verr != nil {
			d.log.Error("vacuum after prune", zap.Error(verr))
		}
		d.log.Info("pruned old trips",
			zap.Int64("trips", trips), zap.Int64("readings", readings), zap.Int("days", days))
	}
	return trips, readings, nil
}
