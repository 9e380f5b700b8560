package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"obd-datalogger/internal/model"
)

// Rule management backs the external rule-authoring surface. These are
// user-initiated writes, so unlike the hot path they report their errors.

func validRule(r *model.AlertRule) error {
	switch r.Condition {
	case ">", "<", "=":
	default:
		return fmt.Errorf("invalid condition %q", r.Condition)
	}
	switch r.Severity {
	case model.SeverityWarning, model.SeverityCritical:
	default:
		return fmt.Errorf("invalid severity %q", r.Severity)
	}
	if r.Command == "" {
		return fmt.Errorf("command must be set")
	}
	return nil
}

// CreateAlertRule inserts a rule for a vehicle and returns its id.
func (d *DB) CreateAlertRule(ctx context.Context, r *model.AlertRule) (int64, error) {
	if err := validRule(r); err != nil {
		return 0, err
	}
	if err := d.ORM.WithContext(ctx).Create(r).Error; err != nil {
		return 0, err
	}
	return r.ID, nil
}

// ListAlertRules returns every rule of a vehicle, enabled or not, ordered
// by command.
func (d *DB) ListAlertRules(ctx context.Context, vehicleID int64) ([]model.AlertRule, error) {
	var out []model.AlertRule
	err := d.ORM.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("command").
		Find(&out).Error
	return out, err
}

// SetRuleEnabled flips a rule's enabled flag.
func (d *DB) SetRuleEnabled(ctx context.Context, ruleID int64, enabled bool) error {
	res := d.ORM.WithContext(ctx).Model(&model.AlertRule{}).
		Where("id = ?", ruleID).
		Update("is_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAlertRule removes a rule.
func (d *DB) DeleteAlertRule(ctx context.Context, ruleID int64) error {
	return d.ORM.WithContext(ctx).Where("id = ?", ruleID).Delete(&model.AlertRule{}).Error
}
