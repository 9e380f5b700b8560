package vehicledb

import (
	"context"

	"obd-datalogger/internal/model"
)

// --------------------
// Alert rule DTOs and converters
// --------------------

// Severity values accepted for alert rules.
const (
	SeverityWarning  = model.SeverityWarning
	SeverityCritical = model.SeverityCritical
)

type AlertRule struct {
	ID        int64
	VehicleID int64
	Command   string
	Condition string // ">", "<" or "="
	Value     float64
	Severity  string
	IsEnabled bool
}

func toModelRule(r *AlertRule) *model.AlertRule {
	if r == nil {
		return nil
	}
	return &model.AlertRule{
		ID:        r.ID,
		VehicleID: r.VehicleID,
		Command:   r.Command,
		Condition: r.Condition,
		Value:     r.Value,
		Severity:  r.Severity,
		IsEnabled: r.IsEnabled,
	}
}

func fromModelRule(r model.AlertRule) AlertRule {
	return AlertRule{
		ID:        r.ID,
		VehicleID: r.VehicleID,
		Command:   r.Command,
		Condition: r.Condition,
		Value:     r.Value,
		Severity:  r.Severity,
		IsEnabled: r.IsEnabled,
	}
}

// --------------------
// Alert rule management (the logger core only ever reads enabled rules;
// authoring happens through here)
// --------------------

// CreateAlertRule validates and inserts a rule, returning its id.
func (c *Client) CreateAlertRule(ctx context.Context, r *AlertRule) (int64, error) {
	return c.db.CreateAlertRule(ctx, toModelRule(r))
}

// ListAlertRules returns every rule of a vehicle ordered by command.
func (c *Client) ListAlertRules(ctx context.Context, vehicleID int64) ([]AlertRule, error) {
	rows, err := c.db.ListAlertRules(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	out := make([]AlertRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModelRule(r))
	}
	return out, nil
}

// SetRuleEnabled flips a rule's enabled flag.
func (c *Client) SetRuleEnabled(ctx context.Context, ruleID int64, enabled bool) error {
	return c.db.SetRuleEnabled(ctx, ruleID, enabled)
}

// DeleteAlertRule removes a rule.
func (c *Client) DeleteAlertRule(ctx context.Context, ruleID int64) error {
	return c.db.DeleteAlertRule(ctx, ruleID)
}
