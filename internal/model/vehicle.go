package model

import "time"

// Severity levels for alert rules.
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Vehicle is a vehicle profile keyed by its VIN.
// Only Name is mutable after creation.
type Vehicle struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	VIN       string    `gorm:"column:vin;uniqueIndex;not null"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`

	Trips      []Trip      `gorm:"foreignKey:VehicleID;constraint:OnDelete:CASCADE"`
	AlertRules []AlertRule `gorm:"foreignKey:VehicleID;constraint:OnDelete:CASCADE"`
}

func (Vehicle) TableName() string { return "vehicles" }

// Trip is a bounded logging session for one vehicle.
// A nil EndTime means the trip is still open.
type Trip struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	VehicleID int64      `gorm:"column:vehicle_id;index;not null"`
	StartTime time.Time  `gorm:"column:start_time;index;not null"`
	EndTime   *time.Time `gorm:"column:end_time"`

	Readings    []Reading    `gorm:"foreignKey:TripID;constraint:OnDelete:CASCADE"`
	AlertEvents []AlertEvent `gorm:"foreignKey:TripID;constraint:OnDelete:CASCADE"`
}

func (Trip) TableName() string { return "trips" }

// Reading is one timestamped observation of a named telemetry command.
// Value is stored text-encoded, matching whatever the command produced.
type Reading struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TripID    int64     `gorm:"column:trip_id;index;not null"`
	Timestamp time.Time `gorm:"column:timestamp;index;not null"`
	Command   string    `gorm:"column:command;not null"`
	Value     string    `gorm:"column:value;not null"`
	Unit      string    `gorm:"column:unit"`
}

func (Reading) TableName() string { return "readings" }

// AlertRule is a user-authored threshold rule scoped to a vehicle.
// Condition holds one of ">", "<", "=".
type AlertRule struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	VehicleID int64   `gorm:"column:vehicle_id;index;not null"`
	Command   string  `gorm:"column:command;not null"`
	Condition string  `gorm:"column:condition;not null"`
	Value     float64 `gorm:"column:value;not null"`
	Severity  string  `gorm:"column:severity;not null;default:WARNING"`
	// No default tag: GORM omits zero-value fields that carry one, which
	// would turn a deliberately disabled rule into an enabled row.
	IsEnabled bool `gorm:"column:is_enabled;not null"`
}

func (AlertRule) TableName() string { return "alert_rules" }

// AlertEvent records one inactive-to-active rule transition during a trip.
type AlertEvent struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TripID         int64     `gorm:"column:trip_id;index;not null"`
	RuleID         int64     `gorm:"column:rule_id;index;not null"`
	Timestamp      time.Time `gorm:"column:timestamp;not null"`
	TriggeredValue string    `gorm:"column:triggered_value;not null"`
}

func (AlertEvent) TableName() string { return "alerts" }
