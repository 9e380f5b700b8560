package telemetry

import "obd-datalogger/internal/model"

// Event types delivered on the coordinator's event stream.
const (
	EventStatus       = "status"        // connection / trip state changed
	EventGauge        = "gauge"         // live value update for one command
	EventAlertRaised  = "alert_raised"  // a rule crossed into triggered
	EventAlertCleared = "alert_cleared" // a rule crossed out of triggered
	EventLogRefresh   = "log_refresh"   // periodic trip log snapshot
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// Event is one message on the stream a view consumes. All view-facing state
// changes travel through here; nothing downstream reads coordinator fields
// directly.
type Event struct {
	Type string

	// EventStatus
	State   string
	Logging bool
	Message string

	// EventGauge and alert events
	Command string
	Value   float64
	Unit    string

	// Alert events
	Severity string
	RuleID   int64

	// EventLogRefresh
	Readings []model.Reading
}
