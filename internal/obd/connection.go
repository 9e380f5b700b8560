package obd

import "time"

// Command identifies one OBD-II query the datalogger understands.
type Command string

const (
	CmdRPM         Command = "RPM"
	CmdSpeed       Command = "SPEED"
	CmdCoolantTemp Command = "COOLANT_TEMP"
	CmdThrottlePos Command = "THROTTLE_POS"
	CmdVIN         Command = "VIN"
	CmdReadDTC     Command = "GET_DTC"
	CmdClearDTC    Command = "CLEAR_DTC"
)

// TroubleCode is one diagnostic trouble code with its description.
type TroubleCode struct {
	Code        string
	Description string
}

// Response is the result of one command query. Null means the measurement
// could not be obtained (no data, unsupported, link down).
type Response struct {
	Value float64
	Unit  string
	Text  string        // VIN and clear-DTC confirmation payloads
	Codes []TroubleCode // GET_DTC payload
	Null  bool
}

// IsNull reports whether the response carries no usable value.
func (r Response) IsNull() bool { return r.Null }

// WatchFunc receives asynchronous value updates for a watched command.
// It is invoked from the connection's poll goroutine.
type WatchFunc func(cmd Command, resp Response)

// Connection is the vehicle link capability the telemetry coordinator
// drives. Implementations must tolerate Query/Watch/Unwatch from goroutines
// other than the opener's.
type Connection interface {
	// Open establishes the link within the given timeout.
	Open(port string, timeout time.Duration) error
	IsConnected() bool
	// Supports reports whether the connected ECU answers the command.
	Supports(cmd Command) bool
	// Watch subscribes fn to live updates of cmd. Replaces any previous
	// subscription for the same command.
	Watch(cmd Command, fn WatchFunc)
	Unwatch(cmd Command)
	// Query performs a one-shot read. force bypasses any response caching.
	Query(cmd Command, force bool) (Response, error)
	Close() error
}
