package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"obd-datalogger/internal/alert"
	"obd-datalogger/internal/db"
	"obd-datalogger/internal/obd"
	"obd-datalogger/internal/utils"
)

// State machine events.
const (
	eventConnectRequested = "connect_requested"
	eventConnectSucceeded = "connect_succeeded"
	eventConnectFailed    = "connect_failed"
	eventDisconnected     = "disconnected"
)

// DefaultCommands is the telemetry command set watched when the config does
// not restrict it.
var DefaultCommands = []obd.Command{
	obd.CmdRPM,
	obd.CmdSpeed,
	obd.CmdCoolantTemp,
	obd.CmdThrottlePos,
}

// Options tune the coordinator. Zero values take the defaults below.
type Options struct {
	ConnectTimeout  time.Duration // default 20s
	RefreshInterval time.Duration // trip log refresh, default 2s
	QueueSize       int           // writer queue, default 1000
	DedupTTL        time.Duration // unchanged-value suppression window
	Commands        []obd.Command // defaults to DefaultCommands
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 20 * time.Second
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 2 * time.Second
	}
	if len(o.Commands) == 0 {
		o.Commands = DefaultCommands
	}
}

// Coordinator owns the live connection lifecycle, fans incoming readings
// out to the store and the alert evaluator, and keeps the trip state in
// step with the connection. Consumers watch Events(); no view state is
// mutated from the connection's poll goroutine directly.
type Coordinator struct {
	opts   Options
	store  *db.DB
	conn   obd.Connection
	eval   *alert.Evaluator
	writer *writer
	dedup  *utils.ValueCache
	log    *zap.Logger

	machine *fsm.FSM

	mu              sync.Mutex
	selectedVehicle int64
	currentTrip     int64
	logging         bool
	refreshStop     chan struct{}
	watched         []obd.Command

	events chan Event
}

// New wires a coordinator over the given store and connection capability.
func New(store *db.DB, conn obd.Connection, opts Options, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	opts.applyDefaults()

	c := &Coordinator{
		opts:   opts,
		store:  store,
		conn:   conn,
		writer: newWriter(store, opts.QueueSize, log),
		dedup:  utils.NewValueCache(opts.DedupTTL),
		log:    log,
		events: make(chan Event, 256),
	}
	c.eval = alert.NewEvaluator(c.onAlertTransition, log)

	c.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventConnectRequested, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventConnectSucceeded, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventConnectFailed, Src: []string{StateConnecting}, Dst: StateDisconnected},
			{Name: eventDisconnected, Src: []string{StateConnected, StateConnecting}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if e.Src != e.Dst {
					log.Info("connection state", zap.String("from", e.Src), zap.String("to", e.Dst))
				}
			},
		},
	)
	return c
}

// Events returns the stream of view-facing updates. The channel is buffered;
// a consumer that falls behind loses events rather than stalling telemetry.
func (c *Coordinator) Events() <-chan Event { return c.events }

// State returns the connection state and whether a trip is being logged.
func (c *Coordinator) State() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current(), c.logging
}

// SelectVehicle makes the vehicle current and loads its enabled alert
// rules. Rejected while a trip is logging; rules never reload mid-trip.
func (c *Coordinator) SelectVehicle(vehicleID int64) error {
	c.mu.Lock()
	if c.logging {
		c.mu.Unlock()
		return fmt.Errorf("cannot switch vehicle while a trip is logging")
	}
	c.selectedVehicle = vehicleID
	c.mu.Unlock()

	c.eval.LoadRules(c.store.EnabledAlertRules(context.Background(), vehicleID))
	c.log.Info("vehicle selected", zap.Int64("vehicle_id", vehicleID))
	return nil
}

// SelectedVehicle returns the current vehicle id, zero when none.
func (c *Coordinator) SelectedVehicle() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedVehicle
}

// CurrentTrip returns the open trip id, zero when no trip is logging.
func (c *Coordinator) CurrentTrip() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTrip
}

// Connect opens the vehicle link on port. Blocking, bounded by the connect
// timeout; run it off the view loop. On success the vehicle is identified
// via its VIN, supported commands are watched, and a trip auto-starts when
// a vehicle is selected. Any failure lands back in Disconnected.
func (c *Coordinator) Connect(port string) error {
	c.mu.Lock()
	if err := c.machine.Event(context.Background(), eventConnectRequested); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("connect while %s", c.machine.Current())
	}
	c.mu.Unlock()
	c.emitStatus("connecting to " + port)

	if err := c.conn.Open(port, c.opts.ConnectTimeout); err != nil {
		c.mu.Lock()
		_ = c.machine.Event(context.Background(), eventConnectFailed)
		c.mu.Unlock()
		c.log.Error("connection failed", zap.String("port", port), zap.Error(err))
		c.emitStatus(fmt.Sprintf("connection failed: %v", err))
		return err
	}

	c.mu.Lock()
	_ = c.machine.Event(context.Background(), eventConnectSucceeded)
	c.mu.Unlock()

	c.identifyVehicle()
	c.watchSupported()
	c.emitStatus("connected")

	// Mirror the original flow: landing on a known vehicle starts logging
	// immediately.
	if c.SelectedVehicle() != 0 {
		if err := c.ToggleTrip(); err != nil {
			c.log.Error("auto-start trip", zap.Error(err))
		}
	}
	return nil
}

// identifyVehicle reads the VIN and resolves it to a vehicle profile,
// creating one on first contact. A vehicle without a readable VIN keeps
// whatever selection the user made.
func (c *Coordinator) identifyVehicle() {
	resp, err := c.conn.Query(obd.CmdVIN, false)
	if err != nil || resp.IsNull() || resp.Text == "" {
		c.log.Warn("VIN not readable", zap.Error(err))
		return
	}
	vin := resp.Text
	name := "Vehicle-" + vin[len(vin)-4:]
	id, err := c.store.UpsertVehicle(context.Background(), vin, name)
	if err != nil {
		c.log.Error("resolve vehicle from VIN", zap.Error(err))
		return
	}
	if err := c.SelectVehicle(id); err != nil {
		c.log.Error("select vehicle from VIN", zap.Error(err))
	}
}

// watchSupported registers a live-update subscription for each configured
// command the ECU answers.
func (c *Coordinator) watchSupported() {
	var watched []obd.Command
	for _, cmd := range c.opts.Commands {
		if !c.conn.Supports(cmd) {
			c.log.Info("command not supported", zap.String("command", string(cmd)))
			continue
		}
		c.conn.Watch(cmd, c.onReading)
		watched = append(watched, cmd)
	}
	c.mu.Lock()
	c.watched = watched
	c.mu.Unlock()
	c.log.Info("watching commands", zap.Int("count", len(watched)))
}

// Disconnect stops any active trip, tears down subscriptions, closes the
// link, and resets alert state. Never leaves an open trip behind.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	logging := c.logging
	watched := c.watched
	c.watched = nil
	c.mu.Unlock()

	if logging {
		if err := c.ToggleTrip(); err != nil {
			c.log.Error("end trip on disconnect", zap.Error(err))
		}
	}
	for _, cmd := range watched {
		c.conn.Unwatch(cmd)
	}
	if err := c.conn.Close(); err != nil {
		c.log.Error("close connection", zap.Error(err))
	}
	c.eval.Reset()

	c.mu.Lock()
	_ = c.machine.Event(context.Background(), eventDisconnected)
	c.mu.Unlock()
	c.emitStatus("disconnected")
}

// ToggleTrip starts a trip when idle and ends the trip when logging.
// Requires a selected vehicle; starting also begins the periodic log
// refresh, ending stops it before the trip row is closed.
func (c *Coordinator) ToggleTrip() error {
	c.mu.Lock()
	if c.selectedVehicle == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no vehicle selected")
	}

	if !c.logging {
		if c.machine.Current() != StateConnected {
			c.mu.Unlock()
			return fmt.Errorf("not connected")
		}
		vehicleID := c.selectedVehicle
		c.mu.Unlock()

		tripID, err := c.store.StartTrip(context.Background(), vehicleID)
		if err != nil {
			return fmt.Errorf("start trip: %w", err)
		}

		c.mu.Lock()
		c.currentTrip = tripID
		c.logging = true
		c.refreshStop = make(chan struct{})
		go c.refreshLoop(c.refreshStop, tripID)
		c.mu.Unlock()
		c.emitStatus("trip started")
		return nil
	}

	tripID := c.currentTrip
	c.logging = false
	c.currentTrip = 0
	if c.refreshStop != nil {
		close(c.refreshStop)
		c.refreshStop = nil
	}
	c.mu.Unlock()

	if err := c.store.EndTrip(context.Background(), tripID); err != nil {
		c.log.Error("end trip", zap.Int64("trip_id", tripID), zap.Error(err))
	}
	c.eval.Reset()
	c.dedup.Clear()
	c.emitStatus("trip ended")
	return nil
}

// refreshLoop publishes a trip log snapshot on the refresh interval until
// stopped. The logging flag is rechecked before every emit so a tick that
// raced the toggle never fires a stale refresh.
func (c *Coordinator) refreshLoop(stop <-chan struct{}, tripID int64) {
	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		live := c.logging && c.currentTrip == tripID
		c.mu.Unlock()
		if !live {
			return
		}
		rows := c.store.TripReadings(context.Background(), tripID, 0)
		c.emit(Event{Type: EventLogRefresh, Readings: rows})
	}
}

// onReading is the per-command callback: it runs on the connection's poll
// goroutine. The gauge update always goes out; persistence and alert
// evaluation only happen while a trip is logging, and a null measurement
// does nothing at all.
func (c *Coordinator) onReading(cmd obd.Command, resp obd.Response) {
	if resp.IsNull() {
		return
	}
	name := string(cmd)
	c.emit(Event{Type: EventGauge, Command: name, Value: resp.Value, Unit: resp.Unit})

	c.mu.Lock()
	tripID := c.currentTrip
	logging := c.logging
	c.mu.Unlock()
	if !logging || tripID == 0 {
		return
	}

	// One row per observed value change.
	if !c.dedup.Unchanged(name, resp.Value) {
		c.dedup.Remember(name, resp.Value)
		c.writer.enqueueReading(readingWrite{
			tripID:  tripID,
			command: name,
			value:   alert.FormatValue(resp.Value),
			unit:    resp.Unit,
		})
	}
	c.eval.Evaluate(name, resp.Value)
}

// onAlertTransition receives evaluator edges, persists raised events, and
// forwards both edges to the view stream.
func (c *Coordinator) onAlertTransition(t alert.Transition) {
	if t.Rule.ID == 0 && !t.Raised {
		// Reset: unconditional clear with no rule attached.
		c.emit(Event{Type: EventAlertCleared})
		return
	}
	if t.Raised {
		c.mu.Lock()
		tripID := c.currentTrip
		c.mu.Unlock()
		if tripID != 0 {
			c.writer.enqueueAlert(alertWrite{
				tripID: tripID,
				ruleID: t.Rule.ID,
				value:  alert.FormatValue(t.Value),
			})
		}
		c.emit(Event{
			Type:     EventAlertRaised,
			Command:  t.Rule.Command,
			Value:    t.Value,
			Severity: t.Rule.Severity,
			RuleID:   t.Rule.ID,
			Message:  t.Message,
		})
		return
	}
	c.emit(Event{Type: EventAlertCleared, Command: t.Rule.Command, RuleID: t.Rule.ID})
}

// ReadDiagnostics queries stored trouble codes. Forced: bypasses the
// connection's response cache. Blocking; run off the view loop.
func (c *Coordinator) ReadDiagnostics() ([]obd.TroubleCode, error) {
	resp, err := c.conn.Query(obd.CmdReadDTC, true)
	if err != nil {
		return nil, err
	}
	if resp.IsNull() {
		return nil, fmt.Errorf("no data or command not supported")
	}
	return resp.Codes, nil
}

// ClearDiagnostics clears trouble codes and the check-engine light,
// returning the ECU's confirmation value.
func (c *Coordinator) ClearDiagnostics() (string, error) {
	resp, err := c.conn.Query(obd.CmdClearDTC, true)
	if err != nil {
		return "", err
	}
	if resp.IsNull() {
		return "", fmt.Errorf("no data or command not supported")
	}
	return resp.Text, nil
}

// Close shuts the coordinator down: disconnects if needed, drains the
// writer, and closes the event stream.
func (c *Coordinator) Close() {
	c.mu.Lock()
	state := c.machine.Current()
	c.mu.Unlock()
	if state != StateDisconnected {
		c.Disconnect()
	}
	c.writer.close()
	close(c.events)
}

func (c *Coordinator) emitStatus(msg string) {
	state, logging := c.State()
	c.emit(Event{Type: EventStatus, State: state, Logging: logging, Message: msg})
}

// emit never blocks: a slow or absent consumer drops events instead of
// stalling the poll goroutine.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
