package obd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

const (
	defaultBaudRate     = 38400
	defaultPollInterval = 500 * time.Millisecond
	queryCacheTTL       = time.Second
)

// pidSpec describes one mode-01 PID the logger can poll.
type pidSpec struct {
	request string
	reply   string // expected response prefix
	unit    string
	decode  func(data []byte) (float64, error)
}

var mode01 = map[Command]pidSpec{
	CmdRPM:         {request: "010C", reply: "410C", unit: "RPM", decode: decodeRPM},
	CmdSpeed:       {request: "010D", reply: "410D", unit: "KPH", decode: decodeSpeed},
	CmdCoolantTemp: {request: "0105", reply: "4105", unit: "C", decode: decodeCoolantTemp},
	CmdThrottlePos: {request: "0111", reply: "4111", unit: "%", decode: decodeThrottlePos},
}

type cachedResponse struct {
	resp Response
	at   time.Time
}

// ELM327 drives an ELM327-compatible adapter over a serial port. A single
// poll goroutine services all watched commands; Query shares the port under
// the same lock.
type ELM327 struct {
	BaudRate     int
	PollInterval time.Duration

	log *zap.Logger

	ioMu sync.Mutex // serializes port traffic
	port serial.Port

	mu        sync.Mutex // guards everything below
	connected bool
	supported map[Command]bool
	watchers  map[Command]WatchFunc
	cache     map[Command]cachedResponse
	stop      chan struct{}
	done      chan struct{}
}

// NewELM327 returns an unopened adapter with default link parameters.
func NewELM327(log *zap.Logger) *ELM327 {
	if log == nil {
		log = zap.NewNop()
	}
	return &ELM327{
		BaudRate:     defaultBaudRate,
		PollInterval: defaultPollInterval,
		log:          log,
		supported:    make(map[Command]bool),
		watchers:     make(map[Command]WatchFunc),
		cache:        make(map[Command]cachedResponse),
	}
}

// Open connects to the adapter on the given port, initializes it, and
// probes the ECU for supported PIDs. The whole sequence is bounded by
// timeout; a hung adapter fails the open, it does not hang the caller past
// the deadline.
func (e *ELM327) Open(port string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	deadline := time.Now().Add(timeout)

	p, err := serial.Open(&serial.Config{
		Address:  port,
		BaudRate: e.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  2 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", port, err)
	}
	e.ioMu.Lock()
	e.port = p
	e.ioMu.Unlock()

	// Adapter init: reset, echo off, linefeeds off, spaces off, auto protocol.
	for _, at := range []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATSP0"} {
		if time.Now().After(deadline) {
			e.closePort()
			return fmt.Errorf("adapter init on %s: timeout", port)
		}
		if _, err := e.exchange(at); err != nil {
			e.closePort()
			return fmt.Errorf("adapter init %s: %w", at, err)
		}
	}

	// Probe the ECU for the mode-01 PID bitmask until it answers or the
	// deadline passes. The bus can take several seconds to wake up.
	var raw string
	for {
		raw, err = e.exchange("0100")
		if err == nil && strings.Contains(raw, "4100") {
			break
		}
		if time.Now().After(deadline) {
			e.closePort()
			if err == nil {
				err = errors.New("no ECU response")
			}
			return fmt.Errorf("probe ECU on %s: %w", port, err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	supported, err := parseSupportedPIDs(raw)
	if err != nil {
		e.closePort()
		return fmt.Errorf("parse supported PIDs: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.supported = supported
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.pollLoop(e.stop, e.done)

	e.log.Info("ELM327 connected", zap.String("port", port), zap.Int("supported", len(supported)))
	return nil
}

func (e *ELM327) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *ELM327) Supports(cmd Command) bool {
	switch cmd {
	case CmdVIN, CmdReadDTC, CmdClearDTC:
		// Mode 09/03/04 support is not advertised in the 0100 bitmask;
		// the query itself reports NO DATA when unsupported.
		return e.IsConnected()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected && e.supported[cmd]
}

func (e *ELM327) Watch(cmd Command, fn WatchFunc) {
	e.mu.Lock()
	e.watchers[cmd] = fn
	e.mu.Unlock()
}

func (e *ELM327) Unwatch(cmd Command) {
	e.mu.Lock()
	delete(e.watchers, cmd)
	e.mu.Unlock()
}

// Query performs a one-shot read of cmd. Unless force is set, a response
// younger than the cache TTL is returned without touching the bus.
func (e *ELM327) Query(cmd Command, force bool) (Response, error) {
	if !e.IsConnected() {
		return Response{Null: true}, errors.New("not connected")
	}
	if !force {
		e.mu.Lock()
		c, ok := e.cache[cmd]
		e.mu.Unlock()
		if ok && time.Since(c.at) < queryCacheTTL {
			return c.resp, nil
		}
	}

	resp, err := e.queryBus(cmd)
	if err != nil {
		return Response{Null: true}, err
	}
	e.mu.Lock()
	e.cache[cmd] = cachedResponse{resp: resp, at: time.Now()}
	e.mu.Unlock()
	return resp, nil
}

// Close stops polling and releases the port. Safe to call when not open.
func (e *ELM327) Close() error {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		e.closePort()
		return nil
	}
	e.connected = false
	stop, done := e.stop, e.done
	e.watchers = make(map[Command]WatchFunc)
	e.cache = make(map[Command]cachedResponse)
	e.mu.Unlock()

	close(stop)
	<-done
	e.closePort()
	e.log.Info("ELM327 closed")
	return nil
}

func (e *ELM327) closePort() {
	e.ioMu.Lock()
	defer e.ioMu.Unlock()
	if e.port != nil {
		_ = e.port.Close()
		e.port = nil
	}
}

// pollLoop services every watched command once per interval, like a slow
// round-robin scan of the configured points.
func (e *ELM327) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := e.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		cmds := make([]Command, 0, len(e.watchers))
		for cmd := range e.watchers {
			cmds = append(cmds, cmd)
		}
		e.mu.Unlock()

		for _, cmd := range cmds {
			select {
			case <-stop:
				return
			default:
			}
			resp, err := e.queryBus(cmd)
			if err != nil {
				e.log.Debug("poll query failed", zap.String("command", string(cmd)), zap.Error(err))
				resp = Response{Null: true}
			}
			e.mu.Lock()
			fn := e.watchers[cmd]
			if !resp.Null {
				e.cache[cmd] = cachedResponse{resp: resp, at: time.Now()}
			}
			e.mu.Unlock()
			if fn != nil {
				fn(cmd, resp)
			}
		}
	}
}

// queryBus sends the wire request for cmd and decodes the reply.
func (e *ELM327) queryBus(cmd Command) (Response, error) {
	if spec, ok := mode01[cmd]; ok {
		raw, err := e.exchange(spec.request)
		if err != nil {
			return Response{Null: true}, err
		}
		data, err := extractPayload(raw, spec.reply)
		if err != nil {
			return Response{Null: true}, nil
		}
		v, err := spec.decode(data)
		if err != nil {
			return Response{Null: true}, nil
		}
		return Response{Value: v, Unit: spec.unit}, nil
	}

	switch cmd {
	case CmdVIN:
		raw, err := e.exchange("0902")
		if err != nil {
			return Response{Null: true}, err
		}
		vin, err := decodeVIN(raw)
		if err != nil {
			return Response{Null: true}, nil
		}
		return Response{Text: vin}, nil
	case CmdReadDTC:
		raw, err := e.exchange("03")
		if err != nil {
			return Response{Null: true}, err
		}
		codes, err := decodeDTCs(raw)
		if err != nil {
			return Response{Null: true}, nil
		}
		return Response{Codes: codes}, nil
	case CmdClearDTC:
		raw, err := e.exchange("04")
		if err != nil {
			return Response{Null: true}, err
		}
		if !strings.Contains(raw, "44") {
			return Response{Null: true}, nil
		}
		return Response{Text: "44"}, nil
	default:
		return Response{Null: true}, fmt.Errorf("unknown command %s", cmd)
	}
}

// exchange writes one request and reads the adapter output up to the '>'
// prompt. Returns the response with whitespace and echo noise stripped.
func (e *ELM327) exchange(req string) (string, error) {
	e.ioMu.Lock()
	defer e.ioMu.Unlock()
	if e.port == nil {
		return "", errors.New("port closed")
	}

	if _, err := e.port.Write([]byte(req + "\r")); err != nil {
		return "", fmt.Errorf("write %s: %w", req, err)
	}

	var sb strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := e.port.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			if strings.Contains(sb.String(), ">") {
				break
			}
		}
		if err != nil {
			return "", fmt.Errorf("read after %s: %w", req, err)
		}
	}

	out := sb.String()
	out = strings.ReplaceAll(out, "SEARCHING...", "")
	out = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '>', ' ':
			return -1
		}
		return r
	}, out)
	if strings.Contains(out, "UNABLETOCONNECT") || strings.Contains(out, "CANERROR") {
		return "", errors.New("no link to ECU")
	}
	return out, nil
}

// parseSupportedPIDs decodes the 4100 bitmask response into the command
// set this logger knows how to poll.
func parseSupportedPIDs(raw string) (map[Command]bool, error) {
	data, err := extractPayload(raw, "4100")
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, errors.New("short PID bitmask")
	}
	mask := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])

	supported := make(map[Command]bool, len(mode01))
	for cmd, spec := range mode01 {
		// Request strings are "01XX"; bit 31 corresponds to PID 0x01.
		pid, err := strconv.ParseUint(spec.request[2:], 16, 8)
		if err != nil || pid == 0 || pid > 32 {
			continue
		}
		if mask&(1<<(32-uint(pid))) != 0 {
			supported[cmd] = true
		}
	}
	return supported, nil
}

// extractPayload pulls the data bytes following the expected reply prefix
// out of a cleaned adapter response.
func extractPayload(raw, prefix string) ([]byte, error) {
	if strings.Contains(raw, "NODATA") {
		return nil, errors.New("no data")
	}
	i := strings.Index(raw, prefix)
	if i < 0 {
		return nil, fmt.Errorf("reply %s not found", prefix)
	}
	hexStr := raw[i+len(prefix):]
	if n := strings.IndexFunc(hexStr, func(r rune) bool { return !isHexDigit(r) }); n >= 0 {
		hexStr = hexStr[:n]
	}
	if len(hexStr)%2 == 1 {
		hexStr = hexStr[:len(hexStr)-1]
	}
	data := make([]byte, 0, len(hexStr)/2)
	for j := 0; j+1 < len(hexStr); j += 2 {
		b, err := strconv.ParseUint(hexStr[j:j+2], 16, 8)
		if err != nil {
			return nil, err
		}
		data = append(data, byte(b))
	}
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	return data, nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

func decodeRPM(data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, errors.New("insufficient data for RPM")
	}
	return float64(uint16(data[0])<<8|uint16(data[1])) / 4, nil
}

func decodeSpeed(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, errors.New("insufficient data for speed")
	}
	return float64(data[0]), nil
}

func decodeCoolantTemp(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, errors.New("insufficient data for coolant temp")
	}
	return float64(data[0]) - 40, nil
}

func decodeThrottlePos(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, errors.New("insufficient data for throttle position")
	}
	return float64(data[0]) * 100 / 255, nil
}

// decodeVIN extracts the 17-character VIN from a mode-09 PID-02 response.
// Multi-frame responses arrive as one cleaned hex string with 4902 segment
// headers interleaved; keep only printable ASCII from the payload.
func decodeVIN(raw string) (string, error) {
	i := strings.Index(raw, "4902")
	if i < 0 {
		return "", errors.New("VIN reply not found")
	}
	hexStr := strings.Map(func(r rune) rune {
		if isHexDigit(r) {
			return r
		}
		return -1
	}, raw[i+4:])

	var sb strings.Builder
	for j := 0; j+1 < len(hexStr); j += 2 {
		b, err := strconv.ParseUint(hexStr[j:j+2], 16, 8)
		if err != nil {
			break
		}
		if b >= 0x30 && b <= 0x7A { // VIN alphabet is alphanumeric ASCII
			sb.WriteByte(byte(b))
		}
	}
	vin := sb.String()
	if len(vin) < 17 {
		return "", fmt.Errorf("short VIN %q", vin)
	}
	return vin[len(vin)-17:], nil
}

// decodeDTCs parses a mode-03 response into trouble codes. Each code is two
// bytes; the top two bits select the system letter.
func decodeDTCs(raw string) ([]TroubleCode, error) {
	if strings.Contains(raw, "NODATA") {
		return nil, nil
	}
	i := strings.Index(raw, "43")
	if i < 0 {
		return nil, errors.New("DTC reply not found")
	}
	hexStr := raw[i+2:]
	if n := strings.IndexFunc(hexStr, func(r rune) bool { return !isHexDigit(r) }); n >= 0 {
		hexStr = hexStr[:n]
	}

	var codes []TroubleCode
	for j := 0; j+3 < len(hexStr); j += 4 {
		hi, err := strconv.ParseUint(hexStr[j:j+2], 16, 8)
		if err != nil {
			return nil, err
		}
		lo, err := strconv.ParseUint(hexStr[j+2:j+4], 16, 8)
		if err != nil {
			return nil, err
		}
		if hi == 0 && lo == 0 {
			continue // padding
		}
		codes = append(codes, formatDTC(byte(hi), byte(lo)))
	}
	return codes, nil
}

var dtcSystems = [4]byte{'P', 'C', 'B', 'U'}

var dtcDescriptions = map[string]string{
	"P0101": "Mass Air Flow Circuit Range/Performance",
	"P0113": "Intake Air Temperature Sensor Circuit High",
	"P0128": "Coolant Thermostat Below Regulating Temperature",
	"P0171": "System Too Lean (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0442": "Evaporative Emission System Leak Detected (Small Leak)",
	"P0455": "Evaporative Emission System Leak Detected (Large Leak)",
	"P0500": "Vehicle Speed Sensor Malfunction",
}

func formatDTC(hi, lo byte) TroubleCode {
	code := fmt.Sprintf("%c%d%X%02X",
		dtcSystems[hi>>6],
		(hi>>4)&0x03,
		hi&0x0F,
		lo)
	desc, ok := dtcDescriptions[code]
	if !ok {
		desc = "Unknown code"
	}
	return TroubleCode{Code: code, Description: desc}
}
