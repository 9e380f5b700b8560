package alert

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"obd-datalogger/internal/model"
)

// Comparator is the closed set of threshold conditions a rule may carry.
type Comparator int

const (
	CompareGt Comparator = iota // strictly greater than the threshold
	CompareLt                   // strictly less than the threshold
	CompareEq                   // exact equality; only useful against integral telemetry
)

// ParseComparator maps the stored condition string to a Comparator.
func ParseComparator(s string) (Comparator, error) {
	switch s {
	case ">":
		return CompareGt, nil
	case "<":
		return CompareLt, nil
	case "=":
		return CompareEq, nil
	default:
		return 0, fmt.Errorf("unknown condition %q", s)
	}
}

func (c Comparator) String() string {
	switch c {
	case CompareGt:
		return ">"
	case CompareLt:
		return "<"
	case CompareEq:
		return "="
	}
	return "?"
}

// Matches reports whether value satisfies the comparator against threshold.
func (c Comparator) Matches(value, threshold float64) bool {
	switch c {
	case CompareGt:
		return value > threshold
	case CompareLt:
		return value < threshold
	case CompareEq:
		return value == threshold
	}
	return false
}

// Rule is one enabled alert rule with its condition resolved to a Comparator.
type Rule struct {
	ID        int64
	Command   string
	Cmp       Comparator
	Threshold float64
	Severity  string
}

// Transition is one edge of a rule's trigger state.
type Transition struct {
	Rule    Rule
	Raised  bool // true on inactive->active, false on active->inactive
	Value   float64
	Message string
}

// TransitionFunc receives rule edges. Called from whatever goroutine drove
// Evaluate, so implementations must be safe off the UI path.
type TransitionFunc func(Transition)

// Evaluator holds the rule snapshot for one vehicle and tracks which rules
// are currently triggered. Alerts are edge-triggered: a rule emits once on
// the false->true transition and once on true->false, never per sample.
type Evaluator struct {
	mu       sync.Mutex
	rules    []Rule
	active   map[int64]struct{}
	onChange TransitionFunc
	log      *zap.Logger
}

func NewEvaluator(onChange TransitionFunc, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		active:   make(map[int64]struct{}),
		onChange: onChange,
		log:      log,
	}
}

// LoadRules replaces the rule snapshot with the given enabled rules.
// Rules with an unknown condition are skipped with a log line. Called on
// vehicle selection; not refreshed mid-trip.
func (e *Evaluator) LoadRules(rows []model.AlertRule) {
	rules := make([]Rule, 0, len(rows))
	for _, r := range rows {
		cmp, err := ParseComparator(r.Condition)
		if err != nil {
			e.log.Warn("skipping alert rule", zap.Int64("rule_id", r.ID), zap.Error(err))
			continue
		}
		rules = append(rules, Rule{
			ID:        r.ID,
			Command:   r.Command,
			Cmp:       cmp,
			Threshold: r.Value,
			Severity:  r.Severity,
		})
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	e.log.Info("alert rules loaded", zap.Int("count", len(rules)))
}

// Evaluate checks value against every rule for command and fires the
// transition callback on each edge.
func (e *Evaluator) Evaluate(command string, value float64) {
	e.mu.Lock()
	var edges []Transition
	for _, r := range e.rules {
		if r.Command != command {
			continue
		}
		triggered := r.Cmp.Matches(value, r.Threshold)
		_, wasActive := e.active[r.ID]
		switch {
		case triggered && !wasActive:
			e.active[r.ID] = struct{}{}
			edges = append(edges, Transition{
				Rule:    r,
				Raised:  true,
				Value:   value,
				Message: fmt.Sprintf("ALERT: %s is %s!", r.Command, FormatValue(value)),
			})
		case !triggered && wasActive:
			delete(e.active, r.ID)
			edges = append(edges, Transition{Rule: r, Value: value})
		}
	}
	e.mu.Unlock()

	for _, t := range edges {
		if t.Raised {
			e.log.Warn("alert triggered",
				zap.String("command", t.Rule.Command),
				zap.String("condition", t.Rule.Cmp.String()),
				zap.Float64("threshold", t.Rule.Threshold),
				zap.Float64("value", t.Value))
		} else {
			e.log.Info("alert cleared", zap.String("command", t.Rule.Command))
		}
		if e.onChange != nil {
			e.onChange(t)
		}
	}
}

// ActiveCount reports how many rules are currently triggered.
func (e *Evaluator) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Reset clears all active trigger state and emits one unconditional cleared
// transition. Used on disconnect and trip end.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	n := len(e.active)
	e.active = make(map[int64]struct{})
	e.mu.Unlock()
	if n > 0 {
		e.log.Info("alert state reset", zap.Int("was_active", n))
	}
	if e.onChange != nil {
		e.onChange(Transition{})
	}
}

// FormatValue renders a telemetry value the way the gauges do: integral
// floats without a decimal point, everything else to one decimal.
func FormatValue(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
