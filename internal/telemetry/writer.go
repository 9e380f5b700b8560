package telemetry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"obd-datalogger/internal/db"
)

// readingWrite is one deferred reading insert.
type readingWrite struct {
	tripID  int64
	command string
	value   string
	unit    string
}

// alertWrite is one deferred alert-event insert.
type alertWrite struct {
	tripID int64
	ruleID int64
	value  string
}

// writer drains hot-path store writes on a background goroutine so the
// telemetry callback never blocks on SQLite. A full queue drops the sample;
// the callback path never sees an error.
type writer struct {
	store *db.DB
	log   *zap.Logger
	q     chan any
	wg    sync.WaitGroup
}

func newWriter(store *db.DB, queueSize int, log *zap.Logger) *writer {
	if queueSize <= 0 {
		queueSize = 1000
	}
	w := &writer{
		store: store,
		log:   log,
		q:     make(chan any, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writer) run() {
	defer w.wg.Done()
	ctx := context.Background()
	for item := range w.q {
		switch v := item.(type) {
		case readingWrite:
			w.store.LogReading(ctx, v.tripID, v.command, v.value, v.unit)
		case alertWrite:
			w.store.LogAlertEvent(ctx, v.tripID, v.ruleID, v.value)
		}
	}
}

func (w *writer) enqueueReading(v readingWrite) {
	select {
	case w.q <- v:
	default:
		w.log.Debug("reading dropped, writer queue full", zap.String("command", v.command))
	}
}

func (w *writer) enqueueAlert(v alertWrite) {
	select {
	case w.q <- v:
	default:
		w.log.Warn("alert event dropped, writer queue full", zap.Int64("rule_id", v.ruleID))
	}
}

// close drains the queue and stops the worker.
func (w *writer) close() {
	close(w.q)
	w.wg.Wait()
}
