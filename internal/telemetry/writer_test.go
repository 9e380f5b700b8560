package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"obd-datalogger/internal/db"
	"obd-datalogger/internal/model"
)

func TestWriterPersistsInOrder(t *testing.T) {
	t.Parallel()
	store, err := db.Open(filepath.Join(t.TempDir(), "writer_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	vid, _ := store.UpsertVehicle(ctx, "WAUZZZ8K9AA000041", "A4")
	tripID, err := store.StartTrip(ctx, vid)
	if err != nil {
		t.Fatalf("start trip: %v", err)
	}

	w := newWriter(store, 16, zap.NewNop())
	w.enqueueReading(readingWrite{tripID: tripID, command: "RPM", value: "1500", unit: "RPM"})
	w.enqueueReading(readingWrite{tripID: tripID, command: "SPEED", value: "62", unit: "KPH"})
	w.close() // drains before returning

	var rows []model.Reading
	if err := store.ORM.Where("trip_id = ?", tripID).Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("load readings: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 persisted readings, got %d", len(rows))
	}
	if rows[0].Command != "RPM" || rows[1].Command != "SPEED" {
		t.Fatalf("writes must land in enqueue order, got %s,%s", rows[0].Command, rows[1].Command)
	}
}

func TestWriterEnqueueNeverBlocks(t *testing.T) {
	t.Parallel()
	store, err := db.Open(filepath.Join(t.TempDir(), "writer_block_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	vid, _ := store.UpsertVehicle(ctx, "WAUZZZ8K9AA000043", "A6")
	tripID, err := store.StartTrip(ctx, vid)
	if err != nil {
		t.Fatalf("start trip: %v", err)
	}

	w := newWriter(store, 1, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			w.enqueueReading(readingWrite{tripID: tripID, command: "RPM", value: "1500", unit: "RPM"})
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("enqueue blocked on a full queue instead of dropping")
	}
	w.close()

	var count int64
	store.ORM.Model(&model.Reading{}).Where("trip_id = ?", tripID).Count(&count)
	if count == 0 || count > 500 {
		t.Fatalf("unexpected persisted count %d", count)
	}
}
