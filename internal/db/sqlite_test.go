package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"obd-datalogger/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vehicle_test.db")
	d, err := Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func TestUpsertVehicleIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	id1, err := d.UpsertVehicle(ctx, "1HGBH41JXMN109186", "Vehicle-9186")
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	id2, err := d.UpsertVehicle(ctx, "1HGBH41JXMN109186", "Another Name")
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id for same VIN, got %d and %d", id1, id2)
	}

	vehicles := d.ListVehicles(ctx)
	if len(vehicles) != 1 {
		t.Fatalf("expected exactly 1 vehicle, got %d", len(vehicles))
	}
	if vehicles[0].Name != "Vehicle-9186" {
		t.Fatalf("second upsert must not rename, got %q", vehicles[0].Name)
	}
}

func TestListVehiclesSortedByName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	for _, v := range []struct{ vin, name string }{
		{"VINZZZZZZZZZZZZ001", "Zulu"},
		{"VINAAAAAAAAAAA002", "Alpha"},
		{"VINMMMMMMMMMMM003", "Mike"},
	} {
		if _, err := d.UpsertVehicle(ctx, v.vin, v.name); err != nil {
			t.Fatalf("upsert %s: %v", v.name, err)
		}
	}

	got := d.ListVehicles(ctx)
	if len(got) != 3 {
		t.Fatalf("expected 3 vehicles, got %d", len(got))
	}
	want := []string{"Alpha", "Mike", "Zulu"}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("position %d: expected %q, got %q", i, name, got[i].Name)
		}
	}
}

func TestTripLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	vid, err := d.UpsertVehicle(ctx, "WVWZZZ1JZXW000001", "Golf")
	if err != nil {
		t.Fatalf("upsert vehicle: %v", err)
	}

	tripID, err := d.StartTrip(ctx, vid)
	if err != nil {
		t.Fatalf("start trip: %v", err)
	}
	if err := d.EndTrip(ctx, tripID); err != nil {
		t.Fatalf("end trip: %v", err)
	}

	var trip model.Trip
	if err := d.ORM.First(&trip, tripID).Error; err != nil {
		t.Fatalf("load trip: %v", err)
	}
	if trip.EndTime == nil {
		t.Fatalf("expected trip to be closed")
	}
	if trip.EndTime.Before(trip.StartTime) {
		t.Fatalf("end_time %v before start_time %v", trip.EndTime, trip.StartTime)
	}
}

func TestEndTripMissingIDIsSwallowed(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)

	if err := d.EndTrip(context.Background(), 9999); err != nil {
		t.Fatalf("missing trip id must not surface an error, got %v", err)
	}
}

func TestSingleOpenTripPerVehicle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	vid, err := d.UpsertVehicle(ctx, "JH4KA7561PC000005", "Legend")
	if err != nil {
		t.Fatalf("upsert vehicle: %v", err)
	}

	first, err := d.StartTrip(ctx, vid)
	if err != nil {
		t.Fatalf("first trip: %v", err)
	}
	second, err := d.StartTrip(ctx, vid)
	if err != nil {
		t.Fatalf("second trip: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct trip ids")
	}

	var open int64
	if err := d.ORM.Model(&model.Trip{}).
		Where("vehicle_id = ? AND end_time IS NULL", vid).
		Count(&open).Error; err != nil {
		t.Fatalf("count open trips: %v", err)
	}
	if open != 1 {
		t.Fatalf("expected exactly 1 open trip, got %d", open)
	}

	var stale model.Trip
	if err := d.ORM.First(&stale, first).Error; err != nil {
		t.Fatalf("load first trip: %v", err)
	}
	if stale.EndTime == nil {
		t.Fatalf("starting a second trip must close the first")
	}
}

func TestTripReadingsNewestFirstAndCapped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	vid, _ := d.UpsertVehicle(ctx, "VF1RFB00X50000007", "Megane")
	tripID, err := d.StartTrip(ctx, vid)
	if err != nil {
		t.Fatalf("start trip: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		r := model.Reading{
			TripID:    tripID,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Command:   "RPM",
			Value:     "1000",
			Unit:      "RPM",
		}
		if err := d.ORM.Create(&r).Error; err != nil {
			t.Fatalf("insert reading %d: %v", i, err)
		}
	}

	got := d.TripReadings(ctx, tripID, 4)
	if len(got) != 4 {
		t.Fatalf("expected limit=4 to return 4 readings, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("readings must be newest first")
		}
	}

	all := d.TripReadings(ctx, tripID, 0)
	if len(all) != 10 {
		t.Fatalf("default cap should return all 10 readings, got %d", len(all))
	}
}

func TestEnabledAlertRulesFilteredAndOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	vid, _ := d.UpsertVehicle(ctx, "WDB2030081A000009", "C-Class")

	rules := []model.AlertRule{
		{VehicleID: vid, Command: "SPEED", Condition: ">", Value: 130, Severity: model.SeverityWarning, IsEnabled: true},
		{VehicleID: vid, Command: "RPM", Condition: ">", Value: 6000, Severity: model.SeverityCritical, IsEnabled: true},
		{VehicleID: vid, Command: "COOLANT_TEMP", Condition: ">", Value: 100, Severity: model.SeverityWarning, IsEnabled: false},
	}
	for i := range rules {
		if _, err := d.CreateAlertRule(ctx, &rules[i]); err != nil {
			t.Fatalf("create rule %d: %v", i, err)
		}
	}

	got := d.EnabledAlertRules(ctx, vid)
	if len(got) != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", len(got))
	}
	if got[0].Command != "RPM" || got[1].Command != "SPEED" {
		t.Fatalf("rules must be ordered by command, got %s,%s", got[0].Command, got[1].Command)
	}
}

func TestAlertRuleValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	vid, _ := d.UpsertVehicle(ctx, "KMHDN45D11U000011", "Elantra")

	bad := model.AlertRule{VehicleID: vid, Command: "RPM", Condition: ">=", Value: 1, Severity: model.SeverityWarning}
	if _, err := d.CreateAlertRule(ctx, &bad); err == nil {
		t.Fatalf("expected invalid condition to be rejected")
	}
	bad = model.AlertRule{VehicleID: vid, Command: "RPM", Condition: ">", Value: 1, Severity: "FATAL"}
	if _, err := d.CreateAlertRule(ctx, &bad); err == nil {
		t.Fatalf("expected invalid severity to be rejected")
	}
}

func TestPruneOlderThan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	vid, _ := d.UpsertVehicle(ctx, "1G1YY22G965100013", "Corvette")

	mkTrip := func(ageDays int, readings int) int64 {
		t.Helper()
		id, err := d.StartTrip(ctx, vid)
		if err != nil {
			t.Fatalf("start trip: %v", err)
		}
		start := time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour)
		if err := d.ORM.Model(&model.Trip{}).Where("id = ?", id).
			Updates(map[string]any{"start_time": start, "end_time": start.Add(time.Hour)}).Error; err != nil {
			t.Fatalf("backdate trip: %v", err)
		}
		for i := 0; i < readings; i++ {
			d.LogReading(ctx, id, "RPM", "2000", "RPM")
		}
		d.LogAlertEvent(ctx, id, 1, "2000")
		return id
	}

	fresh := mkTrip(10, 3)
	mkTrip(40, 2)
	mkTrip(400, 4)

	trips, readings, err := d.PruneOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if trips != 2 {
		t.Fatalf("expected 2 pruned trips, got %d", trips)
	}
	if readings != 6 {
		t.Fatalf("expected 6 pruned readings, got %d", readings)
	}

	var remainingTrips int64
	d.ORM.Model(&model.Trip{}).Count(&remainingTrips)
	if remainingTrips != 1 {
		t.Fatalf("expected 1 remaining trip, got %d", remainingTrips)
	}
	var remainingReadings int64
	d.ORM.Model(&model.Reading{}).Where("trip_id = ?", fresh).Count(&remainingReadings)
	if remainingReadings != 3 {
		t.Fatalf("fresh trip readings must survive, got %d", remainingReadings)
	}
	var remainingEvents int64
	d.ORM.Model(&model.AlertEvent{}).Count(&remainingEvents)
	if remainingEvents != 1 {
		t.Fatalf("expected only the fresh trip's alert event, got %d", remainingEvents)
	}
}
