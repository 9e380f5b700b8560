package vehicledb_test

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"obd-datalogger/pkg/vehicledb"
)

func newTestClient(t *testing.T) *vehicledb.Client {
	t.Helper()
	c, err := vehicledb.Open(filepath.Join(t.TempDir(), "client_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientVehicleRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t)

	id, err := c.UpsertVehicle(ctx, "1FTFW1ET5DFC00031", "F-150")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	vehicles := c.ListVehicles(ctx)
	if len(vehicles) != 1 {
		t.Fatalf("expected 1 vehicle, got %d", len(vehicles))
	}
	if vehicles[0].ID != id || vehicles[0].VIN != "1FTFW1ET5DFC00031" || vehicles[0].Name != "F-150" {
		t.Fatalf("unexpected vehicle %+v", vehicles[0])
	}
}

func TestClientTripAndExport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t)

	vid, err := c.UpsertVehicle(ctx, "2HGFA16508H000033", "Civic")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	tripID, err := c.StartTrip(ctx, vid)
	if err != nil {
		t.Fatalf("start trip: %v", err)
	}
	if err := c.EndTrip(ctx, tripID); err != nil {
		t.Fatalf("end trip: %v", err)
	}

	if got := c.TripReadings(ctx, tripID, 0); len(got) != 0 {
		t.Fatalf("expected no readings for a fresh trip, got %d", len(got))
	}
	out := filepath.Join(t.TempDir(), "trip.csv")
	if c.ExportTripCSV(ctx, tripID, out) {
		t.Fatalf("export of a trip without readings must report failure")
	}

	trips, readings, err := c.PruneOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if trips != 0 || readings != 0 {
		t.Fatalf("fresh trip must survive a 30 day prune, removed %d/%d", trips, readings)
	}
}

func TestClientRuleManagement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t)

	vid, err := c.UpsertVehicle(ctx, "3VWFE21C04M000035", "Jetta")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ruleID, err := c.CreateAlertRule(ctx, &vehicledb.AlertRule{
		VehicleID: vid,
		Command:   "COOLANT_TEMP",
		Condition: ">",
		Value:     105,
		Severity:  vehicledb.SeverityCritical,
		IsEnabled: true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	rules, err := c.ListAlertRules(ctx, vid)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != ruleID || rules[0].Value != 105 {
		t.Fatalf("unexpected rules %+v", rules)
	}

	if err := c.SetRuleEnabled(ctx, ruleID, false); err != nil {
		t.Fatalf("disable rule: %v", err)
	}
	rules, _ = c.ListAlertRules(ctx, vid)
	if rules[0].IsEnabled {
		t.Fatalf("rule must be disabled")
	}

	if err := c.SetRuleEnabled(ctx, 9999, true); err == nil {
		t.Fatalf("expected error for missing rule id")
	}

	if err := c.DeleteAlertRule(ctx, ruleID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	rules, _ = c.ListAlertRules(ctx, vid)
	if len(rules) != 0 {
		t.Fatalf("expected no rules after delete, got %d", len(rules))
	}
}
