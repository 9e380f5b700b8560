package vehicledb

import (
	"context"
	"time"

	"obd-datalogger/internal/model"
)

// --------------------
// Trip and reading DTOs
// --------------------

type Reading struct {
	ID        int64
	TripID    int64
	Timestamp time.Time
	Command   string
	Value     string
	Unit      string
}

func fromModelReading(r model.Reading) Reading {
	return Reading{
		ID:        r.ID,
		TripID:    r.TripID,
		Timestamp: r.Timestamp,
		Command:   r.Command,
		Value:     r.Value,
		Unit:      r.Unit,
	}
}

// --------------------
// Trip operations
// --------------------

// StartTrip opens a trip for the vehicle, closing any trip still open for
// it, and returns the new trip id.
func (c *Client) StartTrip(ctx context.Context, vehicleID int64) (int64, error) {
	return c.db.StartTrip(ctx, vehicleID)
}

// EndTrip closes a trip. A missing trip id is logged, not an error.
func (c *Client) EndTrip(ctx context.Context, tripID int64) error {
	return c.db.EndTrip(ctx, tripID)
}

// TripReadings returns the newest readings of a trip, most recent first.
// limit <= 0 applies the default cap.
func (c *Client) TripReadings(ctx context.Context, tripID int64, limit int) []Reading {
	rows := c.db.TripReadings(ctx, tripID, limit)
	out := make([]Reading, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModelReading(r))
	}
	return out
}

// ExportTripCSV writes the trip's readings to path; see the store contract
// for the format. Returns false when there is nothing to export or the
// write fails.
func (c *Client) ExportTripCSV(ctx context.Context, tripID int64, path string) bool {
	return c.db.ExportTripCSV(ctx, tripID, path)
}

// PruneOlderThan removes trips older than days together with their readings
// and alert events, then compacts the database file.
func (c *Client) PruneOlderThan(ctx context.Context, days int) (trips, readings int64, err error) {
	return c.db.PruneOlderThan(ctx, days)
}
