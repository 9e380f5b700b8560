package vehicledb

import (
	"context"
	"time"

	"go.uber.org/zap"

	dbpkg "obd-datalogger/internal/db"
	"obd-datalogger/internal/model"
)

// Client exposes a stable API for external tools (exporters, rule editors,
// maintenance jobs) to access the vehicle database. Placed in client.go so
// that all other files can reference it.
type Client struct{ db *dbpkg.DB }

// Open opens the SQLite database (runs migrations) and returns a client.
func Open(path string, log *zap.Logger) (*Client, error) {
	d, err := dbpkg.Open(path, log)
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }

// --------------------
// Vehicle DTOs
// --------------------

type Vehicle struct {
	ID        int64
	VIN       string
	Name      string
	CreatedAt time.Time
}

func fromModelVehicle(v model.Vehicle) Vehicle {
	return Vehicle{ID: v.ID, VIN: v.VIN, Name: v.Name, CreatedAt: v.CreatedAt}
}

// UpsertVehicle returns the id for the VIN, creating the profile if needed.
func (c *Client) UpsertVehicle(ctx context.Context, vin, name string) (int64, error) {
	return c.db.UpsertVehicle(ctx, vin, name)
}

// ListVehicles returns all profiles ordered by name.
func (c *Client) ListVehicles(ctx context.Context) []Vehicle {
	rows := c.db.ListVehicles(ctx)
	out := make([]Vehicle, 0, len(rows))
	for _, v := range rows {
		out = append(out, fromModelVehicle(v))
	}
	return out
}
