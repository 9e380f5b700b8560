package db

import (
	"context"
	"encoding/csv"
	"os"

	"go.uber.org/zap"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// ExportTripCSV writes every reading of the trip to path as UTF-8 CSV with
// a "timestamp,command,value,unit" header, ascending by timestamp and with
// local-time timestamps. Returns false (and logs) when the trip has no
// readings or the write fails; no file is created for an empty trip.
func (d *DB) ExportTripCSV(ctx context.Context, tripID int64, path string) bool {
	rows, err := d.tripReadingsAsc(ctx, tripID)
	if err != nil {
		d.log.Error("export trip: query", zap.Int64("trip_id", tripID), zap.Error(err))
		return false
	}
	if len(rows) == 0 {
		d.log.Warn("export trip: no readings", zap.Int64("trip_id", tripID))
		return false
	}

	f, err := os.Create(path)
	if err != nil {
		d.log.Error("export trip: create file", zap.String("path", path), zap.Error(err))
		return false
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "command", "value", "unit"}); err != nil {
		d.log.Error("export trip: write header", zap.Error(err))
		return false
	}
	for _, r := range rows {
		rec := []string{
			r.Timestamp.Local().Format(exportTimeLayout),
			r.Command,
			r.Value,
			r.Unit,
		}
		if err := w.Write(rec); err != nil {
			d.log.Error("export trip: write record", zap.Error(err))
			return false
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		d.log.Error("export trip: flush", zap.Error(err))
		return false
	}
	d.log.Info("trip exported", zap.Int64("trip_id", tripID), zap.String("path", path), zap.Int("readings", len(rows)))
	return true
}
