package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"obd-datalogger/pkg/vehicledb"
)

func main() {
	var dbPath string
	var tripID int64
	var out string
	flag.StringVar(&dbPath, "db", "vehicle_data.db", "path to the vehicle database")
	flag.Int64Var(&tripID, "trip", 0, "trip id to export")
	flag.StringVar(&out, "out", "", "output CSV path (default trip_<id>.csv)")
	flag.Parse()

	if tripID <= 0 {
		log.Fatalf("a positive -trip id is required")
	}
	if out == "" {
		out = fmt.Sprintf("trip_%d.csv", tripID)
	}

	client, err := vehicledb.Open(dbPath, nil)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer client.Close()

	if !client.ExportTripCSV(context.Background(), tripID, out) {
		log.Printf("export failed: trip %d has no readings or the write failed", tripID)
		os.Exit(1)
	}
	log.Printf("trip %d exported to %s", tripID, out)
}
