package main

import (
	"context"
	"flag"
	"log"

	"obd-datalogger/pkg/vehicledb"
)

func main() {
	var dbPath string
	var days int
	var yes bool
	flag.StringVar(&dbPath, "db", "vehicle_data.db", "path to the vehicle database")
	flag.IntVar(&days, "days", 30, "delete trips older than this many days")
	flag.BoolVar(&yes, "yes", false, "confirm the deletion; without it nothing is removed")
	flag.Parse()

	if !yes {
		log.Fatalf("this deletes trips older than %d days and cannot be undone; re-run with -yes", days)
	}

	client, err := vehicledb.Open(dbPath, nil)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer client.Close()

	trips, readings, err := client.PruneOlderThan(context.Background(), days)
	if err != nil {
		log.Fatalf("prune: %v", err)
	}
	log.Printf("removed %d old trips and %d readings", trips, readings)
}
