package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"obd-datalogger/internal/config"
	"obd-datalogger/internal/db"
	"obd-datalogger/internal/logger"
	"obd-datalogger/internal/obd"
	"obd-datalogger/internal/telemetry"
)

func main() {
	var cfgPath string
	var port string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config (optional)")
	flag.StringVar(&port, "port", "", "serial port override (e.g. /dev/ttyUSB0)")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			os.Stderr.WriteString("load config: " + err.Error() + "\n")
			os.Exit(1)
		}
	}
	if port != "" {
		cfg.Connection.Port = port
	}

	log := logger.New(cfg.Debug)
	defer log.Sync()

	store, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer store.Close()

	if cfg.Connection.Port == "" {
		ports := obd.ScanPorts()
		if len(ports) == 0 {
			log.Fatal("no serial ports found; set connection.port")
		}
		cfg.Connection.Port = ports[0]
		log.Info("using first scanned port", zap.String("port", cfg.Connection.Port))
	}

	conn := obd.NewELM327(log)
	conn.BaudRate = cfg.Connection.BaudRate
	conn.PollInterval = cfg.Connection.PollInterval.Std()

	coord := telemetry.New(store, conn, telemetry.Options{
		ConnectTimeout:  cfg.Connection.Timeout.Std(),
		RefreshInterval: cfg.Logging.RefreshInterval.Std(),
		QueueSize:       cfg.Logging.QueueSize,
		DedupTTL:        cfg.Logging.DedupTTL.Std(),
		Commands:        commandSet(cfg.Connection.Commands),
	}, log)

	// Handle SIGINT/SIGTERM for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range coord.Events() {
			logEvent(log, ev)
		}
	}()

	go func() {
		if err := coord.Connect(cfg.Connection.Port); err != nil {
			log.Error("initial connect failed", zap.Error(err))
		}
	}()

	s := <-sigCh
	log.Info("received signal, shutting down", zap.String("signal", s.String()))
	coord.Close()
	<-done
}

// commandSet maps config command names onto the telemetry command set.
// Unknown names are dropped with the default set as fallback for an empty
// result.
func commandSet(names []string) []obd.Command {
	if len(names) == 0 {
		return nil
	}
	known := make(map[string]obd.Command, len(telemetry.DefaultCommands))
	for _, cmd := range telemetry.DefaultCommands {
		known[string(cmd)] = cmd
	}
	var out []obd.Command
	for _, n := range names {
		if cmd, ok := known[n]; ok {
			out = append(out, cmd)
		}
	}
	return out
}

func logEvent(log *zap.Logger, ev telemetry.Event) {
	switch ev.Type {
	case telemetry.EventStatus:
		log.Info("status", zap.String("state", ev.State), zap.Bool("logging", ev.Logging), zap.String("message", ev.Message))
	case telemetry.EventGauge:
		log.Debug("gauge", zap.String("command", ev.Command), zap.Float64("value", ev.Value), zap.String("unit", ev.Unit))
	case telemetry.EventAlertRaised:
		log.Warn("alert", zap.String("severity", ev.Severity), zap.String("message", ev.Message))
	case telemetry.EventAlertCleared:
		log.Info("alert cleared", zap.String("command", ev.Command))
	case telemetry.EventLogRefresh:
		log.Debug("log refresh", zap.Int("readings", len(ev.Readings)))
	}
}
