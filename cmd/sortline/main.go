// Sortline Core - Recycling Line Coordination Hub
//
// This is the main entry point for the Sortline Core application.
// Sortline Core coordinates the field devices on a material sorting
// line: camera units that classify passing material and controller
// units that drive conveyors and diverter actuators. Devices are
// intermittently connected; they check in over HTTP, and each check-in
// doubles as a command pickup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sortline/sortline-core/internal/api"
	"github.com/sortline/sortline-core/internal/classifier"
	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/discovery"
	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
	"github.com/sortline/sortline-core/internal/infrastructure/mqtt"
	"github.com/sortline/sortline-core/internal/infrastructure/tsdb"
	"github.com/sortline/sortline-core/internal/scheduler"
	"github.com/sortline/sortline-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Sortline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Core in-memory state: registry, command queue, telemetry logs
	prober := device.NewHTTPProber(cfg.Registry.GetProbeTimeout())
	registry := device.NewRegistry(prober, cfg.Registry.ProbeAttempts, log)
	queue := device.NewQueue(registry.Has, log)
	sensors := telemetry.NewLog[telemetry.SensorReading](telemetry.SensorLogCap)
	classifications := telemetry.NewLog[telemetry.ClassificationRecord](telemetry.ClassificationLogCap)
	log.Info("device registry initialised")

	// Network discovery (optional). The scanner lands in two interface
	// fields, so assign it only when enabled: a typed nil pointer would
	// defeat the nil checks downstream.
	var apiScanner api.Scanner
	var schedScanner scheduler.Scanner
	var targets func() ([]string, error)
	if cfg.Discovery.Enabled {
		scanner := discovery.NewScanner(cfg.Discovery.GetProbeTimeout(), cfg.Discovery.Fanout, log)
		apiScanner = scanner
		schedScanner = scanner
		targets = buildTargets(cfg.Discovery)
		log.Info("discovery enabled",
			"network", cfg.Discovery.Network,
			"addresses", len(cfg.Discovery.Addresses),
		)
	} else {
		log.Info("discovery disabled")
	}

	// External classifier service (optional)
	var scorer classifier.Scorer
	if cfg.Classifier.Enabled {
		scorer = classifier.NewHTTPScorer(cfg.Classifier.URL, cfg.Classifier.GetTimeout(), cfg.Classifier.Attempts, log)
		log.Info("classifier enabled", "url", cfg.Classifier.URL)
	} else {
		log.Info("classifier disabled")
	}

	// MQTT event bridge (optional). The hub works fine without it, so a
	// broker outage at boot degrades to local-only events rather than
	// blocking startup.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without event bridge", "error", err)
			mqttClient = nil
		} else {
			defer func() {
				log.Info("disconnecting from MQTT")
				mqttClient.Close()
			}()
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB telemetry mirror (optional)
	var tsdbClient *tsdb.Client
	if cfg.InfluxDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.InfluxDB, log)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			tsdbClient.Close()
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// API server with the observer hub
	server, err := api.New(api.Deps{
		Config:          cfg.API,
		WS:              cfg.WebSocket,
		Logger:          log,
		Registry:        registry,
		Queue:           queue,
		Sensors:         sensors,
		Classifications: classifications,
		Scanner:         apiScanner,
		Targets:         targets,
		Scorer:          scorer,
		MQTT:            mqttClient,
		TSDB:            tsdbClient,
		Version:         version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	hub := server.Hub()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Background loops: periodic discovery, staleness sweep, heartbeat
	sched := scheduler.New(scheduler.Deps{
		Config:     cfg.Scheduler,
		StaleAfter: cfg.Registry.GetStaleAfter(),
		Registry:   registry,
		Scanner:    schedScanner,
		Targets:    targets,
		Publisher:  hub,
		Snapshot: func() any {
			return api.Snapshot(registry, queue, sensors, classifications, hub)
		},
		Logger: log,
	})
	sched.Start(ctx)
	defer func() {
		log.Info("stopping scheduler")
		sched.Close()
	}()
	log.Info("scheduler started",
		"discovery_interval_min", cfg.Scheduler.DiscoveryInterval,
		"stale_sweep_interval_min", cfg.Scheduler.StaleSweepInterval,
		"heartbeat_interval_sec", cfg.Scheduler.HeartbeatInterval,
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// buildTargets assembles the discovery candidate list from the
// configured CIDR range plus any explicit addresses. Evaluated fresh
// on every sweep so an invalid range surfaces as an error, not a
// silent empty scan.
func buildTargets(cfg config.DiscoveryConfig) func() ([]string, error) {
	return func() ([]string, error) {
		var targets []string
		if cfg.Network != "" {
			expanded, err := discovery.ExpandCIDR(cfg.Network)
			if err != nil {
				return nil, fmt.Errorf("expanding discovery network %q: %w", cfg.Network, err)
			}
			targets = expanded
		}
		return append(targets, cfg.Addresses...), nil
	}
}

// getConfigPath returns the configuration file path.
// Uses SORTLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SORTLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
