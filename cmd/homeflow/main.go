// Homeflow - home automation rule and routine engine.
//
// The binary loads configuration, opens the SQLite store, and wires the
// device store, arbiter, automation engine, anomaly detector, REST and
// WebSocket API, MQTT bridge and optional telemetry sinks.
//
// Usage:
//
//	homeflow                          run the engine
//	homeflow guardian-token <subject> print a token that may set or clear AI locks
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/homeflow/internal/anomaly"
	"github.com/nerrad567/homeflow/internal/api"
	"github.com/nerrad567/homeflow/internal/arbiter"
	"github.com/nerrad567/homeflow/internal/audit"
	"github.com/nerrad567/homeflow/internal/auth"
	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/bridge"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
	"github.com/nerrad567/homeflow/internal/infrastructure/config"
	"github.com/nerrad567/homeflow/internal/infrastructure/database"
	"github.com/nerrad567/homeflow/internal/infrastructure/influxdb"
	"github.com/nerrad567/homeflow/internal/infrastructure/logging"
	"github.com/nerrad567/homeflow/internal/infrastructure/mqtt"
	"github.com/nerrad567/homeflow/internal/infrastructure/redis"
	"github.com/nerrad567/homeflow/internal/telemetry"
	"github.com/nerrad567/homeflow/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/homeflow.yaml"

func main() {
	loadDotEnv()

	if len(os.Args) > 1 && os.Args[1] == "guardian-token" {
		if err := runGuardianToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}
}

// run wires every component and blocks until ctx is cancelled.
//
// Shutdown runs the deferred closers in reverse order: API, telemetry,
// bridge, MQTT, audit, detector, engine, executor, bus, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Homeflow", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.Source())
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	bus := events.NewBus()
	bus.SetLogger(log.Component("events"))
	defer bus.Close()

	// Devices
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	store := device.NewStore(device.NewSQLiteRepository(db.DB), bus, log.Component("device"))
	store.SetAuthorizer(newArbiter(cfg, log))
	store.SetHistory(history)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	seeded, err := seedDevices(ctx, store, cfg.Devices)
	if err != nil {
		return fmt.Errorf("seeding devices: %w", err)
	}
	log.Info("device store ready", "devices", store.Count(), "seeded", seeded)

	// Automation
	registry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB), store)
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}
	executor := automation.NewExecutor(store, bus, nil, log.Component("executor"))
	defer executor.Close()

	engine := automation.NewEngine(engineConfig(cfg), registry, executor, store, bus, nil, log.Component("automation"))
	if cfg.Suggestions.URL != "" {
		engine.SetSuggestionService(automation.NewHTTPSuggestionClient(cfg.Suggestions.URL, cfg.Suggestions.Timeout))
		log.Info("suggestion service configured", "url", cfg.Suggestions.URL)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer engine.Stop()

	// Anomaly detection
	detector := anomaly.NewDetector(anomaly.NewSQLiteRepository(db.DB), store, bus, anomaly.Config{
		Thresholds: thresholds(cfg.Engine.Thresholds),
		TTL:        cfg.Engine.AlertTTL,
		Tick:       cfg.Engine.AnomalyTick,
	}, nil, log.Component("anomaly"))
	if err := detector.Load(ctx); err != nil {
		return fmt.Errorf("loading alerts: %w", err)
	}
	detector.Start(ctx)
	defer detector.Stop()

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRecorder := audit.NewRecorder(auditRepo, log.Component("audit"))
	auditRecorder.Attach(bus)
	defer auditRecorder.Close()

	guardian, err := auth.NewGuardian(cfg.Security.Guardian.Secret, guardianTTL(cfg))
	if err != nil {
		return fmt.Errorf("creating guardian: %w", err)
	}

	// MQTT
	var mqttClient *mqtt.Client
	var mqttStatus api.ConnectionStatus
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer mqttClient.Close() //nolint:errcheck // shutdown path
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		mqttStatus = mqttClient

		mqttBridge := bridge.New(mqttClient, store, engine, log.Component("bridge"))
		if err := mqttBridge.Start(bus); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer mqttBridge.Stop()
		log.Info("MQTT bridge started",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix)
	} else {
		log.Info("MQTT disabled")
	}

	// Telemetry
	influxClient, redisClient, err := connectTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer influxClient.Close() //nolint:errcheck // shutdown path
	defer redisClient.Close()  //nolint:errcheck // shutdown path
	if recorder := newRecorder(influxClient, redisClient, log); recorder != nil {
		if err := recorder.Sync(ctx, store.List(ctx)); err != nil {
			log.Warn("initial mirror sync failed", "error", err)
		}
		recorder.Attach(bus)
		defer recorder.Close()
	}

	// API
	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Devices:  store,
		History:  history,
		Engine:   engine,
		Detector: detector,
		Bus:      bus,
		Guardian: guardian,
		Audit:    auditRepo,
		MQTT:     mqttStatus,
		DB:       db.DB,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	rules, routines, scenarios := registry.Counts()
	log.Info("initialisation complete",
		"rules", rules,
		"routines", routines,
		"scenarios", scenarios,
		"alerts_active", detector.ActiveCount())

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns HOMEFLOW_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("HOMEFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// engineConfig maps the engine config section onto automation.EngineConfig.
func engineConfig(cfg *config.Config) automation.EngineConfig {
	return automation.EngineConfig{
		FiringPolicy:  automation.FiringPolicy(strings.ToLower(cfg.Engine.FiringPolicy)),
		Location:      cfg.Location(),
		Latitude:      cfg.Site.Location.Latitude,
		Longitude:     cfg.Site.Location.Longitude,
		SuggestionTTL: cfg.Engine.SuggestionTTL,
	}
}

// thresholds overlays configured limits on the detector defaults.
func thresholds(tc config.ThresholdConfig) anomaly.Thresholds {
	t := anomaly.DefaultThresholds()
	if tc.LowBattery > 0 {
		t.LowBattery = tc.LowBattery
	}
	if tc.ThermostatDrift > 0 {
		t.ThermostatDrift = tc.ThermostatDrift
	}
	if tc.LeakFlowRate > 0 {
		t.LeakFlowRate = tc.LeakFlowRate
	}
	if tc.MaintenanceCycle > 0 {
		t.MaintenanceCycles = tc.MaintenanceCycle
	}
	return t
}

// guardianTTL converts security.guardian.token_ttl (minutes). Zero lets the
// guardian apply its own default.
func guardianTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Security.Guardian.TokenTTL) * time.Minute
}

// seedDevices registers the configured devices when the store is empty.
// A populated store is left alone so edits made at runtime survive restarts.
func seedDevices(ctx context.Context, store *device.Store, seeds []config.DeviceSeed) (int, error) {
	if store.Count() > 0 || len(seeds) == 0 {
		return 0, nil
	}
	for _, s := range seeds {
		d, err := device.NewDevice(s.ID, s.Name, s.RoomID, device.Type(s.Type), s.Status)
		if err != nil {
			return 0, fmt.Errorf("device %s: %w", s.ID, err)
		}
		if err := store.Register(ctx, d); err != nil {
			return 0, fmt.Errorf("device %s: %w", s.ID, err)
		}
	}
	return len(seeds), nil
}

// connectTelemetry connects the optional InfluxDB and Redis sinks. A
// disabled sink comes back nil.
func connectTelemetry(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, *redis.Client, error) {
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		c, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		c.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		influxClient = c
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		c, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			influxClient.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		redisClient = c
		log.Info("Redis mirror connected", "addr", cfg.Redis.Addr, "prefix", c.Keys().Prefix)
	}
	return influxClient, redisClient, nil
}

// newRecorder builds a telemetry recorder over the connected sinks, or
// returns nil when neither is configured. Nil clients are not passed as
// interfaces.
func newRecorder(influxClient *influxdb.Client, redisClient *redis.Client, log *logging.Logger) *telemetry.Recorder {
	var points telemetry.PointWriter
	var mirror telemetry.Mirror
	if influxClient != nil {
		points = influxClient
	}
	if redisClient != nil {
		mirror = redisClient
	}
	if points == nil && mirror == nil {
		return nil
	}
	return telemetry.NewRecorder(points, mirror, log.Component("telemetry"))
}

// healthCheck verifies the required connections. influxClient and
// mqttClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// newArbiter builds the lock arbiter trusting the configured guardian
// capability and logging its denials.
func newArbiter(cfg *config.Config, log *logging.Logger) *arbiter.Arbiter {
	a := arbiter.New(cfg.Security.Guardian.TrustedCapability)
	a.SetLogger(log.Component("arbiter"))
	return a
}

// runGuardianToken prints a guardian token for subject. The token carries
// the configured trusted capability and lets its holder set or clear the
// AI lock through the X-Guardian-Token header.
func runGuardianToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("guardian-token", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "path to the config file")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.guardian.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: homeflow guardian-token [-config path] [-ttl 1h] <subject>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = guardianTTL(cfg)
	}

	guardian, err := auth.NewGuardian(cfg.Security.Guardian.Secret, lifetime)
	if err != nil {
		return fmt.Errorf("creating guardian: %w", err)
	}
	token, err := guardian.Issue(fs.Arg(0), cfg.Security.Guardian.TrustedCapability)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
