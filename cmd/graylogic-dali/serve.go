package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-dali/migrations"

	"github.com/nerrad567/gray-logic-dali/internal/api"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/commissioning"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/mqtt"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the light bridge and commissioning API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

// runServe is the service lifecycle. Everything opened here is closed by
// the defer chain in reverse order once ctx is cancelled.
func runServe(ctx context.Context, flags *globalFlags) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic DALI",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", getConfigPath(flags))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	if !cfg.DALI.Enabled {
		return errors.New("dali is disabled in config, nothing to serve")
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	runs := commissioning.NewSQLiteRepository(db.DB)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	gateway, err := connectGateway(ctx, cfg.DALI, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing DALI gateway connection")
		if closeErr := gateway.Close(); closeErr != nil {
			log.Error("error closing DALI gateway", "error", closeErr)
		}
	}()
	bus := dali.NewGatewayBus(gateway)

	// Prometheus is always on; InfluxDB receives the same data when enabled.
	collector := metrics.New()
	collector.RegisterGateway(gateway)
	runRecorders := commissioning.MetricsRecorders{collector}
	levelWriters := dali.MetricsWriters{collector}
	if influxClient != nil {
		runRecorders = append(runRecorders, influxClient)
		levelWriters = append(levelWriters, influxClient)
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	// The bridge is created after the commissioner because it uses the
	// commissioner as its guard; the reset sink reads it lazily.
	var bridge *dali.Bridge
	resetLevels := commissioning.EventSinkFunc(func(ev commissioning.Event) {
		if ev.Type == commissioning.EventRunFinished && bridge != nil {
			bridge.ResetLevels()
		}
	})

	commissioner := commissioning.NewCommissioner(bus, commissioning.Options{
		Logger:  log.Component("commissioning"),
		Events:  []commissioning.EventSink{hub, commissioning.NewMQTTEventSink(mqttClient, log), resetLevels},
		Metrics: runRecorders,
		Store:   runs,
	})

	bridge, err = startBridge(ctx, cfg, mqttClient, gateway, bus, commissioner, levelWriters, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping DALI bridge")
		bridge.Stop()
	}()

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
		"gateway":  gateway,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log.Component("api"),
		Commissioner: commissioner,
		Runs:         runs,
		Lights:       bridge,
		Checks:       checks,
		Hub:          hub,
		Metrics:      collector.Handler(),
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// A startup run must TERMINATE before the gateway closes. Deferred
	// last, so it runs first.
	var startup sync.WaitGroup
	defer startup.Wait()
	if cfg.DALI.CommissionOnStart {
		startup.Add(1)
		go func() {
			defer startup.Done()
			res, runErr := commissioner.Run(ctx)
			if runErr != nil {
				log.Error("startup commissioning failed", "error", runErr)
				return
			}
			log.Info("startup commissioning complete", "run_id", res.RunID, "assigned", len(res.Assignments))
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	log.Info("Gray Logic DALI stopped")
	return nil
}

// openDatabase opens the run store and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// connectInflux returns nil without error when InfluxDB is disabled.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// runMetrics avoids handing the commissioner a typed nil.
func runMetrics(c *influxdb.Client) commissioning.MetricsRecorder {
	if c == nil {
		return nil
	}
	return c
}

// connectGateway dials the DALI gateway and selects the configured line.
func connectGateway(ctx context.Context, cfg config.DALIConfig, log *logging.Logger) (*dali.GatewayClient, error) {
	gateway, err := dali.ConnectGateway(ctx, dali.GatewayConfig{
		Connection:      cfg.Gateway.Connection,
		Bus:             uint8(cfg.Bus), //nolint:gosec // validated 0-255 by config
		ConnectTimeout:  cfg.Gateway.ConnectTimeout,
		ResponseTimeout: cfg.Gateway.ResponseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to DALI gateway: %w", err)
	}
	gateway.SetLogger(log.Component("gateway"))
	log.Info("connected to DALI gateway", "url", cfg.Gateway.Connection, "bus", cfg.Bus)
	return gateway, nil
}

// startBridge creates the MQTT light bridge with its health reporter.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	gateway *dali.GatewayClient,
	bus *dali.GatewayBus,
	guard *commissioning.Commissioner,
	levels dali.MetricsWriter,
	log *logging.Logger,
) (*dali.Bridge, error) {
	health := dali.NewHealthReporter(dali.HealthReporterConfig{
		BridgeID:  cfg.DALI.DeviceName,
		Version:   version,
		Interval:  cfg.DALI.HealthInterval,
		Publisher: mqttClient,
		Gateway:   gateway,
		Guard:     guard,
	})

	bridge, err := dali.NewBridge(dali.BridgeOptions{
		DeviceName: cfg.DALI.DeviceName,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Bus:        bus,
		Guard:      guard,
		Metrics:    levels,
		Health:     health,
		Logger:     log.Component("dali-bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating DALI bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, fmt.Errorf("starting DALI bridge: %w", err)
	}
	log.Info("DALI bridge started", "device_name", cfg.DALI.DeviceName)
	return bridge, nil
}

// healthCheck verifies every dependency once before declaring readiness.
// Checks run in a fixed order so failures are reported deterministically.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb", "gateway"} {
		c, ok := checks[name]
		if !ok {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the DALI
// bridge's MQTTClient interface. The difference is the handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - DALI bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements dali.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements dali.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements dali.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
