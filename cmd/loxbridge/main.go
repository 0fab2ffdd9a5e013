// LoxBridge - Loxone Miniserver integration bridge
//
// This is the main entry point for the LoxBridge daemon. It maintains a
// persistent session with a Loxone Miniserver and exposes its controls
// over MQTT and a REST API, with optional local history and InfluxDB
// telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loxbridge/loxbridge/internal/api"
	"github.com/loxbridge/loxbridge/internal/bridge"
	"github.com/loxbridge/loxbridge/internal/history"
	"github.com/loxbridge/loxbridge/internal/infrastructure/config"
	"github.com/loxbridge/loxbridge/internal/infrastructure/influxdb"
	"github.com/loxbridge/loxbridge/internal/infrastructure/logging"
	"github.com/loxbridge/loxbridge/internal/infrastructure/mqtt"
	"github.com/loxbridge/loxbridge/internal/loxone"
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

// historyPruneTimeout bounds the startup retention sweep.
const historyPruneTimeout = 30 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LoxBridge",
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

	// Connect to the Miniserver
	loxClient := loxone.NewClient(loxone.Config{
		Host:                  cfg.Miniserver.Host,
		Port:                  cfg.Miniserver.Port,
		Username:              cfg.Miniserver.Username,
		Password:              cfg.Miniserver.Password,
		UseTLS:                cfg.Miniserver.UseTLS,
		InsecureSkipVerify:    !cfg.Miniserver.VerifyTLS,
		Permission:            cfg.Miniserver.Permission,
		ClientInfo:            cfg.Miniserver.ClientInfo,
		TokenRefreshThreshold: cfg.Miniserver.RefreshThreshold(),
		ReconnectDelay:        cfg.Miniserver.ReconnectInterval(),
	})
	loxClient.SetLogger(log.With("component", "loxone"))

	controls, err := loxClient.Start(ctx)
	if err != nil {
		return fmt.Errorf("connecting to miniserver: %w", err)
	}
	defer func() {
		log.Info("disconnecting from miniserver")
		loxClient.Stop()
	}()
	log.Info("miniserver connected",
		"host", cfg.Miniserver.Host,
		"controls", len(controls),
	)

	// Open state history store (optional)
	var historyStore *history.Store
	if cfg.History.Enabled {
		historyStore, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer func() {
			log.Info("closing history store")
			if closeErr := historyStore.Close(); closeErr != nil {
				log.Error("error closing history store", "error", closeErr)
			}
		}()
		log.Info("history store opened", "path", cfg.History.Path)

		if cfg.History.RetentionDays > 0 {
			pruneCtx, pruneCancel := context.WithTimeout(ctx, historyPruneTimeout)
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			deleted, pruneErr := historyStore.Prune(pruneCtx, retention)
			pruneCancel()
			if pruneErr != nil {
				log.Warn("history prune failed", "error", pruneErr)
			} else if deleted > 0 {
				log.Info("history pruned", "deleted", deleted, "retention_days", cfg.History.RetentionDays)
			}
		}
	} else {
		log.Info("history disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)

		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the state/command bridge
	eventBridge, err := bridge.New(bridge.Deps{
		Logger:     log.With("component", "bridge"),
		Miniserver: loxClient,
		MQTT:       publisherOrNil(mqttClient),
		History:    recorderOrNil(historyStore),
		Telemetry:  telemetryOrNil(influxClient),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := eventBridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		if closeErr := eventBridge.Close(); closeErr != nil {
			log.Error("error closing bridge", "error", closeErr)
		}
	}()
	log.Info("bridge started")

	// Start the REST API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			Miniserver: loxClient,
			History:    historyReaderOrNil(historyStore),
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API, bridge, InfluxDB, MQTT, history, miniserver.

	log.Info("LoxBridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LOXBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LOXBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// The typed-nil guards below keep a disabled component from reaching the
// bridge as a non-nil interface wrapping a nil pointer.

func publisherOrNil(c *mqtt.Client) bridge.Publisher {
	if c == nil {
		return nil
	}
	return c
}

func recorderOrNil(s *history.Store) bridge.Recorder {
	if s == nil {
		return nil
	}
	return s
}

func telemetryOrNil(c *influxdb.Client) bridge.Telemetry {
	if c == nil {
		return nil
	}
	return c
}

func historyReaderOrNil(s *history.Store) api.HistoryReader {
	if s == nil {
		return nil
	}
	return s
}
