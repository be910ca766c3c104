// Command partialpick runs the picking terminal core: it keeps both scale
// links alive, watches for settled in-tolerance weights and commits picks
// against the backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"partialpick/internal/backend"
	"partialpick/internal/cache"
	"partialpick/internal/models"
	"partialpick/internal/monitoring"
	"partialpick/internal/picking"
	"partialpick/internal/scale"
	"partialpick/internal/stability"
)

var (
	metricsPort = flag.Int("metrics-port", 9090, "Metrics server port")
	configFile  = flag.String("config", "configs/config.yaml", "Path to configuration file")
)

// Config represents the terminal configuration.
type Config struct {
	WorkstationID string `yaml:"workstation_id"`
	BackendURL    string `yaml:"backend_url"`
	CachePath     string `yaml:"cache_path"`

	Scales struct {
		SmallURL string `yaml:"small_url"`
		BigURL   string `yaml:"big_url"`
	} `yaml:"scales"`

	Backoff struct {
		BaseMS     int `yaml:"base_ms"`
		CapMS      int `yaml:"cap_ms"`
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"backoff"`

	Stability struct {
		HoldMS     int `yaml:"hold_ms"`
		DebounceMS int `yaml:"debounce_ms"`
	} `yaml:"stability"`
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	runCache, err := cache.Open(config.CachePath)
	if err != nil {
		log.Fatalf("Failed to open run cache: %v", err)
	}
	defer runCache.Close()

	api := backend.NewClient(config.BackendURL)
	if err := api.CheckHealth(ctx); err != nil {
		log.Printf("Backend not reachable yet: %v", err)
	}

	small := scale.NewLink(models.ScaleSmall, scale.LinkConfig{
		URL:         config.Scales.SmallURL,
		BackoffBase: time.Duration(config.Backoff.BaseMS) * time.Millisecond,
		BackoffCap:  time.Duration(config.Backoff.CapMS) * time.Millisecond,
		MaxRetries:  config.Backoff.MaxRetries,
	})
	big := scale.NewLink(models.ScaleBig, scale.LinkConfig{
		URL:         config.Scales.BigURL,
		BackoffBase: time.Duration(config.Backoff.BaseMS) * time.Millisecond,
		BackoffCap:  time.Duration(config.Backoff.CapMS) * time.Millisecond,
		MaxRetries:  config.Backoff.MaxRetries,
	})

	hub := scale.NewHub(small, big)
	monitor := stability.NewMonitor(stability.Config{
		Hold:     time.Duration(config.Stability.HoldMS) * time.Millisecond,
		Debounce: time.Duration(config.Stability.DebounceMS) * time.Millisecond,
	})
	session := picking.NewSession(config.WorkstationID, api, hub, runCache)

	wireAutoCapture(ctx, hub, monitor, session, metrics)

	hub.ConnectAll()
	defer hub.DisconnectAll()

	go startMetricsServer(*metricsPort)

	log.Printf("terminal %s up, active scale %s", config.WorkstationID, hub.Active())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
}

// wireAutoCapture connects the telemetry pipeline: samples feed the stability
// monitor and the metrics, the session's selection drives the tolerance
// window, and a settled reading commits a pick when the session allows it.
func wireAutoCapture(ctx context.Context, hub *scale.Hub, monitor *stability.Monitor, session *picking.Session, metrics *monitoring.Metrics) {
	hub.OnSample(func(sample models.WeightSample) {
		metrics.ObserveSample(sample)
		monitor.Observe(sample)
	})

	hub.OnState(func(id models.ScaleID, state models.ConnectionState) {
		log.Printf("scale %s: %s", id, state)
		metrics.SetScaleState(id, state)
		// Losing the active scale invalidates any hold in progress.
		if id == hub.Active() && state != models.StateConnected {
			monitor.Reset()
		}
	})

	session.OnOffline(metrics.OfflineFallbacks.Inc)

	session.OnChange(func() {
		view := session.Snapshot()
		if view.CurrentItem != nil {
			monitor.SetWindow(view.CurrentItem.WeightRangeLow, view.CurrentItem.WeightRangeHigh)
		} else {
			monitor.ClearWindow()
		}
	})

	monitor.OnStable(func(reading models.StableReading) {
		metrics.StableReadings.Inc()
		if !session.CanCapture() {
			return
		}
		start := time.Now()
		record, err := session.SavePick(ctx, reading.Weight, models.SourceAutomatic)
		metrics.ObservePick(models.SourceAutomatic, time.Since(start), err)
		if err != nil {
			log.Printf("auto capture of %.3f kg rejected: %v", reading.Weight, err)
			return
		}
		log.Printf("picked %.3f kg of run %s line %d (lot %s)",
			record.CapturedWeight, record.RunNo, record.LineID, record.LotNo)
	})
}

// loadConfig reads the yaml configuration, filling defaults for anything the
// file leaves out.
func loadConfig(path string) (*Config, error) {
	config := &Config{}
	config.WorkstationID = "WS-01"
	config.CachePath = "runs.db"
	config.Scales.SmallURL = "ws://localhost:9000/ws?scale=small"
	config.Scales.BigURL = "ws://localhost:9000/ws?scale=big"

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No config at %s, using defaults", path)
			return config, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return config, nil
}

func startMetricsServer(port int) {
	metricsRouter := gin.Default()
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: metricsRouter,
	}

	log.Printf("Starting metrics server on port %d", port)
	if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("Metrics server error: %v", err)
	}
}
