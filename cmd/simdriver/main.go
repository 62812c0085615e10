// Command simdriver runs a simulated courier: it connects to the tracking
// broker, walks a synthetic route and publishes location updates on the
// configured cadence. Useful for exercising the broker and the admin map
// without a real device.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/errortracking"
	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
	"github.com/bitechdev/TrackSpec/pkg/stompspec"
	"github.com/bitechdev/TrackSpec/pkg/tracking"
)

func main() {
	driverID := flag.String("driver", "sim-driver-1", "driver id to publish as")
	orderID := flag.String("order", "", "active order id, empty when idle")
	token := flag.String("token", os.Getenv("TRACKSPEC_AUTH_TOKEN"), "bearer token for the broker")
	lat := flag.Float64("lat", 52.3676, "starting latitude")
	lng := flag.Float64("lng", 4.9041, "starting longitude")
	flag.Parse()

	// Load configuration
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("Failed to get configuration: %v", err)
	}

	// Initialize logger with configuration
	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	logger.Info("TrackSpec simulated driver starting (driver: %s)", *driverID)

	// Initialize error tracking
	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		logger.Error("Failed to initialize error tracking: %v", err)
		os.Exit(1)
	}
	logger.InitErrorTracking(tracker)
	defer logger.CloseErrorTracking()

	// Initialize metrics
	if cfg.Metrics.Enabled {
		provider := metrics.NewPrometheusProvider()
		metrics.SetProvider(provider)
		go serveMetrics(cfg.Metrics.Addr, provider)
	}

	client, err := stompspec.NewClient(stompspec.Config{
		URL:            cfg.Tracking.BrokerURL,
		Tokens:         stompspec.StaticToken(*token),
		ReconnectDelay: cfg.Tracking.ReconnectDelay,
		ConnectTimeout: cfg.Tracking.ConnectTimeout,
	})
	if err != nil {
		logger.Error("Failed to create client: %v", err)
		os.Exit(1)
	}
	client.Hooks().RegisterOnConnect(func(reconnected bool) {
		if reconnected {
			logger.Info("[SimDriver] Reconnected to broker")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Error("Failed to connect to %s: %v", cfg.Tracking.BrokerURL, err)
		os.Exit(1)
	}
	defer client.Disconnect()

	source := &randomWalk{lat: *lat, lng: *lng}
	publisher, err := tracking.NewPublisher(
		client, source, *driverID,
		cfg.Tracking.PublishDestination,
		cfg.Publisher.SampleInterval,
		cfg.Publisher.MinDistance,
	)
	if err != nil {
		logger.Error("Failed to create publisher: %v", err)
		os.Exit(1)
	}
	if err := publisher.Start(*orderID); err != nil {
		logger.Error("Failed to start publisher: %v", err)
		os.Exit(1)
	}

	logger.Info("Publishing as %s to %s every %s; Ctrl-C to stop",
		*driverID, cfg.Tracking.PublishDestination, cfg.Publisher.SampleInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down")
	publisher.Stop()
}

func serveMetrics(addr string, provider metrics.Provider) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.Handler())
	logger.Info("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed: %v", err)
	}
}

// randomWalk emits a position that drifts a few meters per sample, roughly
// a courier moving through a city.
type randomWalk struct {
	lat float64
	lng float64
}

func (w *randomWalk) Watch(ctx context.Context) (<-chan tracking.Position, error) {
	out := make(chan tracking.Position)
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.lat += (rand.Float64() - 0.5) * 0.0004
				w.lng += (rand.Float64() - 0.5) * 0.0004
				select {
				case out <- tracking.Position{Latitude: w.lat, Longitude: w.lng}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
