// Command adminmap is a terminal view of the fleet: it subscribes to the
// admin broadcast topic and prints the latest known position of every
// active courier on a fixed cadence.
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

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/errortracking"
	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
	"github.com/bitechdev/TrackSpec/pkg/stompspec"
	"github.com/bitechdev/TrackSpec/pkg/tracking"
)

func main() {
	token := flag.String("token", os.Getenv("TRACKSPEC_AUTH_TOKEN"), "bearer token for the broker")
	orderID := flag.String("order", "", "track a single order instead of the whole fleet")
	refresh := flag.Duration("refresh", 5*time.Second, "print interval")
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
	logger.Info("TrackSpec admin map starting")

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
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", provider.Handler())
			logger.Info("Metrics listening on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
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

	if err := client.Connect(context.Background()); err != nil {
		logger.Error("Failed to connect to %s: %v", cfg.Tracking.BrokerURL, err)
		os.Exit(1)
	}
	defer client.Disconnect()

	var printState func()
	if *orderID != "" {
		view := tracking.NewOrderView(client, cfg.Tracking.OrderTopicPrefix, *orderID, nil)
		if err := view.Start(); err != nil {
			logger.Error("Failed to start order view: %v", err)
			os.Exit(1)
		}
		defer view.Stop()
		printState = func() {
			update, ok := view.Current()
			if !ok {
				fmt.Printf("order %s: no courier position yet\n", *orderID)
				return
			}
			fmt.Printf("order %s: %s at (%.5f, %.5f) as of %s\n",
				*orderID, update.DriverID, update.Latitude, update.Longitude,
				update.ReceivedAt.Format(time.TimeOnly))
		}
	} else {
		view := tracking.NewFleetView(client, cfg.Tracking.AdminTopic)
		if err := view.Start(); err != nil {
			logger.Error("Failed to start fleet view: %v", err)
			os.Exit(1)
		}
		defer view.Stop()
		printState = func() {
			snapshot := view.Snapshot()
			fmt.Printf("--- %d couriers tracked ---\n", len(snapshot))
			for _, update := range snapshot {
				order := update.OrderID
				if order == "" {
					order = "idle"
				}
				fmt.Printf("%-20s (%.5f, %.5f) %s\n",
					update.DriverID, update.Latitude, update.Longitude, order)
			}
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			printState()
		case <-sig:
			logger.Info("Shutting down")
			return
		}
	}
}
