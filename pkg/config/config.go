package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Tracking      TrackingConfig      `mapstructure:"tracking"`
	Publisher     PublisherConfig     `mapstructure:"publisher"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	ErrorTracking ErrorTrackingConfig `mapstructure:"error_tracking"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// TrackingConfig holds the broker connection and topic configuration
type TrackingConfig struct {
	BrokerURL          string        `mapstructure:"broker_url"`          // ws:// or wss:// endpoint
	AdminTopic         string        `mapstructure:"admin_topic"`         // broadcast topic for all active drivers
	OrderTopicPrefix   string        `mapstructure:"order_topic_prefix"`  // per-order topics are prefix + order id
	PublishDestination string        `mapstructure:"publish_destination"` // driver -> server location updates
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
}

// PublisherConfig holds the driver-side location publisher configuration
type PublisherConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	MinDistance    float64       `mapstructure:"min_distance"` // meters moved before a sample is published, 0 disables
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Dev  bool   `mapstructure:"dev"`
	Path string `mapstructure:"path"`
}

// ErrorTrackingConfig holds error tracking configuration
type ErrorTrackingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Provider         string  `mapstructure:"provider"`           // sentry, noop
	DSN              string  `mapstructure:"dsn"`                // Sentry DSN
	Environment      string  `mapstructure:"environment"`        // e.g., production, staging, development
	Release          string  `mapstructure:"release"`            // Application version/release
	Debug            bool    `mapstructure:"debug"`              // Enable debug mode
	SampleRate       float64 `mapstructure:"sample_rate"`        // Error sample rate (0.0-1.0)
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"` // Traces sample rate (0.0-1.0)
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"` // listen address for the /metrics endpoint
}
