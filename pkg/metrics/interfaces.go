package metrics

import (
	"net/http"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// Provider defines the interface for metric collection
type Provider interface {
	// RecordMessageReceived records an inbound topic message that decoded cleanly
	RecordMessageReceived(topic string)

	// RecordMessageDropped records an inbound topic message that was discarded
	RecordMessageDropped(topic, reason string)

	// RecordLocationPublished records an outbound location update
	RecordLocationPublished()

	// RecordLocationDropped records an outbound sample dropped while disconnected
	RecordLocationDropped()

	// RecordReconnect records a broker reconnection attempt outcome
	RecordReconnect(success bool)

	// SetConnectionState sets the connection state gauge (1 active, 0 inactive)
	SetConnectionState(active bool)

	// SetTrackedEntities sets the number of entities in the fleet view
	SetTrackedEntities(count int)

	// Handler returns an HTTP handler for exposing metrics (e.g., /metrics endpoint)
	Handler() http.Handler
}

// globalProvider is the global metrics provider
var globalProvider Provider

// SetProvider sets the global metrics provider
func SetProvider(p Provider) {
	globalProvider = p
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	if globalProvider == nil {
		// Return no-op provider if none is set
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordMessageReceived(topic string)       {}
func (n *NoOpProvider) RecordMessageDropped(topic, reason string) {}
func (n *NoOpProvider) RecordLocationPublished()                 {}
func (n *NoOpProvider) RecordLocationDropped()                   {}
func (n *NoOpProvider) RecordReconnect(success bool)             {}
func (n *NoOpProvider) SetConnectionState(active bool)           {}
func (n *NoOpProvider) SetTrackedEntities(count int)             {}
func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Metrics provider not configured"))
		if err != nil {
			logger.Warn("Failed to write. %v", err)
		}
	})
}
