package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
)

// ErrPermissionDenied is returned by a PositionSource when the device
// refuses location access. It is terminal for that Start call; the caller
// decides how to react (typically keeping the driver offline).
var ErrPermissionDenied = errors.New("tracking: position permission denied")

// Position is one device coordinate sample
type Position struct {
	Latitude  float64
	Longitude float64
}

// PositionSource is the positioning collaborator: a stream of coordinate
// samples behind a permission-grant precondition. Watch returns
// ErrPermissionDenied when access is refused; the channel closes when the
// context is canceled.
type PositionSource interface {
	Watch(ctx context.Context) (<-chan Position, error)
}

// PublisherClient is the slice of the stompspec client the publisher needs.
// stompspec.Client satisfies it.
type PublisherClient interface {
	Connected() bool
	Publish(topic string, body []byte) error
}

// Publisher samples the driver's position on a fixed cadence and publishes
// each sample as a LocationUpdate carrying the driver id, current
// coordinates and the active order id. Samples taken while the connection
// is down are dropped, never queued: the consumer wants the latest state,
// not a replay of stale ones.
//
// State machine: Stopped -> Start() -> Sampling -> Stop() -> Stopped.
type Publisher struct {
	client      PublisherClient
	source      PositionSource
	driverID    string
	destination string
	interval    time.Duration
	minDistance float64

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	activeOrderID string
}

// NewPublisher creates a stopped publisher. An empty destination uses
// DefaultPublishDestination; a non-positive interval defaults to 5s;
// minDistance <= 0 disables the distance gate.
func NewPublisher(client PublisherClient, source PositionSource, driverID string, destination string, interval time.Duration, minDistance float64) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("tracking: publisher client is required")
	}
	if source == nil {
		return nil, fmt.Errorf("tracking: position source is required")
	}
	if driverID == "" {
		return nil, fmt.Errorf("tracking: driver id is required")
	}
	if destination == "" {
		destination = DefaultPublishDestination
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{
		client:      client,
		source:      source,
		driverID:    driverID,
		destination: destination,
		interval:    interval,
		minDistance: minDistance,
	}, nil
}

// Running reports whether the publisher is sampling
func (p *Publisher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins sampling. activeOrderID is the order the driver is currently
// delivering, or "" when idle. Permission denial from the position source is
// terminal for this call: the publisher stays stopped and the error is
// returned. Calling Start while already sampling only updates the active
// order id.
func (p *Publisher) Start(activeOrderID string) error {
	p.mu.Lock()
	if p.running {
		p.activeOrderID = activeOrderID
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	positions, err := p.source.Watch(ctx)
	if err != nil {
		cancel()
		if errors.Is(err, ErrPermissionDenied) {
			logger.Error("[Tracking] Position permission denied for driver %s", p.driverID)
			return err
		}
		return fmt.Errorf("position watch: %w", err)
	}

	p.mu.Lock()
	if p.running {
		// Lost the race with a concurrent Start
		p.mu.Unlock()
		cancel()
		return nil
	}
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.activeOrderID = activeOrderID
	done := p.done
	p.mu.Unlock()

	go p.run(ctx, positions, done)
	logger.Info("[Tracking] Publisher started for driver %s (order: %q)", p.driverID, activeOrderID)
	return nil
}

// SetActiveOrder updates the order id attached to subsequent samples
func (p *Publisher) SetActiveOrder(orderID string) {
	p.mu.Lock()
	p.activeOrderID = orderID
	p.mu.Unlock()
}

// Stop cancels sampling and releases the positioning subscription. Safe to
// call when already stopped.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done
	logger.Info("[Tracking] Publisher stopped for driver %s", p.driverID)
}

// run keeps the freshest sample from the source and publishes it on the
// fixed cadence.
func (p *Publisher) run(ctx context.Context, positions <-chan Position, done chan struct{}) {
	defer close(done)
	defer logger.CatchPanic("tracking.Publisher.run")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var latest *Position
	var lastPublished *Position

	for {
		select {
		case pos, ok := <-positions:
			if !ok {
				return
			}
			latest = &pos

		case <-ticker.C:
			if latest == nil {
				continue
			}
			if !p.client.Connected() {
				// At-most-once, latest-state semantics: never buffer
				metrics.GetProvider().RecordLocationDropped()
				logger.Debug("[Tracking] Dropping sample for driver %s: not connected", p.driverID)
				continue
			}
			if p.minDistance > 0 && lastPublished != nil &&
				distanceMeters(*lastPublished, *latest) < p.minDistance {
				continue
			}
			if err := p.publish(*latest); err != nil {
				metrics.GetProvider().RecordLocationDropped()
				logger.Warn("[Tracking] Publish failed for driver %s: %v", p.driverID, err)
				continue
			}
			published := *latest
			lastPublished = &published
			metrics.GetProvider().RecordLocationPublished()

		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publish(pos Position) error {
	p.mu.Lock()
	orderID := p.activeOrderID
	p.mu.Unlock()

	update := LocationUpdate{
		DriverID:  p.driverID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		OrderID:   orderID,
	}
	body, err := update.Encode()
	if err != nil {
		return err
	}
	return p.client.Publish(p.destination, body)
}

const earthRadiusMeters = 6371000.0

// distanceMeters computes the haversine distance between two positions
func distanceMeters(a, b Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
