package tracking

import (
	"fmt"
	"sync"

	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
	"github.com/bitechdev/TrackSpec/pkg/stompspec"
)

// Subscriber is the slice of the stompspec client the reconcilers need.
// stompspec.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, callback stompspec.MessageFunc) (func(), error)
}

// AssignmentSource supplies the driver currently assigned to an order. The
// order REST collaborator implements this; it backs the order-scoped
// fallback filter.
type AssignmentSource interface {
	AssignedDriverID(orderID string) (string, error)
}

// AssignmentFunc adapts a function to the AssignmentSource interface
type AssignmentFunc func(orderID string) (string, error)

// AssignedDriverID implements AssignmentSource
func (f AssignmentFunc) AssignedDriverID(orderID string) (string, error) { return f(orderID) }

// FleetView merges broadcast location updates into a latest-known-state
// table keyed by driver id: first update for a driver inserts, later updates
// overwrite in place (last write wins by arrival order). Insertion order is
// preserved for stable rendering. Entries are never aged out; they only go
// away on Stop.
type FleetView struct {
	client Subscriber
	topic  string

	mu      sync.RWMutex
	latest  map[string]LocationUpdate
	order   []string
	dispose func()
}

// NewFleetView creates a fleet view over the given broadcast topic. An empty
// topic uses DefaultAdminTopic.
func NewFleetView(client Subscriber, topic string) *FleetView {
	if topic == "" {
		topic = DefaultAdminTopic
	}
	return &FleetView{
		client: client,
		topic:  topic,
		latest: make(map[string]LocationUpdate),
	}
}

// Start subscribes the view to its broadcast topic. Calling Start on a
// started view is a no-op.
func (v *FleetView) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dispose != nil {
		return nil
	}
	dispose, err := v.client.Subscribe(v.topic, v.handleMessage)
	if err != nil {
		return fmt.Errorf("fleet view subscribe: %w", err)
	}
	v.dispose = dispose
	logger.Info("[Tracking] Fleet view started on %s", v.topic)
	return nil
}

// Stop unsubscribes and clears all tracked state. Safe to call repeatedly.
func (v *FleetView) Stop() {
	v.mu.Lock()
	dispose := v.dispose
	v.dispose = nil
	v.latest = make(map[string]LocationUpdate)
	v.order = nil
	v.mu.Unlock()

	if dispose != nil {
		dispose()
		metrics.GetProvider().SetTrackedEntities(0)
		logger.Info("[Tracking] Fleet view stopped")
	}
}

// Snapshot returns the latest known state of every tracked driver, in the
// order drivers were first seen.
func (v *FleetView) Snapshot() []LocationUpdate {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]LocationUpdate, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.latest[id])
	}
	return out
}

// Get returns the latest known state for one driver
func (v *FleetView) Get(driverID string) (LocationUpdate, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	update, ok := v.latest[driverID]
	return update, ok
}

// Count returns the number of tracked drivers
func (v *FleetView) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.latest)
}

func (v *FleetView) handleMessage(topic string, body []byte) {
	update, err := DecodeLocationUpdate(body)
	if err != nil {
		metrics.GetProvider().RecordMessageDropped(topic, "malformed")
		logger.Warn("[Tracking] Dropping malformed payload on %s: %v", topic, err)
		return
	}

	v.mu.Lock()
	if _, known := v.latest[update.DriverID]; !known {
		v.order = append(v.order, update.DriverID)
	}
	v.latest[update.DriverID] = update
	count := len(v.latest)
	v.mu.Unlock()

	metrics.GetProvider().RecordMessageReceived(topic)
	metrics.GetProvider().SetTrackedEntities(count)
}

// OrderView tracks the single courier assigned to one order. An update is
// accepted when its order id matches the tracked order, or when it carries no
// order id but its driver id matches the order's assigned driver. The
// publisher omits the order id while idle-but-assigned, and without the
// fallback the map would show no courier during that window. The exposed
// state is a single element that each accepted update replaces.
type OrderView struct {
	client      Subscriber
	orderID     string
	topic       string
	assignments AssignmentSource

	mu             sync.RWMutex
	current        *LocationUpdate
	assignedDriver string
	dispose        func()
}

// NewOrderView creates a view scoped to the given order. An empty prefix
// uses DefaultOrderTopicPrefix.
func NewOrderView(client Subscriber, topicPrefix, orderID string, assignments AssignmentSource) *OrderView {
	return &OrderView{
		client:      client,
		orderID:     orderID,
		topic:       OrderTopic(topicPrefix, orderID),
		assignments: assignments,
	}
}

// Start resolves the order's assigned driver and subscribes to the per-order
// topic. Calling Start on a started view is a no-op.
func (v *OrderView) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dispose != nil {
		return nil
	}
	if v.assignments != nil {
		driverID, err := v.assignments.AssignedDriverID(v.orderID)
		if err != nil {
			// The fallback filter stays off until Refresh succeeds;
			// exact-match updates still flow.
			logger.Warn("[Tracking] Assigned driver lookup for order %s failed: %v", v.orderID, err)
		} else {
			v.assignedDriver = driverID
		}
	}
	dispose, err := v.client.Subscribe(v.topic, v.handleMessage)
	if err != nil {
		return fmt.Errorf("order view subscribe: %w", err)
	}
	v.dispose = dispose
	logger.Info("[Tracking] Order view started for %s on %s", v.orderID, v.topic)
	return nil
}

// Refresh re-resolves the order's assigned driver, for when the assignment
// changes mid-tracking.
func (v *OrderView) Refresh() error {
	if v.assignments == nil {
		return nil
	}
	driverID, err := v.assignments.AssignedDriverID(v.orderID)
	if err != nil {
		return fmt.Errorf("order view refresh: %w", err)
	}
	v.mu.Lock()
	v.assignedDriver = driverID
	v.mu.Unlock()
	return nil
}

// Stop unsubscribes and clears the tracked state. Safe to call repeatedly.
func (v *OrderView) Stop() {
	v.mu.Lock()
	dispose := v.dispose
	v.dispose = nil
	v.current = nil
	v.mu.Unlock()

	if dispose != nil {
		dispose()
		logger.Info("[Tracking] Order view stopped for %s", v.orderID)
	}
}

// Current returns the tracked courier's latest accepted update
func (v *OrderView) Current() (LocationUpdate, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.current == nil {
		return LocationUpdate{}, false
	}
	return *v.current, true
}

func (v *OrderView) handleMessage(topic string, body []byte) {
	update, err := DecodeLocationUpdate(body)
	if err != nil {
		metrics.GetProvider().RecordMessageDropped(topic, "malformed")
		logger.Warn("[Tracking] Dropping malformed payload on %s: %v", topic, err)
		return
	}

	v.mu.Lock()
	accepted := false
	switch {
	case update.OrderID == v.orderID:
		accepted = true
	case update.OrderID == "" && v.assignedDriver != "" && update.DriverID == v.assignedDriver:
		accepted = true
	}
	if accepted {
		v.current = &update
	}
	v.mu.Unlock()

	if accepted {
		metrics.GetProvider().RecordMessageReceived(topic)
	} else {
		metrics.GetProvider().RecordMessageDropped(topic, "filtered")
	}
}
