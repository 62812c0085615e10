package tracking

// Default topic names matching the platform gateway's STOMP destinations
const (
	// DefaultAdminTopic broadcasts every active driver's updates
	DefaultAdminTopic = "/topic/admin/map"

	// DefaultOrderTopicPrefix scopes updates to one order's assigned courier
	DefaultOrderTopicPrefix = "/topic/orders/"

	// DefaultPublishDestination receives driver location updates
	DefaultPublishDestination = "/app/tracking/update"
)

// OrderTopic returns the per-order topic for the given order id
func OrderTopic(prefix, orderID string) string {
	if prefix == "" {
		prefix = DefaultOrderTopicPrefix
	}
	return prefix + orderID
}
