package stompspec

import "fmt"

// MessageFunc is invoked for each message delivered on a subscribed topic.
// Calls for one topic happen in delivery order; cross-topic ordering is
// unspecified.
type MessageFunc func(topic string, body []byte)

// subState tags the lifecycle of a registry entry
type subState int

const (
	// subQueued means the subscription was requested before the connection
	// was active and will be promoted on activation
	subQueued subState = iota

	// subLive means a transport-level subscription exists for the topic
	subLive
)

// subscription is a registry entry for one topic. A topic has at most one
// entry, and at most one transport-level subscription.
type subscription struct {
	topic    string
	callback MessageFunc

	// state is subQueued until the entry is promoted on an active connection
	state subState

	// id is the STOMP subscription id, set only while live
	id string
}

// registry maps topics to subscription entries and tracks registration
// order so queued entries are promoted in the order they were requested.
// It is not internally locked; the owning Client guards all access.
type registry struct {
	subs   map[string]*subscription
	order  []string
	nextID uint64
}

func newRegistry() *registry {
	return &registry{
		subs: make(map[string]*subscription),
	}
}

// upsert records a subscription for the topic. Re-subscribing an existing
// topic replaces the callback atomically and keeps the entry's state; a new
// topic starts queued.
func (r *registry) upsert(topic string, callback MessageFunc) *subscription {
	if sub, ok := r.subs[topic]; ok {
		sub.callback = callback
		return sub
	}
	sub := &subscription{
		topic:    topic,
		callback: callback,
		state:    subQueued,
	}
	r.subs[topic] = sub
	r.order = append(r.order, topic)
	return sub
}

// remove deletes the entry for the topic, returning it so the caller can
// cancel a live transport subscription. Safe to call for unknown topics.
func (r *registry) remove(topic string) (*subscription, bool) {
	sub, ok := r.subs[topic]
	if !ok {
		return nil, false
	}
	delete(r.subs, topic)
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return sub, true
}

// get returns the entry for the topic
func (r *registry) get(topic string) (*subscription, bool) {
	sub, ok := r.subs[topic]
	return sub, ok
}

// byID returns the live entry carrying the given STOMP subscription id
func (r *registry) byID(id string) (*subscription, bool) {
	for _, sub := range r.subs {
		if sub.state == subLive && sub.id == id {
			return sub, true
		}
	}
	return nil, false
}

// markLive promotes an entry and assigns it a fresh subscription id
func (r *registry) markLive(sub *subscription) string {
	r.nextID++
	sub.id = fmt.Sprintf("sub-%d", r.nextID)
	sub.state = subLive
	return sub.id
}

// topics returns a snapshot of topics in registration order. Promotion after
// a reconnect iterates this snapshot so concurrent subscribe calls cannot
// invalidate the iteration.
func (r *registry) topics() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// demoteAll returns every live entry to queued. Called when the underlying
// connection is lost so the next activation re-subscribes everything.
func (r *registry) demoteAll() {
	for _, sub := range r.subs {
		sub.state = subQueued
		sub.id = ""
	}
}

// clear drops all entries
func (r *registry) clear() {
	r.subs = make(map[string]*subscription)
	r.order = nil
}

// count returns the number of registered topics
func (r *registry) count() int {
	return len(r.subs)
}
