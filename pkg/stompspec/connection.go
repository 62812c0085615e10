package stompspec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
)

// State describes the connection lifecycle
type State int

const (
	// StateInactive means no connection exists and none is being attempted
	StateInactive State = iota

	// StateConnecting means a connect attempt is in flight
	StateConnecting

	// StateActive means the STOMP session is established
	StateActive

	// StateErrored means the connection was lost and the reconnect loop
	// is waiting to retry
	StateErrored
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by the Client
var (
	// ErrMissingCredential is returned when the token source yields no
	// bearer token. Fail fast, no retry.
	ErrMissingCredential = errors.New("stompspec: no credential available")

	// ErrNotConnected is returned by Publish while the session is inactive
	ErrNotConnected = errors.New("stompspec: not connected")
)

// TokenSource supplies the bearer token used for every connect attempt.
// The auth collaborator implements this; the Client never connects
// without a token.
type TokenSource interface {
	Token() (string, error)
}

// TokenFunc adapts a function to the TokenSource interface
type TokenFunc func() (string, error)

// Token implements TokenSource
func (f TokenFunc) Token() (string, error) { return f() }

// StaticToken is a fixed bearer token
type StaticToken string

// Token implements TokenSource
func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrMissingCredential
	}
	return string(s), nil
}

// Config holds the Client configuration
type Config struct {
	// URL is the ws:// or wss:// broker endpoint
	URL string

	// Tokens supplies the bearer credential for connect attempts
	Tokens TokenSource

	// Dialer establishes transport connections (defaults to WebSocketDialer)
	Dialer Dialer

	// ReconnectDelay is the fixed delay between reconnect attempts after an
	// unexpected disconnect (default 5s). Retries continue indefinitely.
	ReconnectDelay time.Duration

	// ConnectTimeout bounds a single connect attempt (default 10s)
	ConnectTimeout time.Duration

	// Host is the STOMP host header (default "/")
	Host string
}

// connectAttempt represents one in-flight connect shared by all concurrent
// Connect callers
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client owns at most one broker connection and the topic subscription
// registry. Construct with NewClient and inject it where needed; it is not
// a package-level singleton, so tests can run independent instances.
type Client struct {
	cfg   Config
	id    string
	hooks *HookRegistry

	// mu guards everything below, and serializes transport writes
	mu      sync.Mutex
	state   State
	conn    Conn
	pending *connectAttempt
	reg     *registry

	// gen is the connection epoch. It advances on activation, on loss and
	// on explicit disconnect, so stale read and reconnect loops can detect
	// they have been superseded.
	gen uint64

	// resuming is set between a connection loss and the next activation
	resuming bool
}

// NewClient creates a Client from the given configuration
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("stompspec: broker URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("stompspec: token source is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &WebSocketDialer{}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Host == "" {
		cfg.Host = "/"
	}
	return &Client{
		cfg:   cfg,
		id:    uuid.NewString(),
		hooks: NewHookRegistry(),
		reg:   newRegistry(),
	}, nil
}

// ID returns the client instance id
func (c *Client) ID() string { return c.id }

// Hooks returns the lifecycle hook registry
func (c *Client) Hooks() *HookRegistry { return c.hooks }

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the STOMP session is active
func (c *Client) Connected() bool {
	return c.State() == StateActive
}

// SubscriptionCount returns the number of registered topics (queued or live)
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.count()
}

// Connect establishes the broker session. It is idempotent: an active client
// returns immediately, and concurrent callers collapse onto a single physical
// connect attempt, all receiving its outcome. On failure the internal state is
// reset so a later call can retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		return nil
	}
	if c.pending != nil {
		attempt := c.pending
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	c.pending = attempt
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.establish(ctx, attempt)

	c.mu.Lock()
	if c.pending == attempt {
		c.pending = nil
		if err != nil {
			c.state = StateInactive
		}
	}
	c.mu.Unlock()

	attempt.err = err
	close(attempt.done)
	return err
}

// establish dials the transport, performs the STOMP handshake and, on
// success, activates the session and promotes queued subscriptions.
func (c *Client) establish(ctx context.Context, attempt *connectAttempt) error {
	token, err := c.cfg.Tokens.Token()
	if err != nil {
		return err
	}
	if token == "" {
		return ErrMissingCredential
	}

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Dialer.DialContext(dctx, c.cfg.URL)
	if err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	// Abort the blocking handshake read if the attempt times out
	handshakeDone := make(chan struct{})
	defer close(handshakeDone)
	go func() {
		select {
		case <-dctx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()

	connect := NewFrame(CommandConnect)
	connect.Headers[HeaderAcceptVersion] = "1.1,1.2"
	connect.Headers[HeaderHost] = c.cfg.Host
	connect.Headers[HeaderAuthorization] = "Bearer " + token
	connect.Headers[HeaderHeartBeat] = "0,0"
	if err := conn.WriteMessage(connect.Marshal()); err != nil {
		conn.Close()
		return fmt.Errorf("send CONNECT: %w", err)
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("awaiting CONNECTED: %w", err)
		}
		frame, perr := ParseFrame(data)
		if perr != nil {
			conn.Close()
			return fmt.Errorf("handshake: %w", perr)
		}
		if frame == nil {
			// heartbeat
			continue
		}
		if frame.Command == CommandConnected {
			break
		}
		if frame.Command == CommandError {
			conn.Close()
			return fmt.Errorf("broker error: %s", frame.Header(HeaderMessage))
		}
		conn.Close()
		return fmt.Errorf("unexpected %s frame during handshake", frame.Command)
	}

	c.mu.Lock()
	if c.pending != attempt {
		// Disconnect raced with this attempt
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("stompspec: connect aborted")
	}
	c.conn = conn
	c.state = StateActive
	c.gen++
	gen := c.gen
	reconnected := c.resuming
	c.resuming = false
	c.promoteQueuedLocked()
	c.mu.Unlock()

	metrics.GetProvider().SetConnectionState(true)
	logger.Info("[StompSpec] Client %s connected to %s", c.id, c.cfg.URL)

	go c.readLoop(conn, gen)
	c.hooks.fireConnect(reconnected)
	return nil
}

// promoteQueuedLocked subscribes every queued registry entry in registration
// order. Caller holds c.mu. Iterates a snapshot of topics so the registry can
// be mutated while promotion is under way.
func (c *Client) promoteQueuedLocked() {
	for _, topic := range c.reg.topics() {
		sub, ok := c.reg.get(topic)
		if !ok || sub.state == subLive {
			continue
		}
		id := c.reg.markLive(sub)
		if err := c.conn.WriteMessage(subscribeFrame(topic, id).Marshal()); err != nil {
			logger.Warn("[StompSpec] Subscribe %s failed: %v", topic, err)
			sub.state = subQueued
			sub.id = ""
			// The connection is going down; the read loop handles it
			return
		}
		logger.Debug("[StompSpec] Live subscription %s -> %s", id, topic)
	}
}

// readLoop consumes frames from one physical connection until it fails
func (c *Client) readLoop(conn Conn, gen uint64) {
	defer logger.CatchPanic("stompspec.readLoop")

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionLost(gen, err)
			return
		}
		frame, perr := ParseFrame(data)
		if perr != nil {
			logger.Warn("[StompSpec] Dropping unparseable frame: %v", perr)
			continue
		}
		if frame == nil {
			// heartbeat
			continue
		}
		switch frame.Command {
		case CommandMessage:
			c.dispatch(frame)
		case CommandError:
			logger.Error("[StompSpec] Broker reported error: %s", frame.Header(HeaderMessage))
			// The broker closes the connection after an ERROR frame; the
			// read error path takes care of reconnecting.
		default:
			logger.Debug("[StompSpec] Ignoring %s frame", frame.Command)
		}
	}
}

// dispatch routes a MESSAGE frame to the owning subscription callback. The
// callback runs outside the lock, so a delivery already in flight may still
// land once after Unsubscribe returns; that is accepted behavior.
func (c *Client) dispatch(frame *Frame) {
	topic := frame.Header(HeaderDestination)

	c.mu.Lock()
	sub, ok := c.reg.byID(frame.Header(HeaderSubscription))
	if !ok {
		sub, ok = c.reg.get(topic)
	}
	var callback MessageFunc
	if ok && sub.state == subLive {
		callback = sub.callback
		if topic == "" {
			topic = sub.topic
		}
	}
	c.mu.Unlock()

	if callback == nil {
		logger.Debug("[StompSpec] No subscriber for %s, dropping", topic)
		return
	}

	func() {
		defer logger.CatchPanic("stompspec.dispatch")
		callback(topic, frame.Body)
	}()
}

// handleConnectionLost tears down a failed connection and starts the
// reconnect loop. Stale generations (already superseded) are ignored.
func (c *Client) handleConnectionLost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.conn.Close()
	c.conn = nil
	c.state = StateErrored
	c.gen++
	myGen := c.gen
	c.resuming = true
	c.reg.demoteAll()
	c.mu.Unlock()

	metrics.GetProvider().SetConnectionState(false)
	logger.Warn("[StompSpec] Connection lost: %v (reconnecting in %v)", cause, c.cfg.ReconnectDelay)
	c.hooks.fireDisconnect(cause)

	go c.reconnectLoop(myGen)
}

// reconnectLoop retries at the fixed delay, indefinitely, until the session
// is re-established or the client is explicitly disconnected.
func (c *Client) reconnectLoop(myGen uint64) {
	defer logger.CatchPanic("stompspec.reconnectLoop")

	for {
		time.Sleep(c.cfg.ReconnectDelay)

		c.mu.Lock()
		stale := c.gen != myGen
		c.mu.Unlock()
		if stale {
			return
		}

		if err := c.Connect(context.Background()); err != nil {
			metrics.GetProvider().RecordReconnect(false)
			logger.Warn("[StompSpec] Reconnect failed: %v (retrying in %v)", err, c.cfg.ReconnectDelay)
			continue
		}
		metrics.GetProvider().RecordReconnect(true)
		return
	}
}

// Subscribe registers the callback for the topic. While the session is
// active the transport subscription is created immediately; otherwise the
// entry is queued and promoted on the next activation. Re-subscribing an
// existing topic replaces the callback; at most one transport subscription
// per topic ever exists. The returned disposer removes the registration and
// is safe to call more than once.
func (c *Client) Subscribe(topic string, callback MessageFunc) (func(), error) {
	if topic == "" {
		return nil, fmt.Errorf("stompspec: topic cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("stompspec: callback cannot be nil")
	}

	c.mu.Lock()
	sub := c.reg.upsert(topic, callback)
	if c.state == StateActive && c.conn != nil && sub.state == subQueued {
		id := c.reg.markLive(sub)
		if err := c.conn.WriteMessage(subscribeFrame(topic, id).Marshal()); err != nil {
			// Connection is on its way down; keep the entry queued so the
			// reconnect path re-subscribes it
			sub.state = subQueued
			sub.id = ""
			logger.Warn("[StompSpec] Subscribe %s deferred: %v", topic, err)
		}
	}
	count := c.reg.count()
	c.mu.Unlock()

	logger.Debug("[StompSpec] Subscribed: %s (topics: %d)", topic, count)
	return func() { c.Unsubscribe(topic) }, nil
}

// Unsubscribe cancels the live transport subscription for the topic if one
// exists and removes the registry entry. A queued-only entry is removed with
// no transport call. Safe to call for unknown topics.
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	sub, ok := c.reg.remove(topic)
	if ok && sub.state == subLive && c.conn != nil {
		frame := NewFrame(CommandUnsubscribe)
		frame.Headers[HeaderID] = sub.id
		if err := c.conn.WriteMessage(frame.Marshal()); err != nil {
			logger.Warn("[StompSpec] Unsubscribe %s: %v", topic, err)
		}
	}
	c.mu.Unlock()

	if ok {
		logger.Debug("[StompSpec] Unsubscribed: %s", topic)
	}
}

// Publish sends a SEND frame to the destination. Samples produced while
// disconnected are the caller's to drop; Publish never queues.
func (c *Client) Publish(topic string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive || c.conn == nil {
		return ErrNotConnected
	}
	frame := NewFrame(CommandSend)
	frame.Headers[HeaderDestination] = topic
	frame.Headers[HeaderContentType] = "application/json"
	frame.Body = body
	if err := c.conn.WriteMessage(frame.Marshal()); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect deactivates the transport and clears all subscriptions and
// pending connect state. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.pending = nil
	conn := c.conn
	c.conn = nil
	wasActive := c.state == StateActive
	c.state = StateInactive
	c.resuming = false
	c.reg.clear()
	c.mu.Unlock()

	if conn != nil {
		if wasActive {
			frame := NewFrame(CommandDisconnect)
			_ = conn.WriteMessage(frame.Marshal())
		}
		conn.Close()
	}
	if wasActive {
		metrics.GetProvider().SetConnectionState(false)
		logger.Info("[StompSpec] Client %s disconnected", c.id)
	}
}

// subscribeFrame builds a SUBSCRIBE frame for the topic
func subscribeFrame(topic, id string) *Frame {
	frame := NewFrame(CommandSubscribe)
	frame.Headers[HeaderID] = id
	frame.Headers[HeaderDestination] = topic
	return frame
}
