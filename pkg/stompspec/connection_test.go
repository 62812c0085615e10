package stompspec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory transport connection. It answers the STOMP
// handshake itself and records every frame the client writes.
type fakeConn struct {
	mu        sync.Mutex
	written   []*Frame
	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// rejectConnect makes the handshake answer with an ERROR frame
	rejectConnect bool
}

func newFakeConn(rejectConnect bool) *fakeConn {
	return &fakeConn{
		incoming:      make(chan []byte, 32),
		done:          make(chan struct{}),
		rejectConnect: rejectConnect,
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.done:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return errors.New("write on closed connection")
	default:
	}

	frame, err := ParseFrame(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, frame)
	c.mu.Unlock()

	if frame.Command == CommandConnect {
		var reply *Frame
		if c.rejectConnect {
			reply = NewFrame(CommandError)
			reply.Headers[HeaderMessage] = "access denied"
		} else {
			reply = NewFrame(CommandConnected)
			reply.Headers["version"] = "1.2"
		}
		c.incoming <- reply.Marshal()
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// fail simulates an unexpected transport failure
func (c *fakeConn) fail() {
	c.Close()
}

// deliver injects a MESSAGE frame for the given destination
func (c *fakeConn) deliver(destination string, body []byte) {
	frame := NewFrame(CommandMessage)
	frame.Headers[HeaderDestination] = destination
	frame.Body = body
	select {
	case c.incoming <- frame.Marshal():
	case <-c.done:
	}
}

// deliverRaw injects an arbitrary wire message
func (c *fakeConn) deliverRaw(data []byte) {
	select {
	case c.incoming <- data:
	case <-c.done:
	}
}

// frames returns the written frames matching the command
func (c *fakeConn) frames(command string) []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Frame
	for _, f := range c.written {
		if f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

// subscribedTopics returns SUBSCRIBE destinations in write order
func (c *fakeConn) subscribedTopics() []string {
	var topics []string
	for _, f := range c.frames(CommandSubscribe) {
		topics = append(topics, f.Header(HeaderDestination))
	}
	return topics
}

// fakeDialer hands out fakeConns and counts dial attempts
type fakeDialer struct {
	mu            sync.Mutex
	conns         []*fakeConn
	dials         atomic.Int32
	dialErr       error
	rejectConnect bool

	// gate, when set, blocks dials until it is closed
	gate chan struct{}
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := newFakeConn(d.rejectConnect)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestClient(t *testing.T, dialer *fakeDialer) *Client {
	t.Helper()
	client, err := NewClient(Config{
		URL:            "ws://broker.test/ws",
		Tokens:         StaticToken("test-token"),
		Dialer:         dialer,
		ReconnectDelay: 20 * time.Millisecond,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)
	return client
}

func TestClient_ConnectMissingCredential(t *testing.T) {
	dialer := &fakeDialer{}
	client, err := NewClient(Config{
		URL:    "ws://broker.test/ws",
		Tokens: StaticToken(""),
		Dialer: dialer,
	})
	require.NoError(t, err)

	err = client.Connect(context.Background())

	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, StateInactive, client.State())
	assert.Equal(t, int32(0), dialer.dials.Load())
}

func TestClient_ConnectSendsBearerToken(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)

	require.NoError(t, client.Connect(context.Background()))

	connects := dialer.latest().frames(CommandConnect)
	require.Len(t, connects, 1)
	assert.Equal(t, "Bearer test-token", connects[0].Header(HeaderAuthorization))
	assert.Equal(t, "1.1,1.2", connects[0].Header(HeaderAcceptVersion))
}

func TestClient_ConnectIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()))

	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.True(t, client.Connected())
}

func TestClient_ConcurrentConnectsCollapse(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	client := newTestClient(t, dialer)

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			errs <- client.Connect(context.Background())
		}()
	}

	// All callers are waiting on one physical attempt
	assert.Eventually(t, func() bool {
		return dialer.dials.Load() == 1
	}, time.Second, 5*time.Millisecond)

	close(dialer.gate)

	for i := 0; i < callers; i++ {
		assert.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestClient_ConnectFailureResetsStateForRetry(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("broker unreachable")}
	client := newTestClient(t, dialer)

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateInactive, client.State())

	dialer.mu.Lock()
	dialer.dialErr = nil
	dialer.mu.Unlock()

	assert.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.Connected())
}

func TestClient_BrokerRejectsHandshake(t *testing.T) {
	dialer := &fakeDialer{rejectConnect: true}
	client := newTestClient(t, dialer)

	err := client.Connect(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, StateInactive, client.State())
}

func TestClient_QueuedSubscriptionsPromotedInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)

	_, err := client.Subscribe("/topic/admin/map", func(string, []byte) {})
	require.NoError(t, err)
	_, err = client.Subscribe("/topic/orders/O1", func(string, []byte) {})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))

	assert.Equal(t,
		[]string{"/topic/admin/map", "/topic/orders/O1"},
		dialer.latest().subscribedTopics())
}

func TestClient_ResubscribeWhileQueuedLastCallbackWins(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)

	var mu sync.Mutex
	var got string
	_, err := client.Subscribe("/topic/admin/map", func(string, []byte) {
		mu.Lock()
		got = "first"
		mu.Unlock()
	})
	require.NoError(t, err)
	_, err = client.Subscribe("/topic/admin/map", func(string, []byte) {
		mu.Lock()
		got = "second"
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))

	// Exactly one transport subscription despite two subscribe calls
	require.Equal(t, []string{"/topic/admin/map"}, dialer.latest().subscribedTopics())

	dialer.latest().deliver("/topic/admin/map", []byte(`{}`))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "second"
	}, time.Second, 5*time.Millisecond)
}

func TestClient_SubscribeWhileActive(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)
	require.NoError(t, client.Connect(context.Background()))

	received := make(chan []byte, 1)
	_, err := client.Subscribe("/topic/admin/map", func(topic string, body []byte) {
		received <- body
	})
	require.NoError(t, err)

	require.Equal(t, []string{"/topic/admin/map"}, dialer.latest().subscribedTopics())

	dialer.latest().deliver("/topic/admin/map", []byte(`{"driverId":"D1"}`))
	select {
	case body := <-received:
		assert.Equal(t, `{"driverId":"D1"}`, string(body))
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestClient_UnsubscribeQueuedEntryMakesNoTransportCall(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)

	dispose, err := client.Subscribe("/topic/admin/map", func(string, []byte) {})
	require.NoError(t, err)
	dispose()

	require.NoError(t, client.Connect(context.Background()))

	assert.Empty(t, dialer.latest().subscribedTopics())
	assert.Empty(t, dialer.latest().frames(CommandUnsubscribe))
}

func TestClient_UnsubscribeLive(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)
	require.NoError(t, client.Connect(context.Background()))

	dispose, err := client.Subscribe("/topic/admin/map", func(string, []byte) {})
	require.NoError(t, err)

	dispose()

	unsubs := dialer.latest().frames(CommandUnsubscribe)
	require.Len(t, unsubs, 1)
	assert.Equal(t, 0, client.SubscriptionCount())

	// Disposer and Unsubscribe are idempotent
	dispose()
	client.Unsubscribe("/topic/admin/map")
	assert.Len(t, dialer.latest().frames(CommandUnsubscribe), 1)
}

func TestClient_PublishRequiresActiveConnection(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)

	err := client.Publish("/app/tracking/update", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Publish("/app/tracking/update", []byte(`{"driverId":"D1"}`)))

	sends := dialer.latest().frames(CommandSend)
	require.Len(t, sends, 1)
	assert.Equal(t, "/app/tracking/update", sends[0].Header(HeaderDestination))
	assert.Equal(t, `{"driverId":"D1"}`, string(sends[0].Body))
}

func TestClient_ReconnectRestoresSubscriptions(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)

	var reconnected atomic.Bool
	var dropped atomic.Bool
	client.Hooks().RegisterOnConnect(func(resumed bool) {
		if resumed {
			reconnected.Store(true)
		}
	})
	client.Hooks().RegisterOnDisconnect(func(err error) {
		dropped.Store(true)
	})

	require.NoError(t, client.Connect(context.Background()))

	s1 := make(chan struct{}, 4)
	s2 := make(chan struct{}, 4)
	_, err := client.Subscribe("/topic/admin/map", func(string, []byte) { s1 <- struct{}{} })
	require.NoError(t, err)
	_, err = client.Subscribe("/topic/orders/O1", func(string, []byte) { s2 <- struct{}{} })
	require.NoError(t, err)

	first := dialer.latest()
	first.fail()

	// Reconnects without caller intervention and re-subscribes both topics
	assert.Eventually(t, func() bool {
		return dialer.dials.Load() == 2 && client.Connected()
	}, 2*time.Second, 5*time.Millisecond)

	second := dialer.latest()
	require.NotSame(t, first, second)
	assert.Equal(t,
		[]string{"/topic/admin/map", "/topic/orders/O1"},
		second.subscribedTopics())

	second.deliver("/topic/admin/map", []byte(`{}`))
	second.deliver("/topic/orders/O1", []byte(`{}`))

	for _, ch := range []chan struct{}{s1, s2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscription did not survive reconnect")
		}
	}
	assert.True(t, dropped.Load())
	assert.True(t, reconnected.Load())
}

func TestClient_ReconnectKeepsRetrying(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)
	require.NoError(t, client.Connect(context.Background()))

	// Every redial fails for a while
	dialer.mu.Lock()
	dialer.dialErr = errors.New("still down")
	dialer.mu.Unlock()

	dialer.latest().fail()

	assert.Eventually(t, func() bool {
		return dialer.dials.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// Broker comes back; the loop recovers on its own
	dialer.mu.Lock()
	dialer.dialErr = nil
	dialer.mu.Unlock()

	assert.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestClient_DisconnectStopsReconnectLoop(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.Subscribe("/topic/admin/map", func(string, []byte) {})
	require.NoError(t, err)

	client.Disconnect()

	assert.Equal(t, StateInactive, client.State())
	assert.Equal(t, 0, client.SubscriptionCount())

	// No redial after an explicit disconnect
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestClient_DisconnectWhenNotConnected(t *testing.T) {
	client := newTestClient(t, &fakeDialer{})

	assert.NotPanics(t, func() {
		client.Disconnect()
		client.Disconnect()
	})
}

func TestClient_UnparseableFrameDoesNotBreakSubscription(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)
	require.NoError(t, client.Connect(context.Background()))

	received := make(chan struct{}, 1)
	_, err := client.Subscribe("/topic/admin/map", func(string, []byte) {
		received <- struct{}{}
	})
	require.NoError(t, err)

	conn := dialer.latest()
	conn.deliverRaw([]byte("MESSAGE\nnot a stomp frame"))
	conn.deliver("/topic/admin/map", []byte(`{}`))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("subscription broke after unparseable frame")
	}
	assert.True(t, client.Connected())
}

func TestClient_CallbackPanicIsContained(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer)
	require.NoError(t, client.Connect(context.Background()))

	received := make(chan struct{}, 1)
	_, err := client.Subscribe("/topic/admin/map", func(string, []byte) {
		select {
		case received <- struct{}{}:
		default:
		}
		panic("consumer bug")
	})
	require.NoError(t, err)

	conn := dialer.latest()
	conn.deliver("/topic/admin/map", []byte(`{}`))
	conn.deliver("/topic/admin/map", []byte(`{}`))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("read loop died after callback panic")
		}
	}
	assert.True(t, client.Connected())
}
