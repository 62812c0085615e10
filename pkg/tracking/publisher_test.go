package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakePublisherClient records published payloads behind a connected flag
type fakePublisherClient struct {
	mu        sync.Mutex
	connected atomic.Bool
	published [][]byte
}

func (c *fakePublisherClient) Connected() bool { return c.connected.Load() }

func (c *fakePublisherClient) Publish(topic string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, body)
	return nil
}

func (c *fakePublisherClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakePublisherClient) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.published) == 0 {
		return nil
	}
	return c.published[len(c.published)-1]
}

// fakePositionSource replays a controllable stream of samples
type fakePositionSource struct {
	positions chan Position
	watchErr  error
	watches   atomic.Int32
}

func newFakePositionSource() *fakePositionSource {
	return &fakePositionSource{positions: make(chan Position, 16)}
}

func (s *fakePositionSource) Watch(ctx context.Context) (<-chan Position, error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	s.watches.Add(1)
	out := make(chan Position)
	go func() {
		defer close(out)
		for {
			select {
			case pos := <-s.positions:
				select {
				case out <- pos:
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

func newTestPublisher(t *testing.T, client *fakePublisherClient, source *fakePositionSource, minDistance float64) *Publisher {
	t.Helper()
	pub, err := NewPublisher(client, source, "D1", "", 10*time.Millisecond, minDistance)
	require.NoError(t, err)
	t.Cleanup(pub.Stop)
	return pub
}

func TestNewPublisher_Validation(t *testing.T) {
	client := &fakePublisherClient{}
	source := newFakePositionSource()

	_, err := NewPublisher(nil, source, "D1", "", 0, 0)
	assert.Error(t, err)
	_, err = NewPublisher(client, nil, "D1", "", 0, 0)
	assert.Error(t, err)
	_, err = NewPublisher(client, source, "", "", 0, 0)
	assert.Error(t, err)

	pub, err := NewPublisher(client, source, "D1", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPublishDestination, pub.destination)
	assert.Equal(t, 5*time.Second, pub.interval)
}

func TestPublisher_PublishesLatestSample(t *testing.T) {
	client := &fakePublisherClient{}
	client.connected.Store(true)
	source := newFakePositionSource()
	pub := newTestPublisher(t, client, source, 0)

	require.NoError(t, pub.Start("O1"))
	source.positions <- Position{Latitude: 52.37, Longitude: 4.89}

	require.Eventually(t, func() bool { return client.count() >= 1 }, time.Second, 5*time.Millisecond)

	body := gjson.ParseBytes(client.last())
	assert.Equal(t, "D1", body.Get("driverId").Str)
	assert.Equal(t, 52.37, body.Get("latitude").Num)
	assert.Equal(t, 4.89, body.Get("longitude").Num)
	assert.Equal(t, "O1", body.Get("orderId").Str)
}

func TestPublisher_NoSampleNoPublish(t *testing.T) {
	client := &fakePublisherClient{}
	client.connected.Store(true)
	source := newFakePositionSource()
	pub := newTestPublisher(t, client, source, 0)

	require.NoError(t, pub.Start(""))

	// Several ticks pass with no position sample
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, client.count())
}

func TestPublisher_DropsSamplesWhileDisconnected(t *testing.T) {
	client := &fakePublisherClient{}
	source := newFakePositionSource()
	pub := newTestPublisher(t, client, source, 0)

	require.NoError(t, pub.Start(""))
	source.positions <- Position{Latitude: 1, Longitude: 1}

	// Disconnected: ticks fire but nothing is queued or published
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, client.count())

	// Reconnect: the retained latest sample flows again
	client.connected.Store(true)
	require.Eventually(t, func() bool { return client.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestPublisher_MinDistanceGate(t *testing.T) {
	client := &fakePublisherClient{}
	client.connected.Store(true)
	source := newFakePositionSource()
	pub := newTestPublisher(t, client, source, 50)

	require.NoError(t, pub.Start(""))
	source.positions <- Position{Latitude: 52.0, Longitude: 4.0}
	require.Eventually(t, func() bool { return client.count() == 1 }, time.Second, 5*time.Millisecond)

	// A few meters of drift stays under the 50m gate
	source.positions <- Position{Latitude: 52.00001, Longitude: 4.0}
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, client.count())

	// A real move passes the gate
	source.positions <- Position{Latitude: 52.01, Longitude: 4.0}
	require.Eventually(t, func() bool { return client.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPublisher_PermissionDeniedIsTerminal(t *testing.T) {
	client := &fakePublisherClient{}
	source := newFakePositionSource()
	source.watchErr = ErrPermissionDenied
	pub := newTestPublisher(t, client, source, 0)

	err := pub.Start("")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, pub.Running())

	// The caller may retry after the user grants permission
	source.watchErr = nil
	assert.NoError(t, pub.Start(""))
	assert.True(t, pub.Running())
}

func TestPublisher_StartIdempotentUpdatesOrder(t *testing.T) {
	client := &fakePublisherClient{}
	client.connected.Store(true)
	source := newFakePositionSource()
	pub := newTestPublisher(t, client, source, 0)

	require.NoError(t, pub.Start(""))
	require.NoError(t, pub.Start("O2"))
	assert.Equal(t, int32(1), source.watches.Load())

	source.positions <- Position{Latitude: 1, Longitude: 1}
	require.Eventually(t, func() bool { return client.count() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "O2", gjson.ParseBytes(client.last()).Get("orderId").Str)
}

func TestPublisher_SetActiveOrder(t *testing.T) {
	client := &fakePublisherClient{}
	client.connected.Store(true)
	source := newFakePositionSource()
	pub := newTestPublisher(t, client, source, 0)

	require.NoError(t, pub.Start("O1"))
	pub.SetActiveOrder("")

	source.positions <- Position{Latitude: 1, Longitude: 1}
	require.Eventually(t, func() bool { return client.count() >= 1 }, time.Second, 5*time.Millisecond)

	// Idle driver: no orderId on the wire
	assert.False(t, gjson.ParseBytes(client.last()).Get("orderId").Exists())
}

func TestPublisher_StopIsIdempotentAndHaltsPublishing(t *testing.T) {
	client := &fakePublisherClient{}
	client.connected.Store(true)
	source := newFakePositionSource()
	pub := newTestPublisher(t, client, source, 0)

	require.NoError(t, pub.Start(""))
	source.positions <- Position{Latitude: 1, Longitude: 1}
	require.Eventually(t, func() bool { return client.count() >= 1 }, time.Second, 5*time.Millisecond)

	pub.Stop()
	assert.False(t, pub.Running())
	pub.Stop()

	published := client.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, published, client.count())
}

func TestDistanceMeters(t *testing.T) {
	// One degree of latitude is roughly 111km
	d := distanceMeters(Position{Latitude: 52, Longitude: 4}, Position{Latitude: 53, Longitude: 4})
	assert.InDelta(t, 111195, d, 500)

	assert.Zero(t, distanceMeters(Position{Latitude: 52, Longitude: 4}, Position{Latitude: 52, Longitude: 4}))
}
