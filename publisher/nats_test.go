package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"tidbyt.dev/fleetrt"
	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/testutil"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mutex    sync.Mutex
	messages []published
	fail     map[string]bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.fail[subject] {
		return errors.New("nats: connection closed")
	}
	c.messages = append(c.messages, published{subject, data})
	return nil
}

func (c *fakeConn) snapshot() []published {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]published{}, c.messages...)
}

type fakeMetrics struct {
	mutex     sync.Mutex
	published int
	errors    int
	observed  int
}

func (m *fakeMetrics) NATSPublishedInc() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.published++
}

func (m *fakeMetrics) NATSPublishErrInc() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.errors++
}

func (m *fakeMetrics) PublishObserve(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.observed++
}

func (m *fakeMetrics) NATSSetConnected(connected bool) {}

func serviceFixture(t *testing.T) *fleetrt.Service {
	schedule := testutil.BuildSchedule(t, "memory", testutil.FixtureRoute60())
	now := time.Date(2024, 1, 1, 8, 5, 0, 0, time.UTC)
	service := fleetrt.NewService(schedule, fleetrt.Options{
		Routes:  map[string]string{"6": "60"},
		TimeNow: func() time.Time { return now },
	})
	service.Devices.Apply(model.DeviceList{{
		ID:         1,
		Name:       "Bus1",
		Attributes: map[string]any{"currentGeofence": float64(6)},
	}})
	service.Devices.Apply(model.PositionList{{
		DeviceID:   1,
		Latitude:   -2.17,
		Longitude:  -79.92,
		DeviceTime: "2024-01-01T08:05:00Z",
	}})
	return service
}

func TestSubject(t *testing.T) {
	for _, tc := range []struct {
		prefix  string
		feed    string
		subject string
	}{
		{"fleetrt", "vehicle_positions", "fleetrt.vehicle_positions"},
		{"gtfsrt.gye", "trip_updates", "gtfsrt.gye.trip_updates"},
		{"", "service_alerts", "service_alerts"},
		{"my prefix.>", "a*b", "my_prefix._.a_b"},
		{"x.", " ", "x._"},
	} {
		p := newPublisher(&fakeConn{}, tc.prefix, nil)
		assert.Equal(t, tc.subject, p.Subject(tc.feed), tc.prefix)
	}
}

func TestPublishAll(t *testing.T) {
	service := serviceFixture(t)
	conn := &fakeConn{}
	m := &fakeMetrics{}
	p := newPublisher(conn, "fleetrt.gye", m)

	require.NoError(t, p.PublishAll(service.Feeds()))

	messages := conn.snapshot()
	require.Equal(t, 3, len(messages))
	assert.Equal(t, "fleetrt.gye.vehicle_positions", messages[0].subject)
	assert.Equal(t, "fleetrt.gye.trip_updates", messages[1].subject)
	assert.Equal(t, "fleetrt.gye.service_alerts", messages[2].subject)

	feed := &gtfsproto.FeedMessage{}
	require.NoError(t, proto.Unmarshal(messages[0].data, feed))
	require.Equal(t, 1, len(feed.GetEntity()))
	assert.Equal(t, "t0800", feed.GetEntity()[0].GetVehicle().GetTrip().GetTripId())

	feed = &gtfsproto.FeedMessage{}
	require.NoError(t, proto.Unmarshal(messages[2].data, feed))
	assert.Equal(t, 0, len(feed.GetEntity()))

	assert.Equal(t, 3, m.published)
	assert.Equal(t, 3, m.observed)
	assert.Equal(t, 0, m.errors)
}

func TestPublishAllContinuesPastFailures(t *testing.T) {
	service := serviceFixture(t)
	conn := &fakeConn{fail: map[string]bool{"fleetrt.trip_updates": true}}
	m := &fakeMetrics{}
	p := newPublisher(conn, "fleetrt", m)

	err := p.PublishAll(service.Feeds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fleetrt.trip_updates")

	messages := conn.snapshot()
	require.Equal(t, 2, len(messages))
	assert.Equal(t, "fleetrt.vehicle_positions", messages[0].subject)
	assert.Equal(t, "fleetrt.service_alerts", messages[1].subject)
	assert.Equal(t, 2, m.published)
	assert.Equal(t, 1, m.errors)
}

func TestRun(t *testing.T) {
	service := serviceFixture(t)
	conn := &fakeConn{}
	p := newPublisher(conn, "fleetrt", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, service.Feeds(), 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return len(conn.snapshot()) >= 9
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestNewNATSPublisherUnreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "fleetrt", nil)
	assert.Error(t, err)
}
