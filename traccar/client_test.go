package traccar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt"
	"tidbyt.dev/fleetrt/metrics"
	"tidbyt.dev/fleetrt/model"
)

// A fake Traccar server. Each socket connection is served the next
// script in Sessions; the connection is closed by the server once
// the script runs out, except for the last one which stays open.
type MockTraccar struct {
	Sessions [][]string
	Server   *httptest.Server

	mutex    sync.Mutex
	logins   int
	sockets  int
	upgrader websocket.Upgrader
}

func traccarFixture(sessions ...[]string) *MockTraccar {
	m := &MockTraccar{Sessions: sessions}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", m.session)
	mux.HandleFunc("/api/socket", m.socket)
	m.Server = httptest.NewServer(mux)

	return m
}

func (m *MockTraccar) session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.FormValue("email") != "bridge" || r.FormValue("password") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	m.mutex.Lock()
	m.logins++
	m.mutex.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "abc123", Path: "/", HttpOnly: true})
	w.Write([]byte(`{"id": 1, "name": "bridge"}`))
}

func (m *MockTraccar) socket(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value != "abc123" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	m.mutex.Lock()
	n := m.sockets
	m.sockets++
	m.mutex.Unlock()

	if n >= len(m.Sessions) {
		n = len(m.Sessions) - 1
	}
	for _, frame := range m.Sessions[n] {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}

	if n < len(m.Sessions)-1 {
		conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"),
		)
		return
	}

	// Hold the last session open until the client leaves
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *MockTraccar) counts() (int, int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.logins, m.sockets
}

func testClient(m *MockTraccar, store Applier, password string) *Client {
	c := NewClient(m.Server.URL+"/api/", "bridge", password, store, nil)
	c.Backoff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}
	return c
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func TestClientAppliesMessages(t *testing.T) {
	m := traccarFixture([]string{
		`{"devices": [{"id": 1, "name": "Bus1", "attributes": {"currentGeofence": 6}}]}`,
		`{}`,
		`garbage`,
		`{"positions": [{"id": 10, "deviceId": 1, "latitude": -2.17, "longitude": -79.92, "deviceTime": "2024-01-01T13:00:00Z", "speed": 8, "course": 90}]}`,
		`{"events": [{"id": 5, "deviceId": 1, "type": "geofenceExited", "eventTime": "2024-01-01T13:00:00Z"}]}`,
	})
	defer m.Server.Close()

	store := fleetrt.NewDeviceStore(map[string]string{"6": "60"}, nil)
	cancel, done := runClient(t, testClient(m, store, "secret"))

	require.Eventually(t, func() bool {
		device, found := store.Get(1)
		return found && device.Position != nil && device.Event != nil
	}, 5*time.Second, 10*time.Millisecond)

	device, _ := store.Get(1)
	assert.Equal(t, "60", device.RouteID)
	assert.Equal(t, int64(10), device.Position.ID)
	assert.Equal(t, int64(5), device.Event.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClientReconnects(t *testing.T) {
	m := traccarFixture(
		[]string{`{"devices": [{"id": 1, "name": "Bus1", "attributes": {"currentGeofence": 6}}]}`},
		[]string{`{"devices": [{"id": 2, "name": "Bus2", "attributes": {"currentGeofence": 6}}]}`},
		[]string{`{"positions": [{"id": 10, "deviceId": 1, "latitude": -2.17, "longitude": -79.92, "deviceTime": "2024-01-01T13:00:00Z"}]}`},
	)
	defer m.Server.Close()

	collector := metrics.NewCollector()
	store := fleetrt.NewDeviceStore(map[string]string{"6": "60"}, nil)
	c := testClient(m, store, "secret")
	c.metrics = collector
	runClient(t, c)

	require.Eventually(t, func() bool {
		device, found := store.Get(1)
		return found && device.Position != nil && store.Len() == 2
	}, 5*time.Second, 10*time.Millisecond)

	logins, sockets := m.counts()
	assert.Equal(t, 3, logins)
	assert.Equal(t, 3, sockets)
}

type recorder struct {
	mutex    sync.Mutex
	messages []model.Message
}

func (r *recorder) Apply(msg model.Message) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.messages)
}

func TestClientBadCredentials(t *testing.T) {
	m := traccarFixture([]string{`{"devices": []}`})
	defer m.Server.Close()

	c := testClient(m, &recorder{}, "wrong")
	_, err := c.login(context.Background())
	assert.Error(t, err)

	// Keeps trying, never gets anywhere
	rec := &recorder{}
	c = testClient(m, rec, "wrong")
	cancel, done := runClient(t, c)
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	_, sockets := m.counts()
	assert.Equal(t, 0, sockets)
	assert.Equal(t, 0, rec.count())
}

func TestClientLoginCookie(t *testing.T) {
	m := traccarFixture([]string{})
	defer m.Server.Close()

	cookie, err := testClient(m, &recorder{}, "secret").login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionCookie, cookie.Name)
	assert.Equal(t, "abc123", cookie.Value)

	// No cookie in response
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()
	c := NewClient(server.URL, "bridge", "secret", &recorder{}, nil)
	_, err = c.login(context.Background())
	assert.Error(t, err)
}

func TestSocketURL(t *testing.T) {
	for base, expected := range map[string]string{
		"http://traccar:8082/api":      "ws://traccar:8082/api/socket",
		"https://gps.example.com/api":  "wss://gps.example.com/api/socket",
		"https://gps.example.com/api/": "wss://gps.example.com/api/socket",
		"https://gps.example.com":      "wss://gps.example.com/socket",
	} {
		actual, err := socketURL(base)
		require.NoError(t, err, base)
		assert.Equal(t, expected, actual, base)
	}

	for _, base := range []string{"ftp://gps.example.com", "://nope"} {
		_, err := socketURL(base)
		assert.Error(t, err, base)
	}
}
