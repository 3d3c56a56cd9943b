package traccar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tidbyt.dev/fleetrt/metrics"
	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/parse"
)

const (
	SessionCookie = "JSESSIONID"

	DefaultLoginTimeout = 30 * time.Second
)

var errSessionClosed = errors.New("session closed")

// Receives decoded socket messages.
type Applier interface {
	Apply(msg model.Message)
}

// Client keeps a Traccar websocket session open and feeds every
// message it receives to an Applier, reconnecting with exponential
// backoff when the session ends.
type Client struct {
	// Base URL of the Traccar API, e.g. https://traccar.example.com/api
	URL      string
	Email    string
	Password string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Backoff    func() backoff.BackOff

	store   Applier
	metrics *metrics.Collector
}

func NewClient(baseURL, email, password string, store Applier, m *metrics.Collector) *Client {
	return &Client{
		URL:        strings.TrimSuffix(baseURL, "/"),
		Email:      email,
		Password:   password,
		HTTPClient: &http.Client{Timeout: DefaultLoginTimeout},
		Dialer:     websocket.DefaultDialer,
		Backoff:    defaultBackoff,
		store:      store,
		metrics:    m,
	}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Converts the API base URL to the socket endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	return u.String(), nil
}

// Creates a session and returns its cookie.
func (c *Client) login(ctx context.Context) (*http.Cookie, error) {
	form := url.Values{}
	form.Set("email", c.Email)
	form.Set("password", c.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/session", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logging in: status %d", resp.StatusCode)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			return cookie, nil
		}
	}
	return nil, fmt.Errorf("logging in: no %s cookie in response", SessionCookie)
}

// Runs a single session until the socket closes or ctx is done.
// onConnect is called once the socket is open.
func (c *Client) session(ctx context.Context, onConnect func()) error {
	cookie, err := c.login(ctx)
	if err != nil {
		return err
	}

	endpoint, err := socketURL(c.URL)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	conn, resp, err := c.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Info().Str("url", endpoint).Msg("Connected to Traccar")
	c.metrics.TraccarSetConnected(true)
	defer c.metrics.TraccarSetConnected(false)
	onConnect()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("%w: %s", errSessionClosed, closeErr.Error())
			}
			return fmt.Errorf("reading: %w", err)
		}

		msg, err := parse.ParseTraccar(data)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed Traccar message")
			continue
		}
		if msg == nil {
			continue
		}
		c.store.Apply(msg)
	}
}

// Keeps a session running until ctx is done. Returns nil on
// cancellation.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.WithContext(c.Backoff(), ctx)

	err := backoff.RetryNotify(
		func() error {
			err := c.session(ctx, b.Reset)
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if err == nil {
				err = errSessionClosed
			}
			return err
		},
		b,
		func(err error, wait time.Duration) {
			log.Warn().Err(err).Dur("retry_in", wait).Msg("Traccar session ended")
			c.metrics.TraccarReconnectInc()
		},
	)

	if ctx.Err() != nil {
		return nil
	}
	return err
}
