package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"tidbyt.dev/fleetrt"
)

// The subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NATSPublisher mirrors encoded feeds to NATS, one subject per feed.
type NATSPublisher struct {
	conn    Conn
	nc      *nats.Conn
	prefix  string
	metrics PublisherMetrics
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("fleetrt"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("NATS closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}

	p := newPublisher(nc, prefix, m)
	p.nc = nc
	return p, nil
}

func newPublisher(conn Conn, prefix string, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

// Subject for a feed: "<prefix>.<feed>".
func (p *NATSPublisher) Subject(feed string) string {
	tokens := []string{}
	for _, token := range strings.Split(p.prefix, ".") {
		if token != "" {
			tokens = append(tokens, subjectToken(token))
		}
	}
	return strings.Join(append(tokens, subjectToken(feed)), ".")
}

func (p *NATSPublisher) PublishFeed(feed *fleetrt.Feed) error {
	data, err := feed.Make().Bytes()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", feed.Name, err)
	}

	subject := p.Subject(feed.Name)
	start := time.Now()
	err = p.conn.Publish(subject, data)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}

	log.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("Published feed")
	return nil
}

// Publishes every feed, continuing past failures.
func (p *NATSPublisher) PublishAll(feeds []*fleetrt.Feed) error {
	var errs []error
	for _, feed := range feeds {
		if err := p.PublishFeed(feed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publishes all feeds now and then every interval, until ctx is done.
// Publish failures are logged and retried on the next tick.
func (p *NATSPublisher) Run(ctx context.Context, feeds []*fleetrt.Feed, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.PublishAll(feeds); err != nil {
			log.Warn().Err(err).Msg("Publishing feeds")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
