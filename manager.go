package fleetrt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tidbyt.dev/fleetrt/downloader"
	"tidbyt.dev/fleetrt/parse"
	"tidbyt.dev/fleetrt/storage"
)

const (
	DefaultStaticTimeout = 60 * time.Second
	DefaultStaticMaxSize = 800 << 20 // 800 MB
)

// Where to load a static GTFS schedule from.
type ScheduleSource struct {
	// http(s) URL or local path to a GTFS zip.
	URL     string
	Headers map[string]string

	// Overrides the agency timezone when set.
	Timezone string
}

// Manager loads static GTFS schedules into storage.
type Manager struct {
	StaticTimeout time.Duration
	StaticMaxSize int
	Downloader    downloader.Downloader
	TimeNow       func() time.Time

	// Downloads are cached for this long when set.
	StaticCacheTTL time.Duration

	storage storage.Storage
}

// Creates a new Manager on top of the given storage. Parsed feeds
// are kept in storage and reused when the same data is loaded again.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		StaticTimeout: DefaultStaticTimeout,
		StaticMaxSize: DefaultStaticMaxSize,
		Downloader:    downloader.NewMemoryDownloader(),
		TimeNow:       time.Now,
		storage:       s,
	}
}

func (m *Manager) fetch(ctx context.Context, src ScheduleSource) ([]byte, error) {
	if strings.HasPrefix(src.URL, "http://") || strings.HasPrefix(src.URL, "https://") {
		body, err := m.Downloader.Get(ctx, src.URL, src.Headers, downloader.GetOptions{
			Timeout:  m.StaticTimeout,
			MaxSize:  m.StaticMaxSize,
			Cache:    m.StaticCacheTTL > 0,
			CacheTTL: m.StaticCacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", src.URL, err)
		}
		return body, nil
	}

	body, err := os.ReadFile(strings.TrimPrefix(src.URL, "file://"))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src.URL, err)
	}
	return body, nil
}

// Fetches the schedule, parses it into storage unless already
// present, and indexes it.
func (m *Manager) LoadSchedule(ctx context.Context, src ScheduleSource) (*Schedule, error) {
	body, err := m.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	metadata, err := m.ensureParsed(src.URL, hash, body)
	if err != nil {
		return nil, err
	}

	if src.Timezone != "" {
		overridden := *metadata
		overridden.Timezone = src.Timezone
		metadata = &overridden
	}

	active, err := feedActive(metadata, m.TimeNow())
	if err != nil {
		return nil, fmt.Errorf("checking if feed is active: %w", err)
	}
	if !active {
		log.Warn().
			Str("url", src.URL).
			Str("start", metadata.CalendarStartDate).
			Str("end", metadata.CalendarEndDate).
			Msg("Schedule calendar does not cover today")
	}

	reader, err := m.storage.GetReader(hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}
	schedule, err := NewSchedule(reader, metadata)
	if err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}

	log.Info().
		Str("url", src.URL).
		Str("hash", hash[:12]).
		Str("timezone", schedule.Location().String()).
		Int("routes", len(schedule.Routes())).
		Msg("Loaded schedule")

	return schedule, nil
}

// Returns metadata for the feed with the given hash, parsing body
// into storage if no feed with that hash exists.
func (m *Manager) ensureParsed(url, hash string, body []byte) (*storage.FeedMetadata, error) {
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	for _, feed := range feeds {
		if feed.URL == url {
			log.Debug().Str("hash", hash).Msg("Schedule already in storage")
			return feed, nil
		}
	}

	if len(feeds) > 0 {
		// Same data under a different URL. Record it for this
		// one too.
		metadata := *feeds[0]
		metadata.URL = url
		metadata.RetrievedAt = m.TimeNow().UTC()
		if err := m.storage.WriteFeedMetadata(&metadata); err != nil {
			return nil, fmt.Errorf("writing metadata: %w", err)
		}
		return &metadata, nil
	}

	writer, err := m.storage.GetWriter(hash)
	if err != nil {
		return nil, fmt.Errorf("getting writer: %w", err)
	}

	metadata, err := parse.ParseStatic(writer, body)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("parsing: %w", err)
	}

	metadata.Hash = hash
	metadata.URL = url
	metadata.RetrievedAt = m.TimeNow().UTC()
	if err := m.storage.WriteFeedMetadata(metadata); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	return metadata, nil
}

func feedActive(feed *storage.FeedMetadata, now time.Time) (bool, error) {
	location := time.UTC
	if feed.Timezone != "" {
		loc, err := time.LoadLocation(feed.Timezone)
		if err != nil {
			return false, fmt.Errorf("loading timezone: %w", err)
		}
		location = loc
	}

	today := now.In(location).Format("20060102")
	if feed.CalendarStartDate > today || feed.CalendarEndDate < today {
		return false, nil
	}
	return true, nil
}
