package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tidbyt.dev/fleetrt"
	"tidbyt.dev/fleetrt/downloader"
	"tidbyt.dev/fleetrt/metrics"
	"tidbyt.dev/fleetrt/storage"
)

type TraccarConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	Email    string `yaml:"email" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

type ScheduleConfig struct {
	// http(s) URL or local path of the GTFS zip.
	URL      string            `yaml:"url" validate:"required"`
	Headers  map[string]string `yaml:"headers"`
	Timezone string            `yaml:"timezone"`

	Storage     string `yaml:"storage" validate:"oneof=memory sqlite postgres"`
	SQLiteDir   string `yaml:"sqlite_dir"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Storage postgres"`

	// Downloads are cached here, for CacheTTL, when set.
	CacheDir string        `yaml:"cache_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type FeedsConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	TripCacheTTL    time.Duration `yaml:"trip_cache_ttl"`
	TripBucket      time.Duration `yaml:"trip_bucket"`
	Dwell           time.Duration `yaml:"dwell"`
	AlertWindow     time.Duration `yaml:"alert_window"`
	SpeedUnit       string        `yaml:"speed_unit" validate:"oneof=mps knots kmh"`
	DefaultSpeedKmh float64       `yaml:"default_speed_kmh" validate:"gt=0"`
	OvernightTrips  bool          `yaml:"overnight_trips"`
}

type AlertsConfig struct {
	Language    string `yaml:"language" validate:"required"`
	Header      string `yaml:"header" validate:"required"`
	Description string `yaml:"description" validate:"required"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix" validate:"required_with=URL"`
	Interval      time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Traccar  TraccarConfig  `yaml:"traccar"`
	Schedule ScheduleConfig `yaml:"schedule"`

	// Traccar geofence ID to GTFS route ID.
	Geofences map[string]string `yaml:"geofences" validate:"required,min=1"`

	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Feeds   FeedsConfig   `yaml:"feeds"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

func Default() Config {
	return Config{
		Schedule: ScheduleConfig{
			Storage: "memory",
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Feeds: FeedsConfig{
			TTL:             fleetrt.DefaultFeedTTL,
			TripCacheTTL:    fleetrt.DefaultTripCacheTTL,
			TripBucket:      fleetrt.DefaultTripBucket,
			Dwell:           fleetrt.DefaultDwell,
			AlertWindow:     fleetrt.DefaultAlertWindow,
			SpeedUnit:       string(fleetrt.SpeedUnitMPS),
			DefaultSpeedKmh: fleetrt.DefaultSpeedKmh,
		},
		Alerts: AlertsConfig{
			Language:    fleetrt.DefaultAlertLanguage,
			Header:      fleetrt.DefaultAlertHeader,
			Description: fleetrt.DefaultAlertDescription,
		},
		NATS: NATSConfig{
			SubjectPrefix: "fleetrt",
			Interval:      fleetrt.DefaultFeedTTL,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Loads configuration from the YAML file at path, if any, on top of
// the defaults. A .env file in the working directory is loaded into
// the environment first, and environment variables override the file.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TRACCAR_URL":               &c.Traccar.URL,
		"TRACCAR_EMAIL":             &c.Traccar.Email,
		"TRACCAR_PASSWORD":          &c.Traccar.Password,
		"FLEETRT_SCHEDULE_URL":      &c.Schedule.URL,
		"FLEETRT_TIMEZONE":          &c.Schedule.Timezone,
		"FLEETRT_STORAGE":           &c.Schedule.Storage,
		"FLEETRT_SQLITE_DIR":        &c.Schedule.SQLiteDir,
		"FLEETRT_STORAGE_DSN":       &c.Schedule.PostgresDSN,
		"FLEETRT_CACHE_DIR":         &c.Schedule.CacheDir,
		"FLEETRT_SERVER_ADDR":       &c.Server.Addr,
		"FLEETRT_METRICS_ADDR":      &c.Metrics.Addr,
		"FLEETRT_SPEED_UNIT":        &c.Feeds.SpeedUnit,
		"FLEETRT_NATS_URL":          &c.NATS.URL,
		"FLEETRT_NATS_PREFIX":       &c.NATS.SubjectPrefix,
		"FLEETRT_LOG_LEVEL":         &c.Log.Level,
		"FLEETRT_ALERT_LANGUAGE":    &c.Alerts.Language,
		"FLEETRT_ALERT_HEADER":      &c.Alerts.Header,
		"FLEETRT_ALERT_DESCRIPTION": &c.Alerts.Description,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FLEETRT_FEED_TTL":       &c.Feeds.TTL,
		"FLEETRT_TRIP_CACHE_TTL": &c.Feeds.TripCacheTTL,
		"FLEETRT_TRIP_BUCKET":    &c.Feeds.TripBucket,
		"FLEETRT_DWELL":          &c.Feeds.Dwell,
		"FLEETRT_ALERT_WINDOW":   &c.Feeds.AlertWindow,
		"FLEETRT_CACHE_TTL":      &c.Schedule.CacheTTL,
		"FLEETRT_NATS_INTERVAL":  &c.NATS.Interval,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, v)
		}
		*dst = d
	}

	if v, ok := lookup("FLEETRT_DEFAULT_SPEED_KMH"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FLEETRT_DEFAULT_SPEED_KMH: %q", v)
		}
		c.Feeds.DefaultSpeedKmh = f
	}

	for name, dst := range map[string]*bool{
		"FLEETRT_LOG_PRETTY":      &c.Log.Pretty,
		"FLEETRT_OVERNIGHT_TRIPS": &c.Feeds.OvernightTrips,
	} {
		if v, ok := lookup(name); ok && v != "" {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "t", "yes", "y", "on":
				*dst = true
			default:
				*dst = false
			}
		}
	}

	// "6=60,7=61"
	if v, ok := lookup("FLEETRT_GEOFENCES"); ok && v != "" {
		geofences := map[string]string{}
		for _, pair := range strings.Split(v, ",") {
			geofence, route, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found || geofence == "" || route == "" {
				return fmt.Errorf("invalid FLEETRT_GEOFENCES entry %q", pair)
			}
			geofences[geofence] = route
		}
		c.Geofences = geofences
	}

	return nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for name, d := range map[string]time.Duration{
		"feeds.ttl":            c.Feeds.TTL,
		"feeds.trip_cache_ttl": c.Feeds.TripCacheTTL,
		"feeds.trip_bucket":    c.Feeds.TripBucket,
		"feeds.dwell":          c.Feeds.Dwell,
		"feeds.alert_window":   c.Feeds.AlertWindow,
		"schedule.cache_ttl":   c.Schedule.CacheTTL,
	} {
		if d < 0 {
			return fmt.Errorf("invalid config: %s is negative", name)
		}
	}
	if c.NATS.URL != "" && c.NATS.Interval <= 0 {
		return fmt.Errorf("invalid config: nats.interval must be positive")
	}

	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("invalid config: schedule.timezone: %w", err)
		}
	}

	return nil
}

// Options for fleetrt.NewService.
func (c *Config) ServiceOptions(m *metrics.Collector) fleetrt.Options {
	return fleetrt.Options{
		Routes:           c.Geofences,
		FeedTTL:          c.Feeds.TTL,
		TripCacheTTL:     c.Feeds.TripCacheTTL,
		TripBucket:       c.Feeds.TripBucket,
		Dwell:            c.Feeds.Dwell,
		SpeedUnit:        fleetrt.SpeedUnit(c.Feeds.SpeedUnit),
		DefaultSpeedKmh:  c.Feeds.DefaultSpeedKmh,
		OvernightTrips:   c.Feeds.OvernightTrips,
		AlertWindow:      c.Feeds.AlertWindow,
		AlertLanguage:    c.Alerts.Language,
		AlertHeader:      c.Alerts.Header,
		AlertDescription: c.Alerts.Description,
		Metrics:          m,
	}
}

func (c *Config) ScheduleSource() fleetrt.ScheduleSource {
	return fleetrt.ScheduleSource{
		URL:      c.Schedule.URL,
		Headers:  c.Schedule.Headers,
		Timezone: c.Schedule.Timezone,
	}
}

// Opens the configured schedule storage backend.
func (c *Config) Storage() (storage.Storage, error) {
	switch c.Schedule.Storage {
	case "sqlite":
		if c.Schedule.SQLiteDir == "" {
			return storage.NewSQLiteStorage()
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{
			OnDisk:    true,
			Directory: c.Schedule.SQLiteDir,
		})
	case "postgres":
		return storage.NewPSQLStorage(c.Schedule.PostgresDSN, false)
	case "memory", "":
		return storage.NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("unknown storage %q", c.Schedule.Storage)
}

// A schedule Manager on top of s, caching downloads on disk when
// configured.
func (c *Config) Manager(s storage.Storage) (*fleetrt.Manager, error) {
	m := fleetrt.NewManager(s)
	if c.Schedule.CacheDir != "" {
		fs, err := downloader.NewFilesystem(c.Schedule.CacheDir)
		if err != nil {
			return nil, err
		}
		m.Downloader = fs
		m.StaticCacheTTL = c.Schedule.CacheTTL
		if m.StaticCacheTTL == 0 {
			m.StaticCacheTTL = 24 * time.Hour
		}
	}
	return m, nil
}
