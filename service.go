package fleetrt

import (
	"time"

	"tidbyt.dev/fleetrt/metrics"
)

// Options for NewService. Zero values fall back to defaults.
type Options struct {
	// Traccar geofence ID to GTFS route ID.
	Routes map[string]string

	FeedTTL      time.Duration
	TripCacheTTL time.Duration
	TripBucket   time.Duration
	Dwell        time.Duration

	// Match trips of the previous service day that run past midnight.
	OvernightTrips bool

	SpeedUnit       SpeedUnit
	DefaultSpeedKmh float64

	AlertWindow      time.Duration
	AlertLanguage    string
	AlertHeader      string
	AlertDescription string

	Metrics *metrics.Collector

	// Clock for caches and estimates. Defaults to time.Now.
	TimeNow func() time.Time
}

// Service is the bridge's core: the device store and the three
// feeds built from it.
type Service struct {
	Schedule  *Schedule
	Mapper    *TripMapper
	Estimator *DelayEstimator
	Devices   *DeviceStore

	VehiclePositions *Feed
	TripUpdates      *Feed
	ServiceAlerts    *Feed
}

func orDuration(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func orString(s, def string) string {
	if s != "" {
		return s
	}
	return def
}

func NewService(schedule *Schedule, opts Options) *Service {
	timeNow := opts.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}

	mapper := NewTripMapper(schedule)
	mapper.TTL = orDuration(opts.TripCacheTTL, DefaultTripCacheTTL)
	mapper.Bucket = orDuration(opts.TripBucket, DefaultTripBucket)
	mapper.TimeNow = timeNow
	mapper.Overnight = opts.OvernightTrips

	estimator := NewDelayEstimator()
	estimator.Dwell = orDuration(opts.Dwell, DefaultDwell)
	estimator.TimeNow = timeNow

	speed := Speed{Unit: opts.SpeedUnit, DefaultKmh: opts.DefaultSpeedKmh}
	if speed.Unit == "" {
		speed.Unit = SpeedUnitMPS
	}
	if speed.DefaultKmh <= 0 {
		speed.DefaultKmh = DefaultSpeedKmh
	}

	alerts := NewServiceAlerts()
	alerts.Window = orDuration(opts.AlertWindow, DefaultAlertWindow)
	alerts.Language = orString(opts.AlertLanguage, DefaultAlertLanguage)
	alerts.Header = orString(opts.AlertHeader, DefaultAlertHeader)
	alerts.Description = orString(opts.AlertDescription, DefaultAlertDescription)

	devices := NewDeviceStore(opts.Routes, opts.Metrics)

	feed := func(name string, builder EntityBuilder) *Feed {
		f := NewFeed(name, devices, builder, opts.Metrics)
		f.TTL = orDuration(opts.FeedTTL, DefaultFeedTTL)
		f.TimeNow = timeNow
		return f
	}

	return &Service{
		Schedule:  schedule,
		Mapper:    mapper,
		Estimator: estimator,
		Devices:   devices,

		VehiclePositions: feed(FeedVehiclePositions, &VehiclePositions{
			Mapper: mapper,
			Speed:  speed,
		}),
		TripUpdates: feed(FeedTripUpdates, &TripUpdates{
			Mapper:    mapper,
			Estimator: estimator,
			Speed:     speed,
		}),
		ServiceAlerts: feed(FeedServiceAlerts, alerts),
	}
}

// All feeds, in a fixed order.
func (s *Service) Feeds() []*Feed {
	return []*Feed{s.VehiclePositions, s.TripUpdates, s.ServiceAlerts}
}

func (s *Service) Feed(name string) (*Feed, bool) {
	for _, f := range s.Feeds() {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}
