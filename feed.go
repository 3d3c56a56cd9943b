package fleetrt

import (
	"errors"
	"strconv"
	"sync"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"tidbyt.dev/fleetrt/metrics"
	"tidbyt.dev/fleetrt/model"
)

const (
	DefaultFeedTTL = 10 * time.Second

	FeedVehiclePositions = "vehicle_positions"
	FeedTripUpdates      = "trip_updates"
	FeedServiceAlerts    = "service_alerts"
)

var (
	// Returned by builders for devices not running a scheduled
	// trip.
	ErrNoTripMatch = errors.New("no trip match")

	// Returned by builders for devices the feed has nothing to say
	// about. Not an error condition.
	errIneligible = errors.New("ineligible")
)

// EntityBuilder produces the feed entity for one device.
type EntityBuilder interface {
	Entity(device model.Device) (*gtfsproto.FeedEntity, error)
}

// An immutable, fully built feed.
type Snapshot struct {
	Message *gtfsproto.FeedMessage
	BuiltAt time.Time
}

func (s *Snapshot) Bytes() ([]byte, error) {
	return proto.Marshal(s.Message)
}

func (s *Snapshot) JSON() ([]byte, error) {
	return protojson.Marshal(s.Message)
}

func (s *Snapshot) Len() int {
	return len(s.Message.GetEntity())
}

// Feed assembles one kind of GTFS-Realtime feed from the device store,
// caching the result for TTL.
type Feed struct {
	Name    string
	TTL     time.Duration
	TimeNow func() time.Time

	store   *DeviceStore
	builder EntityBuilder
	metrics *metrics.Collector

	mutex  sync.Mutex
	cached *Snapshot
	seen   map[string]bool
}

func NewFeed(name string, store *DeviceStore, builder EntityBuilder, m *metrics.Collector) *Feed {
	return &Feed{
		Name:    name,
		TTL:     DefaultFeedTTL,
		TimeNow: time.Now,
		store:   store,
		builder: builder,
		metrics: m,
		seen:    map[string]bool{},
	}
}

// Returns the cached snapshot if fresh, otherwise builds a new one.
// Concurrent callers wait for a single build.
func (f *Feed) Make() *Snapshot {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	now := f.TimeNow()
	if f.cached != nil && now.Sub(f.cached.BuiltAt) < f.TTL {
		return f.cached
	}

	f.cached = f.build(now)
	return f.cached
}

func (f *Feed) build(now time.Time) *Snapshot {
	start := time.Now()

	entities := []*gtfsproto.FeedEntity{}
	created, updated := 0, 0

	for _, device := range f.store.Snapshot() {
		if device.Position == nil {
			continue
		}

		entity, err := f.builder.Entity(device)
		switch {
		case errors.Is(err, errIneligible):
			continue
		case errors.Is(err, ErrNoTripMatch):
			log.Debug().
				Str("feed", f.Name).
				Int64("device", device.ID).
				Str("route", device.RouteID).
				Msg("No trip match")
			f.metrics.FeedDeviceSkipped(f.Name, "no_trip")
			continue
		case err != nil:
			log.Warn().
				Err(err).
				Str("feed", f.Name).
				Int64("device", device.ID).
				Msg("Skipping device")
			f.metrics.FeedDeviceSkipped(f.Name, "error")
			continue
		}

		entities = append(entities, entity)
		if f.seen[entity.GetId()] {
			updated++
		} else {
			created++
			f.seen[entity.GetId()] = true
		}
	}

	version := "2.0"
	incrementality := gtfsproto.FeedHeader_FULL_DATASET
	timestamp := uint64(now.Unix())
	snapshot := &Snapshot{
		Message: &gtfsproto.FeedMessage{
			Header: &gtfsproto.FeedHeader{
				GtfsRealtimeVersion: &version,
				Incrementality:      &incrementality,
				Timestamp:           &timestamp,
			},
			Entity: entities,
		},
		BuiltAt: now,
	}

	elapsed := time.Since(start)
	f.metrics.FeedBuilt(f.Name, len(entities), elapsed)
	log.Debug().
		Str("feed", f.Name).
		Int("entities", len(entities)).
		Int("new", created).
		Int("updated", updated).
		Dur("elapsed", elapsed).
		Msg("Built feed")

	return snapshot
}

func tripDescriptor(match *model.TripMatch) *gtfsproto.TripDescriptor {
	schedRel := gtfsproto.TripDescriptor_SCHEDULED
	return &gtfsproto.TripDescriptor{
		TripId:               proto.String(match.TripID),
		RouteId:              proto.String(match.RouteID),
		StartDate:            proto.String(match.ServiceDate.Format("20060102")),
		ScheduleRelationship: &schedRel,
	}
}

func vehicleDescriptor(device model.Device) *gtfsproto.VehicleDescriptor {
	return &gtfsproto.VehicleDescriptor{
		Id:    proto.String(device.Name),
		Label: proto.String(device.Name),
	}
}

func entityID(device model.Device) *string {
	return proto.String(strconv.FormatInt(device.ID, 10))
}
