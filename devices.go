package fleetrt

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"tidbyt.dev/fleetrt/metrics"
	"tidbyt.dev/fleetrt/model"
)

// Reasons for dropping telemetry, as reported to metrics.
const (
	DropNoGeofence       = "no_geofence"
	DropUnmappedGeofence = "unmapped_geofence"
	DropUnknownDevice    = "unknown_device"
)

// DeviceStore merges Traccar device, position and event messages into
// one record per vehicle.
//
// A device is admitted when it reports a geofence mapped to a route.
// Positions and events for devices not admitted are dropped. Records
// are replaced, never mutated, so readers can hold on to them.
type DeviceStore struct {
	mutex   sync.RWMutex
	devices map[int64]*model.Device

	routes  map[string]string
	metrics *metrics.Collector
}

// routes maps Traccar geofence IDs (as decimal strings) to GTFS route
// IDs.
func NewDeviceStore(routes map[string]string, m *metrics.Collector) *DeviceStore {
	table := make(map[string]string, len(routes))
	for geofence, route := range routes {
		table[geofence] = route
	}
	return &DeviceStore{
		devices: map[int64]*model.Device{},
		routes:  table,
		metrics: m,
	}
}

func (s *DeviceStore) Apply(msg model.Message) {
	switch m := msg.(type) {
	case model.DeviceList:
		s.applyDevices(m)
		s.metrics.MessageApplied("devices")
	case model.PositionList:
		s.applyPositions(m)
		s.metrics.MessageApplied("positions")
	case model.EventList:
		s.applyEvents(m)
		s.metrics.MessageApplied("events")
	case nil:
	default:
		log.Warn().Msgf("Ignoring message of type %T", msg)
	}
}

func (s *DeviceStore) applyDevices(devices model.DeviceList) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, device := range devices {
		geofence, ok := device.CurrentGeofence()
		if !ok {
			s.metrics.DeviceDropped(DropNoGeofence)
			continue
		}
		routeID, ok := s.routes[geofence]
		if !ok {
			log.Debug().
				Int64("device", device.ID).
				Str("geofence", geofence).
				Msg("Geofence not mapped to a route")
			s.metrics.DeviceDropped(DropUnmappedGeofence)
			continue
		}

		record := device
		record.RouteID = routeID
		if prev, found := s.devices[device.ID]; found {
			record.Position = prev.Position
			record.Event = prev.Event
		}
		s.devices[device.ID] = &record
	}

	s.metrics.SetDevicesTracked(len(s.devices))
}

func (s *DeviceStore) applyPositions(positions model.PositionList) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range positions {
		prev, found := s.devices[positions[i].DeviceID]
		if !found {
			s.metrics.DeviceDropped(DropUnknownDevice)
			continue
		}
		position := positions[i]
		record := *prev
		record.Position = &position
		s.devices[record.ID] = &record
	}
}

func (s *DeviceStore) applyEvents(events model.EventList) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range events {
		prev, found := s.devices[events[i].DeviceID]
		if !found {
			s.metrics.DeviceDropped(DropUnknownDevice)
			continue
		}
		event := events[i]
		record := *prev
		record.Event = &event
		s.devices[record.ID] = &record
	}
}

func (s *DeviceStore) Get(id int64) (model.Device, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, found := s.devices[id]
	if !found {
		return model.Device{}, false
	}
	return *record, true
}

// Copies of all records, ordered by device ID.
func (s *DeviceStore) Snapshot() []model.Device {
	s.mutex.RLock()
	devices := make([]model.Device, 0, len(s.devices))
	for _, record := range s.devices {
		devices = append(devices, *record)
	}
	s.mutex.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices
}

func (s *DeviceStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.devices)
}
