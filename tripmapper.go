package fleetrt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tidbyt.dev/fleetrt/model"
)

const (
	DefaultTripCacheTTL = 10 * time.Minute
	DefaultTripBucket   = time.Minute
)

var ErrNoSchedule = errors.New("no schedule loaded")

// TripMapper resolves a route and a point in time to the scheduled
// trip the vehicle is most likely running.
//
// Results are cached per route, service date and time bucket (one
// minute by default). Only successful matches are cached.
type TripMapper struct {
	TTL     time.Duration
	Bucket  time.Duration
	TimeNow func() time.Time

	// Also match the previous service day's trips while they run
	// past midnight. Off, only the device's local date is considered.
	Overnight bool

	schedule *Schedule

	mutex sync.Mutex
	cache map[tripCacheKey]tripCacheEntry
}

type tripCacheKey struct {
	routeID string
	date    string
	bucket  int64
}

type tripCacheEntry struct {
	match      *model.TripMatch
	expiration time.Time
}

func NewTripMapper(schedule *Schedule) *TripMapper {
	return &TripMapper{
		TTL:      DefaultTripCacheTTL,
		Bucket:   DefaultTripBucket,
		TimeNow:  time.Now,
		schedule: schedule,
		cache:    map[tripCacheKey]tripCacheEntry{},
	}
}

// Returns the trip on routeID whose first departure is closest to
// deviceTime, or nil if no trip on the route runs that day.
func (m *TripMapper) Map(routeID string, deviceTime time.Time) (*model.TripMatch, error) {
	if m.schedule == nil {
		return nil, ErrNoSchedule
	}

	local := deviceTime.In(m.schedule.Location())
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	offset := local.Sub(model.ServiceDayStart(date))

	bucket := m.Bucket
	if bucket <= 0 {
		bucket = DefaultTripBucket
	}
	key := tripCacheKey{
		routeID: routeID,
		date:    date.Format("20060102"),
		bucket:  int64(offset / bucket),
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.TimeNow()
	if entry, ok := m.cache[key]; ok && entry.expiration.After(now) {
		return entry.match, nil
	}

	match, err := m.match(routeID, local, date)
	if err != nil || match == nil {
		return match, err
	}

	for k, entry := range m.cache {
		if !entry.expiration.After(now) {
			delete(m.cache, k)
		}
	}
	m.cache[key] = tripCacheEntry{match: match, expiration: now.Add(m.TTL)}

	return match, nil
}

// Number of cached matches, expired or not.
func (m *TripMapper) CacheSize() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.cache)
}

type serviceDay struct {
	date   time.Time
	offset time.Duration
}

// The local date, plus the previous one when overnight matching is on
// and its trips run past midnight far enough to still be in service.
func (m *TripMapper) serviceDays(local, date time.Time) []serviceDay {
	days := []serviceDay{{date, local.Sub(model.ServiceDayStart(date))}}
	if !m.Overnight {
		return days
	}

	prev := date.AddDate(0, 0, -1)
	prevOffset := local.Sub(model.ServiceDayStart(prev))
	if prevOffset <= m.schedule.MaxDeparture() {
		days = append(days, serviceDay{prev, prevOffset})
	}

	return days
}

func (m *TripMapper) match(routeID string, local, date time.Time) (*model.TripMatch, error) {
	var best *TripCandidate
	var bestDay serviceDay
	var bestDiff time.Duration

	for _, day := range m.serviceDays(local, date) {
		services, err := m.schedule.ActiveServices(day.date)
		if err != nil {
			return nil, err
		}
		if len(services) == 0 {
			continue
		}

		candidates := m.schedule.TripsFor(routeID, services)
		for i := range candidates {
			first := candidates[i].StopTimes[0]
			departure, err := first.DepartureTime()
			if err != nil {
				return nil, fmt.Errorf("trip %s: %w", candidates[i].Trip.ID, err)
			}

			diff := departure - day.offset
			if diff < 0 {
				diff = -diff
			}
			// Strictly less, so ties go to the first seen.
			if best == nil || diff.Truncate(time.Second) < bestDiff {
				best = &candidates[i]
				bestDay = day
				bestDiff = diff.Truncate(time.Second)
			}
		}
	}

	if best == nil {
		return nil, nil
	}

	stops := make([]model.ScheduledStop, 0, len(best.StopTimes))
	for _, st := range best.StopTimes {
		stop, ok := m.schedule.Stop(st.StopID)
		if !ok {
			return nil, fmt.Errorf("trip %s references unknown stop %s", best.Trip.ID, st.StopID)
		}
		stops = append(stops, model.ScheduledStop{
			StopSequence: st.StopSequence,
			StopID:       st.StopID,
			Lat:          stop.Lat,
			Lon:          stop.Lon,
			Arrival:      st.Arrival,
			Departure:    st.Departure,
		})
	}

	return &model.TripMatch{
		TripID:      best.Trip.ID,
		RouteID:     best.Trip.RouteID,
		ServiceDate: bestDay.date,
		Stops:       stops,
	}, nil
}
