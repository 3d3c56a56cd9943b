package fleetrt

import (
	"fmt"
	"sort"
	"time"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

// Schedule is a read-only index over a parsed static GTFS feed.
type Schedule struct {
	Metadata *storage.FeedMetadata
	Reader   storage.FeedReader

	location     *time.Location
	maxDeparture time.Duration

	tripsByRoute map[string][]model.Trip
	stopTimes    map[string][]model.StopTime
	stops        map[string]model.Stop
}

// A trip eligible for matching, with its stop times ordered by
// stop_sequence.
type TripCandidate struct {
	Trip      model.Trip
	StopTimes []model.StopTime
}

// Indexes trips, stop times and stops from reader. The agency
// timezone in metadata is the operating location; UTC if unset.
func NewSchedule(reader storage.FeedReader, metadata *storage.FeedMetadata) (*Schedule, error) {
	location := time.UTC
	if metadata.Timezone != "" {
		loc, err := time.LoadLocation(metadata.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone: %w", err)
		}
		location = loc
	}

	var maxDeparture time.Duration
	if metadata.MaxDeparture != "" {
		d, err := model.ParseHHMMSS(metadata.MaxDeparture)
		if err != nil {
			return nil, fmt.Errorf("parsing max departure: %w", err)
		}
		maxDeparture = d
	}

	trips, err := reader.Trips()
	if err != nil {
		return nil, fmt.Errorf("getting trips: %w", err)
	}
	tripsByRoute := map[string][]model.Trip{}
	for _, trip := range trips {
		tripsByRoute[trip.RouteID] = append(tripsByRoute[trip.RouteID], trip)
	}

	stopTimes, err := reader.StopTimes()
	if err != nil {
		return nil, fmt.Errorf("getting stop times: %w", err)
	}
	stopTimesByTrip := map[string][]model.StopTime{}
	for _, st := range stopTimes {
		stopTimesByTrip[st.TripID] = append(stopTimesByTrip[st.TripID], st)
	}
	for _, sts := range stopTimesByTrip {
		sort.SliceStable(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})
	}

	stops, err := reader.Stops()
	if err != nil {
		return nil, fmt.Errorf("getting stops: %w", err)
	}
	stopsByID := make(map[string]model.Stop, len(stops))
	for _, stop := range stops {
		stopsByID[stop.ID] = stop
	}

	return &Schedule{
		Metadata:     metadata,
		Reader:       reader,
		location:     location,
		maxDeparture: maxDeparture,
		tripsByRoute: tripsByRoute,
		stopTimes:    stopTimesByTrip,
		stops:        stopsByID,
	}, nil
}

func (s *Schedule) Location() *time.Location {
	return s.location
}

// Latest departure of any trip, as an offset from the start of its
// service day. Exceeds 24h when trips run past midnight.
func (s *Schedule) MaxDeparture() time.Duration {
	return s.maxDeparture
}

// Service IDs active on the date's calendar day, with calendar_dates
// exceptions applied.
func (s *Schedule) ActiveServices(date time.Time) ([]string, error) {
	services, err := s.Reader.ActiveServices(date.Format("20060102"))
	if err != nil {
		return nil, fmt.Errorf("active services for %s: %w", date.Format("2006-01-02"), err)
	}
	return services, nil
}

// Trips on the route running one of the services, in feed order.
// Trips without stop times are left out.
func (s *Schedule) TripsFor(routeID string, services []string) []TripCandidate {
	active := make(map[string]bool, len(services))
	for _, id := range services {
		active[id] = true
	}

	candidates := []TripCandidate{}
	for _, trip := range s.tripsByRoute[routeID] {
		if !active[trip.ServiceID] {
			continue
		}
		sts := s.stopTimes[trip.ID]
		if len(sts) == 0 {
			continue
		}
		candidates = append(candidates, TripCandidate{Trip: trip, StopTimes: sts})
	}
	return candidates
}

func (s *Schedule) Stop(id string) (model.Stop, bool) {
	stop, ok := s.stops[id]
	return stop, ok
}

// Route IDs having at least one trip, sorted.
func (s *Schedule) Routes() []string {
	routes := make([]string, 0, len(s.tripsByRoute))
	for id := range s.tripsByRoute {
		routes = append(routes, id)
	}
	sort.Strings(routes)
	return routes
}
