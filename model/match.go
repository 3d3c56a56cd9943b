package model

import "time"

// A stop on a matched trip, joined with the stop's coordinates.
type ScheduledStop struct {
	StopSequence uint32
	StopID       string
	Lat          float64
	Lon          float64
	Arrival      string
	Departure    string
}

// The scheduled trip a vehicle is believed to be running. ServiceDate
// is local midnight of the service day, in the operating location.
type TripMatch struct {
	TripID      string
	RouteID     string
	ServiceDate time.Time
	Stops       []ScheduledStop
}

// Absolute scheduled times for a stop on this match's service day.
func (m *TripMatch) ScheduledTimes(stop ScheduledStop) (arrival time.Time, departure time.Time, err error) {
	arr, err := ParseHHMMSS(stop.Arrival)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	dep, err := ParseHHMMSS(stop.Departure)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	base := ServiceDayStart(m.ServiceDate)
	return base.Add(arr), base.Add(dep), nil
}

// Index of the first stop whose scheduled departure is at or after
// when. If all have departed, the last stop.
func (m *TripMatch) PendingIndex(when time.Time) (int, error) {
	for i, stop := range m.Stops {
		_, dep, err := m.ScheduledTimes(stop)
		if err != nil {
			return 0, err
		}
		if !dep.Before(when) {
			return i, nil
		}
	}
	return len(m.Stops) - 1, nil
}

// GTFS times are relative to noon minus 12h on the service date,
// which only differs from midnight on DST transition days.
func ServiceDayStart(date time.Time) time.Time {
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, date.Location())
	return noon.Add(-12 * time.Hour)
}

type Delay struct {
	ArrivalDelay       int32
	DepartureDelay     int32
	Uncertainty        int32
	EstimatedArrival   time.Time
	EstimatedDeparture time.Time
}
