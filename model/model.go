package model

import (
	"fmt"
	"strconv"
	"time"
)

// Static schedule records, as parsed from a GTFS zip.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

type ExceptionType int8

const (
	ExceptionTypeAdded   ExceptionType = 1
	ExceptionTypeRemoved ExceptionType = 2
)

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
}

// Weekday is a bitmask with bit (1 << time.Weekday) set for each day
// the service runs.
type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string
	Weekday   int8
}

func (c Calendar) RunsOn(day time.Weekday) bool {
	return c.Weekday&(1<<day) != 0
}

type CalendarDate struct {
	ServiceID     string
	Date          string
	ExceptionType ExceptionType
}

type Stop struct {
	ID            string
	Code          string
	Name          string
	Desc          string
	Lat           float64
	Lon           float64
	URL           string
	LocationType  LocationType
	ParentStation string
	PlatformCode  string
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	ShortName   string
	DirectionID int8
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Desc      string
	Type      RouteType
	URL       string
	Color     string
	TextColor string
}

// Arrival and Departure are "HHMMSS", hours may exceed 23.
type StopTime struct {
	TripID       string
	StopID       string
	Headsign     string
	StopSequence uint32
	Arrival      string
	Departure    string
}

func (st StopTime) ArrivalTime() (time.Duration, error) {
	return ParseHHMMSS(st.Arrival)
}

func (st StopTime) DepartureTime() (time.Duration, error) {
	return ParseHHMMSS(st.Departure)
}

// Parses a GTFS "HHMMSS" time into an offset from the start of the
// service day (see ServiceDayStart).
func ParseHHMMSS(s string) (time.Duration, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("malformed time '%s'", s)
	}
	h, errH := strconv.Atoi(s[0:2])
	m, errM := strconv.Atoi(s[2:4])
	sec, errS := strconv.Atoi(s[4:6])
	if errH != nil || errM != nil || errS != nil || h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("malformed time '%s'", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}
