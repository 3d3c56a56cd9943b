package storage

import (
	"time"

	"tidbyt.dev/fleetrt/model"
)

type Storage interface {
	// Retrieves all feed metadata records matching the given
	// filter, most recently retrieved first.
	ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error)

	// Writes a FeedMetadata record. If a record with the same URL
	// and hash exists, it is updated.
	WriteFeedMetadata(metadata *FeedMetadata) error

	// Gets a reader for the feed with the given hash.
	GetReader(feed string) (FeedReader, error)

	// Gets a writer for the feed with the given hash. Any data
	// previously written under the hash is discarded.
	GetWriter(feed string) (FeedWriter, error)
}

type ListFeedsFilter struct {
	// If set, only include feeds with the given hash.
	Hash string
}

// Metadata for a downloaded static GTFS feed. The parsed data can be
// accessed via FeedReader.
type FeedMetadata struct {
	URL               string
	Hash              string
	RetrievedAt       time.Time
	Timezone          string
	CalendarStartDate string
	CalendarEndDate   string
	MaxArrival        string
	MaxDeparture      string
}

// Writes GTFS records for a single feed.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou. Same
// goes for trips.
type FeedWriter interface {
	WriteAgency(agency model.Agency) error
	WriteStop(stop model.Stop) error
	WriteRoute(route model.Route) error
	BeginTrips() error
	WriteTrip(trip model.Trip) error
	EndTrips() error
	WriteCalendar(cal model.Calendar) error
	WriteCalendarDate(caldate model.CalendarDate) error
	BeginStopTimes() error
	WriteStopTime(stopTime model.StopTime) error
	EndStopTimes() error
	Close() error
}

// Reads back what a Schedule indexes. Calendars are only consulted
// through ActiveServices.
type FeedReader interface {
	Stops() ([]model.Stop, error)

	// Trips in the order they were written.
	Trips() ([]model.Trip, error)

	StopTimes() ([]model.StopTime, error)

	// Services IDs for all services active on the given
	// date. Date is given as YYYYMMDD.
	ActiveServices(date string) ([]string, error)
}
