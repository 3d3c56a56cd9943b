package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/fleetrt/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	mutex  sync.Mutex
	feedDB *sql.DB
	feeds  map[string]*sql.DB
}

type SQLiteFeedWriter struct {
	db                  *sql.DB
	tripInsertTx        *sql.Tx
	tripInsertQuery     *sql.Stmt
	stopTimeInsertTx    *sql.Tx
	stopTimeInsertQuery *sql.Stmt
}

type SQLiteFeedReader struct {
	db *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	config := SQLiteConfig{}
	if len(cfg) > 0 {
		config = cfg[0]
	}

	sourceName := ":memory:"
	if config.OnDisk {
		sourceName = filepath.Join(config.Directory, "fleetrt.db")
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each :memory: connection is a separate database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS feed (
    hash TEXT NOT NULL,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMP NOT NULL,
    calendar_start TEXT NOT NULL,
    calendar_end TEXT NOT NULL,
    timezone TEXT NOT NULL,
    max_arrival TEXT NOT NULL,
    max_departure TEXT NOT NULL,
PRIMARY KEY (hash, url)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feed table: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: config,
		feedDB:       db,
		feeds:        map[string]*sql.DB{},
	}, nil
}

func (s *SQLiteStorage) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, db := range s.feeds {
		db.Close()
	}
	return s.feedDB.Close()
}

func (s *SQLiteStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	query := `
SELECT
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    timezone,
    max_arrival,
    max_departure
FROM feed`

	params := []interface{}{}
	if filter.Hash != "" {
		query += " WHERE hash = ?"
		params = append(params, filter.Hash)
	}
	query += " ORDER BY retrieved_at DESC"

	rows, err := s.feedDB.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer rows.Close()

	feeds := []*FeedMetadata{}
	for rows.Next() {
		var feed FeedMetadata
		err := rows.Scan(
			&feed.Hash,
			&feed.URL,
			&feed.RetrievedAt,
			&feed.CalendarStartDate,
			&feed.CalendarEndDate,
			&feed.Timezone,
			&feed.MaxArrival,
			&feed.MaxDeparture,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, &feed)
	}

	return feeds, rows.Err()
}

func (s *SQLiteStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	_, err := s.feedDB.Exec(`
INSERT INTO feed (
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    timezone,
    max_arrival,
    max_departure
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = excluded.retrieved_at,
    calendar_start = excluded.calendar_start,
    calendar_end = excluded.calendar_end,
    timezone = excluded.timezone,
    max_arrival = excluded.max_arrival,
    max_departure = excluded.max_departure
`,
		feed.Hash,
		feed.URL,
		feed.RetrievedAt,
		feed.CalendarStartDate,
		feed.CalendarEndDate,
		feed.Timezone,
		feed.MaxArrival,
		feed.MaxDeparture,
	)
	if err != nil {
		return fmt.Errorf("writing feed metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) feedPath(feed string) string {
	return filepath.Join(s.Directory, feed+".db")
}

func (s *SQLiteStorage) GetReader(feed string) (FeedReader, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if db, found := s.feeds[feed]; found {
		return &SQLiteFeedReader{db: db}, nil
	}
	if !s.OnDisk {
		return nil, fmt.Errorf("feed %s does not exist", feed)
	}

	sourceName := s.feedPath(feed)
	if _, err := os.Stat(sourceName); os.IsNotExist(err) {
		return nil, fmt.Errorf("feed %s does not exist at %s", feed, sourceName)
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.feeds[feed] = db

	return &SQLiteFeedReader{db: db}, nil
}

func (s *SQLiteStorage) GetWriter(feed string) (FeedWriter, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if db, found := s.feeds[feed]; found {
		db.Close()
		delete(s.feeds, feed)
	}

	sourceName := ":memory:"
	if s.OnDisk {
		sourceName = s.feedPath(feed)
		if _, err := os.Stat(sourceName); err == nil {
			if err := os.Remove(sourceName); err != nil {
				return nil, fmt.Errorf("removing existing database: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for name, query := range map[string]string{
		"agency": `
CREATE TABLE agency (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    timezone TEXT NOT NULL
);`,
		"stops": `
CREATE TABLE stops (
    id TEXT PRIMARY KEY,
    code TEXT,
    name TEXT NOT NULL,
    desc TEXT,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    url TEXT,
    location_type INTEGER NOT NULL,
    parent_station TEXT,
    platform_code TEXT
);`,
		"routes": `
CREATE TABLE routes (
    id TEXT PRIMARY KEY,
    agency_id TEXT,
    short_name TEXT,
    long_name TEXT NOT NULL,
    desc TEXT,
    type INTEGER NOT NULL,
    url TEXT,
    color TEXT,
    text_color TEXT
);`,
		"trips": `
CREATE TABLE trips (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    short_name TEXT,
    direction_id INTEGER
);
CREATE INDEX trips_route_id ON trips (route_id);
`,
		"stop_times": `
CREATE TABLE stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    headsign TEXT
);
CREATE INDEX stop_times_trip_id ON stop_times (trip_id);
`,
		"calendar": `
CREATE TABLE calendar (
    service_id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    monday integer NOT NULL,
    tuesday integer NOT NULL,
    wednesday integer NOT NULL,
    thursday integer NOT NULL,
    friday integer NOT NULL,
    saturday integer NOT NULL,
    sunday integer NOT NULL
);`,
		"calendar_dates": `
CREATE TABLE calendar_dates (
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL
);`,
	} {
		_, err = db.Exec(query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", name, err)
		}
	}

	s.feeds[feed] = db

	return &SQLiteFeedWriter{db: db}, nil
}

func (f *SQLiteFeedWriter) WriteAgency(a model.Agency) error {
	_, err := f.db.Exec(`
INSERT INTO agency (id, name, url, timezone)
VALUES (?, ?, ?, ?)`,
		a.ID,
		a.Name,
		a.URL,
		a.Timezone,
	)
	if err != nil {
		return fmt.Errorf("inserting agency: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) WriteStop(stop model.Stop) error {
	_, err := f.db.Exec(`
INSERT INTO stops (id, code, name, desc, lat, lon, url, location_type, parent_station, platform_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stop.ID,
		stop.Code,
		stop.Name,
		stop.Desc,
		stop.Lat,
		stop.Lon,
		stop.URL,
		stop.LocationType,
		stop.ParentStation,
		stop.PlatformCode,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) WriteRoute(route model.Route) error {
	_, err := f.db.Exec(`
INSERT INTO routes (id, agency_id, short_name, long_name, desc, type, url, color, text_color)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		route.ID,
		route.AgencyID,
		route.ShortName,
		route.LongName,
		route.Desc,
		route.Type,
		route.URL,
		route.Color,
		route.TextColor,
	)
	if err != nil {
		return fmt.Errorf("inserting route: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) BeginTrips() error {
	var err error
	f.tripInsertTx, err = f.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning trip insert transaction: %w", err)
	}

	f.tripInsertQuery, err = f.tripInsertTx.Prepare(`
INSERT INTO trips (id, route_id, service_id, headsign, short_name, direction_id)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		f.tripInsertTx.Rollback()
		f.tripInsertTx = nil
		return fmt.Errorf("preparing trip insert: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) WriteTrip(trip model.Trip) error {
	if f.tripInsertQuery == nil {
		return fmt.Errorf("WriteTrip called outside BeginTrips/EndTrips")
	}

	_, err := f.tripInsertQuery.Exec(
		trip.ID,
		trip.RouteID,
		trip.ServiceID,
		trip.Headsign,
		trip.ShortName,
		trip.DirectionID,
	)
	if err != nil {
		f.tripInsertQuery.Close()
		f.tripInsertTx.Rollback()
		f.tripInsertTx = nil
		f.tripInsertQuery = nil
		return fmt.Errorf("inserting trip: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) EndTrips() error {
	if f.tripInsertTx == nil {
		return nil
	}
	f.tripInsertQuery.Close()
	err := f.tripInsertTx.Commit()
	f.tripInsertTx = nil
	f.tripInsertQuery = nil
	if err != nil {
		return fmt.Errorf("committing trip insert transaction: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) BeginStopTimes() error {
	// transaction with prepared statement.
	var err error
	f.stopTimeInsertTx, err = f.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stop_time insert transaction: %w", err)
	}

	f.stopTimeInsertQuery, err = f.stopTimeInsertTx.Prepare(`
INSERT INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time, headsign)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) WriteStopTime(stopTime model.StopTime) error {
	if f.stopTimeInsertQuery == nil {
		return fmt.Errorf("WriteStopTime called outside BeginStopTimes/EndStopTimes")
	}

	_, err := f.stopTimeInsertQuery.Exec(
		stopTime.TripID,
		stopTime.StopID,
		stopTime.StopSequence,
		stopTime.Arrival,
		stopTime.Departure,
		stopTime.Headsign,
	)
	if err != nil {
		f.stopTimeInsertQuery.Close()
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		f.stopTimeInsertQuery = nil
		return fmt.Errorf("inserting stop_time: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) EndStopTimes() error {
	if f.stopTimeInsertTx == nil {
		return nil
	}
	f.stopTimeInsertQuery.Close()
	err := f.stopTimeInsertTx.Commit()
	f.stopTimeInsertTx = nil
	f.stopTimeInsertQuery = nil
	if err != nil {
		return fmt.Errorf("committing stop_time insert transaction: %w", err)
	}
	return nil
}

func weekdayColumns(weekday int8) [7]int {
	cols := [7]int{}
	for i, day := range []time.Weekday{
		time.Monday,
		time.Tuesday,
		time.Wednesday,
		time.Thursday,
		time.Friday,
		time.Saturday,
		time.Sunday,
	} {
		if weekday&(1<<day) != 0 {
			cols[i] = 1
		}
	}
	return cols
}

func (f *SQLiteFeedWriter) WriteCalendar(cal model.Calendar) error {
	d := weekdayColumns(cal.Weekday)
	_, err := f.db.Exec(`
INSERT INTO calendar (service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.ServiceID,
		cal.StartDate,
		cal.EndDate,
		d[0], d[1], d[2], d[3], d[4], d[5], d[6],
	)
	if err != nil {
		return fmt.Errorf("inserting calendar: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) WriteCalendarDate(cd model.CalendarDate) error {
	_, err := f.db.Exec(`
INSERT INTO calendar_dates (service_id, date, exception_type)
VALUES (?, ?, ?)`,
		cd.ServiceID,
		cd.Date,
		cd.ExceptionType,
	)
	if err != nil {
		return fmt.Errorf("inserting calendar date: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) Close() error {
	_, err := f.db.Exec(`ANALYZE;`)
	if err != nil {
		return fmt.Errorf("analyzing database: %w", err)
	}

	return nil
}

func weekdayColumn(day time.Weekday) string {
	return strings.ToLower(day.String())
}

func (f *SQLiteFeedReader) ActiveServices(date string) ([]string, error) {
	parsedDate, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %s", date)
	}

	rows, err := f.db.Query(`
WITH
Exceptions AS (
	SELECT service_id, exception_type
	FROM calendar_dates
	WHERE date = ?
),
Regular AS (
	SELECT service_id
	FROM calendar
	WHERE `+weekdayColumn(parsedDate.Weekday())+` = 1 AND
	      start_date <= ? AND
	      end_date >= ?
)
SELECT service_id
FROM Regular
WHERE service_id NOT IN (
	SELECT service_id FROM Exceptions WHERE exception_type = 2
)
UNION
SELECT service_id
FROM Exceptions
WHERE exception_type = 1
ORDER BY service_id
`, date, date, date)
	if err != nil {
		return nil, fmt.Errorf("querying for active services: %w", err)
	}
	defer rows.Close()

	activeServices := []string{}
	for rows.Next() {
		var serviceID string
		err = rows.Scan(&serviceID)
		if err != nil {
			return nil, fmt.Errorf("scanning active services: %w", err)
		}
		activeServices = append(activeServices, serviceID)
	}

	return activeServices, rows.Err()
}

func (f *SQLiteFeedReader) Stops() ([]model.Stop, error) {
	rows, err := f.db.Query(`
SELECT id, code, name, desc, lat, lon, url, location_type, parent_station, platform_code
FROM stops`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []model.Stop{}
	for rows.Next() {
		s := model.Stop{}
		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.Desc,
			&s.Lat,
			&s.Lon,
			&s.URL,
			&s.LocationType,
			&s.ParentStation,
			&s.PlatformCode,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}

	return stops, rows.Err()
}

func (f *SQLiteFeedReader) Trips() ([]model.Trip, error) {
	rows, err := f.db.Query(`
SELECT id, route_id, service_id, headsign, short_name, direction_id
FROM trips
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	trips := []model.Trip{}
	for rows.Next() {
		t := model.Trip{}
		err := rows.Scan(
			&t.ID,
			&t.RouteID,
			&t.ServiceID,
			&t.Headsign,
			&t.ShortName,
			&t.DirectionID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		trips = append(trips, t)
	}

	return trips, rows.Err()
}

func (f *SQLiteFeedReader) StopTimes() ([]model.StopTime, error) {
	rows, err := f.db.Query(`
SELECT trip_id, stop_id, headsign, stop_sequence, arrival_time, departure_time
FROM stop_times
ORDER BY trip_id, stop_sequence`)
	if err != nil {
		return nil, fmt.Errorf("querying stop times: %w", err)
	}
	defer rows.Close()

	stopTimes := []model.StopTime{}
	for rows.Next() {
		st := model.StopTime{}
		err := rows.Scan(
			&st.TripID,
			&st.StopID,
			&st.Headsign,
			&st.StopSequence,
			&st.Arrival,
			&st.Departure,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop time: %w", err)
		}
		stopTimes = append(stopTimes, st)
	}

	return stopTimes, rows.Err()
}
