package fleetrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

func testTripMapperClosestDeparture(t *testing.T, backend string) {
	schedule := scheduleFromFiles(t, backend, route60Files())
	gye := schedule.Location()
	mapper := NewTripMapper(schedule)

	for _, tc := range []struct {
		name    string
		route   string
		when    time.Time
		tripID  string
		service string
	}{
		{"before first", "60", time.Date(2024, 1, 1, 6, 0, 0, 0, gye), "t0800", "20240101"},
		{"near first", "60", time.Date(2024, 1, 1, 8, 5, 0, 0, gye), "t0800", "20240101"},
		{"tie goes to first", "60", time.Date(2024, 1, 1, 8, 15, 0, 0, gye), "t0800", "20240101"},
		{"near second", "60", time.Date(2024, 1, 1, 8, 16, 0, 0, gye), "t0830", "20240101"},
		{"late evening", "60", time.Date(2024, 1, 1, 22, 0, 0, 0, gye), "t0830", "20240101"},
		{"sunday service", "60", time.Date(2024, 1, 7, 8, 5, 0, 0, gye), "tsun", "20240107"},
		{"added by exception", "60", time.Date(2024, 1, 2, 8, 5, 0, 0, gye), "tsun", "20240102"},
		{"sunday only route", "61", time.Date(2024, 1, 14, 11, 2, 0, 0, gye), "t61sun", "20240114"},

		// 13:05Z is 08:05 in Guayaquil
		{"utc input", "60", time.Date(2024, 1, 1, 13, 5, 0, 0, time.UTC), "t0800", "20240101"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			match, err := mapper.Map(tc.route, tc.when)
			require.NoError(t, err)
			require.NotNil(t, match)
			assert.Equal(t, tc.tripID, match.TripID)
			assert.Equal(t, tc.route, match.RouteID)
			assert.Equal(t, tc.service, match.ServiceDate.Format("20060102"))
			assert.Equal(t, gye, match.ServiceDate.Location())
		})
	}
}

func testTripMapperNoMatch(t *testing.T, backend string) {
	schedule := scheduleFromFiles(t, backend, route60Files())
	gye := schedule.Location()
	mapper := NewTripMapper(schedule)

	// Route 61 only runs on Sundays
	match, err := mapper.Map("61", time.Date(2024, 1, 9, 11, 0, 0, 0, gye))
	require.NoError(t, err)
	assert.Nil(t, match)

	// Unknown route
	match, err = mapper.Map("99", time.Date(2024, 1, 9, 11, 0, 0, 0, gye))
	require.NoError(t, err)
	assert.Nil(t, match)

	// Saturday, nothing runs
	match, err = mapper.Map("60", time.Date(2024, 1, 13, 8, 0, 0, 0, gye))
	require.NoError(t, err)
	assert.Nil(t, match)

	// Outside calendar range
	match, err = mapper.Map("60", time.Date(2025, 3, 3, 8, 0, 0, 0, gye))
	require.NoError(t, err)
	assert.Nil(t, match)

	// Failed matches aren't cached
	assert.Equal(t, 0, mapper.CacheSize())
}

func testTripMapperStops(t *testing.T, backend string) {
	schedule := scheduleFromFiles(t, backend, route60Files())
	gye := schedule.Location()
	mapper := NewTripMapper(schedule)

	match, err := mapper.Map("60", time.Date(2024, 1, 1, 8, 5, 0, 0, gye))
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.Equal(t, []model.ScheduledStop{
		{StopSequence: 1, StopID: "terminal", Lat: -2.15, Lon: -79.89, Arrival: "080000", Departure: "080000"},
		{StopSequence: 2, StopID: "centro", Lat: -2.19, Lon: -79.885, Arrival: "081500", Departure: "081530"},
		{StopSequence: 3, StopID: "sur", Lat: -2.25, Lon: -79.895, Arrival: "084000", Departure: "084000"},
	}, match.Stops)

	arrival, departure, err := match.ScheduledTimes(match.Stops[1])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 8, 15, 0, 0, gye), arrival)
	assert.Equal(t, time.Date(2024, 1, 1, 8, 15, 30, 0, gye), departure)

	for _, tc := range []struct {
		when    time.Time
		pending int
	}{
		{time.Date(2024, 1, 1, 7, 50, 0, 0, gye), 0},
		{time.Date(2024, 1, 1, 8, 0, 0, 0, gye), 0},
		{time.Date(2024, 1, 1, 8, 0, 1, 0, gye), 1},
		{time.Date(2024, 1, 1, 8, 15, 30, 0, gye), 1},
		{time.Date(2024, 1, 1, 8, 16, 0, 0, gye), 2},
		{time.Date(2024, 1, 1, 9, 30, 0, 0, gye), 2},
	} {
		pending, err := match.PendingIndex(tc.when)
		require.NoError(t, err)
		assert.Equal(t, tc.pending, pending, tc.when.String())
	}
}

func testTripMapperOvernight(t *testing.T, backend string) {
	files := route60Files()
	files["trips.txt"] = append(files["trips.txt"], "owl,60,wd")
	files["stop_times.txt"] = append(
		files["stop_times.txt"],
		"owl,24:50:00,24:50:00,terminal,1",
		"owl,25:20:00,25:20:00,sur,2",
	)
	schedule := scheduleFromFiles(t, backend, files)
	gye := schedule.Location()
	assert.Equal(t, 25*time.Hour+20*time.Minute, schedule.MaxDeparture())

	mapper := NewTripMapper(schedule)
	mapper.Overnight = true

	// Monday night's owl runs into Tuesday morning, and belongs
	// to Monday's service day.
	match, err := mapper.Map("60", time.Date(2024, 1, 9, 0, 55, 0, 0, gye))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "owl", match.TripID)
	assert.Equal(t, "20240108", match.ServiceDate.Format("20060102"))

	arrival, _, err := match.ScheduledTimes(match.Stops[1])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 9, 1, 20, 0, 0, gye), arrival)

	// By mid morning, the previous day is out of range
	match, err = mapper.Map("60", time.Date(2024, 1, 9, 8, 0, 0, 0, gye))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "t0800", match.TripID)
	assert.Equal(t, "20240109", match.ServiceDate.Format("20060102"))

	// Without overnight matching, only Tuesday's own trips count
	match, err = NewTripMapper(schedule).Map("60", time.Date(2024, 1, 9, 0, 55, 0, 0, gye))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "t0800", match.TripID)
	assert.Equal(t, "20240109", match.ServiceDate.Format("20060102"))
}

func TestTripMapper(t *testing.T) {
	for _, backend := range testBackends() {
		t.Run(backend, func(t *testing.T) {
			t.Run("ClosestDeparture", func(t *testing.T) { testTripMapperClosestDeparture(t, backend) })
			t.Run("NoMatch", func(t *testing.T) { testTripMapperNoMatch(t, backend) })
			t.Run("Stops", func(t *testing.T) { testTripMapperStops(t, backend) })
			t.Run("Overnight", func(t *testing.T) { testTripMapperOvernight(t, backend) })
		})
	}
}

func TestTripMapperCache(t *testing.T) {
	schedule := scheduleFromFiles(t, "memory", route60Files())
	gye := schedule.Location()

	now := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	mapper := NewTripMapper(schedule)
	mapper.TimeNow = func() time.Time { return now }

	first, err := mapper.Map("60", time.Date(2024, 1, 1, 8, 5, 10, 0, gye))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, mapper.CacheSize())

	// Same minute, same match
	second, err := mapper.Map("60", time.Date(2024, 1, 1, 8, 5, 50, 0, gye))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, mapper.CacheSize())

	// Next minute is a separate entry
	third, err := mapper.Map("60", time.Date(2024, 1, 1, 8, 6, 0, 0, gye))
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.TripID, third.TripID)
	assert.Equal(t, 2, mapper.CacheSize())

	// Still fresh just before TTL
	now = now.Add(DefaultTripCacheTTL - time.Second)
	again, err := mapper.Map("60", time.Date(2024, 1, 1, 8, 5, 30, 0, gye))
	require.NoError(t, err)
	assert.Same(t, first, again)

	// Expired entries are evicted on the next store
	now = now.Add(2 * time.Second)
	fresh, err := mapper.Map("60", time.Date(2024, 1, 1, 8, 5, 30, 0, gye))
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, "t0800", fresh.TripID)
	assert.Equal(t, 1, mapper.CacheSize())
}

func TestTripMapperCacheKeyedByRouteAndDate(t *testing.T) {
	schedule := scheduleFromFiles(t, "memory", route60Files())
	gye := schedule.Location()
	mapper := NewTripMapper(schedule)

	monday, err := mapper.Map("60", time.Date(2024, 1, 1, 8, 5, 0, 0, gye))
	require.NoError(t, err)
	sunday, err := mapper.Map("60", time.Date(2024, 1, 7, 8, 5, 0, 0, gye))
	require.NoError(t, err)
	otherRoute, err := mapper.Map("61", time.Date(2024, 1, 7, 8, 5, 0, 0, gye))
	require.NoError(t, err)

	assert.Equal(t, "t0800", monday.TripID)
	assert.Equal(t, "tsun", sunday.TripID)
	assert.Equal(t, "t61sun", otherRoute.TripID)
	assert.Equal(t, 3, mapper.CacheSize())
}

func TestTripMapperNoSchedule(t *testing.T) {
	mapper := NewTripMapper(nil)
	_, err := mapper.Map("60", time.Now())
	assert.ErrorIs(t, err, ErrNoSchedule)
}

// Writes records straight to storage, bypassing parser validation.
func rawSchedule(t *testing.T, stops []model.Stop, stopTimes []model.StopTime) *Schedule {
	s := storage.NewMemoryStorage()
	w, err := s.GetWriter("raw")
	require.NoError(t, err)

	require.NoError(t, w.WriteCalendar(model.Calendar{
		ServiceID: "all",
		StartDate: "20240101",
		EndDate:   "20241231",
		Weekday:   0x7f,
	}))
	for _, stop := range stops {
		require.NoError(t, w.WriteStop(stop))
	}
	require.NoError(t, w.BeginTrips())
	require.NoError(t, w.WriteTrip(model.Trip{ID: "t", RouteID: "r", ServiceID: "all"}))
	require.NoError(t, w.EndTrips())
	require.NoError(t, w.BeginStopTimes())
	for _, st := range stopTimes {
		require.NoError(t, w.WriteStopTime(st))
	}
	require.NoError(t, w.EndStopTimes())
	require.NoError(t, w.Close())

	reader, err := s.GetReader("raw")
	require.NoError(t, err)
	schedule, err := NewSchedule(reader, &storage.FeedMetadata{Timezone: "UTC"})
	require.NoError(t, err)
	return schedule
}

func TestTripMapperBadData(t *testing.T) {
	when := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	schedule := rawSchedule(t,
		[]model.Stop{{ID: "s"}},
		[]model.StopTime{{TripID: "t", StopID: "s", StopSequence: 1, Arrival: "8am", Departure: "8am"}},
	)
	_, err := NewTripMapper(schedule).Map("r", when)
	assert.Error(t, err)

	schedule = rawSchedule(t,
		[]model.Stop{{ID: "s"}},
		[]model.StopTime{{TripID: "t", StopID: "ghost", StopSequence: 1, Arrival: "080000", Departure: "080000"}},
	)
	_, err = NewTripMapper(schedule).Map("r", when)
	assert.Error(t, err)
}
