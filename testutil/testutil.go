package testutil

// Helpers and configuration for tests.

import (
	"archive/zip"
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt"
	"tidbyt.dev/fleetrt/parse"
	"tidbyt.dev/fleetrt/storage"
)

// Set to run storage backed tests against postgres.
const PostgresDSNEnv = "FLEETRT_POSTGRES_DSN"

// Backends available in this environment. Postgres is included only
// when PostgresDSNEnv is set.
func Backends() []string {
	backends := []string{"memory", "sqlite"}
	if os.Getenv(PostgresDSNEnv) != "" {
		backends = append(backends, "postgres")
	}
	return backends
}

func BuildStorage(t testing.TB, backend string) storage.Storage {
	var s storage.Storage
	var err error
	switch backend {
	case "memory":
		s = storage.NewMemoryStorage()
	case "sqlite":
		s, err = storage.NewSQLiteStorage()
		require.NoError(t, err)
	case "postgres":
		s, err = storage.NewPSQLStorage(os.Getenv(PostgresDSNEnv), true)
		require.NoError(t, err)
	}
	require.NotNil(t, s, "unknown backend %q", backend)

	return s
}

func LoadSchedule(t testing.TB, backend string, buf []byte) *fleetrt.Schedule {
	s := BuildStorage(t, backend)

	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	metadata, err := parse.ParseStatic(writer, buf)
	require.NoError(t, err)

	reader, err := s.GetReader("test")
	require.NoError(t, err)

	schedule, err := fleetrt.NewSchedule(reader, metadata)
	require.NoError(t, err)

	return schedule
}

// Builds a schedule from CSV contents, filling in any missing files
// with (mostly blank) dummy data.
func BuildSchedule(
	t testing.TB,
	backend string,
	files map[string][]string,
) *fleetrt.Schedule {
	defaults := map[string][]string{
		"agency.txt":     {"agency_timezone,agency_name,agency_url", "UTC,Metrovía,http://example.com"},
		"routes.txt":     {"route_id"},
		"trips.txt":      {"trip_id"},
		"stops.txt":      {"stop_id"},
		"stop_times.txt": {"stop_id"},
	}
	if files["calendar.txt"] == nil && files["calendar_dates.txt"] == nil {
		defaults["calendar.txt"] = []string{"service_id"}
	}

	merged := map[string][]string{}
	for name, content := range defaults {
		merged[name] = content
	}
	for name, content := range files {
		merged[name] = content
	}

	return LoadSchedule(t, backend, BuildZip(t, merged))
}

func BuildZip(
	t testing.TB,
	files map[string][]string,
) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// A small Guayaquil-area schedule: route 60 with two weekday trips
// and one Sunday trip, and a Sunday-only route 61.
func FixtureRoute60() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_timezone,agency_name,agency_url",
			"UTC,Metrovía,https://metrovia.ec",
		},
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"wd,20240101,20241231,1,1,1,1,1,0,0",
			"sun,20240101,20241231,0,0,0,0,0,0,1",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"60,60,3",
			"61,61,3",
		},
		"trips.txt": {
			"trip_id,route_id,service_id",
			"t0800,60,wd",
			"t0830,60,wd",
			"tsun,60,sun",
			"t61sun,61,sun",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"terminal,Terminal Río Daule,-2.1500,-79.8900",
			"centro,Centro,-2.1900,-79.8850",
			"sur,Terminal Sur,-2.2500,-79.8950",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t0800,08:00:00,08:00:00,terminal,1",
			"t0800,08:15:00,08:15:30,centro,2",
			"t0800,08:40:00,08:40:00,sur,3",
			"t0830,08:30:00,08:30:00,terminal,1",
			"t0830,08:45:00,08:45:30,centro,2",
			"t0830,09:10:00,09:10:00,sur,3",
			"tsun,10:00:00,10:00:00,terminal,1",
			"tsun,10:30:00,10:30:00,sur,2",
			"t61sun,11:00:00,11:00:00,sur,1",
			"t61sun,11:30:00,11:30:00,terminal,2",
		},
	}
}
