package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
	"github.com/spkg/bom"

	"tidbyt.dev/fleetrt/storage"
)

var requiredFiles = []string{
	"agency.txt",
	"routes.txt",
	"stops.txt",
	"trips.txt",
	"stop_times.txt",
}

func init() {
	// LazyCSVReader survives sloppy use of quotes. The BOM reader
	// strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Opens the GTFS files of interest in a zip archive. Files in
// subdirectories are accepted, since some agencies nest them.
func openArchive(buf []byte) (map[string]io.ReadCloser, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	wanted := map[string]bool{"calendar.txt": true, "calendar_dates.txt": true}
	for _, name := range requiredFiles {
		wanted[name] = true
	}

	files := map[string]io.ReadCloser{}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		if !wanted[name] {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		files[name] = rc
	}

	return files, nil
}

func closeAll(files map[string]io.ReadCloser) {
	for _, rc := range files {
		rc.Close()
	}
}

// Parses a static GTFS zip into writer. Returns partial metadata
// (timezone, calendar range, max arrival/departure); URL, hash and
// retrieval time are left to the caller.
func ParseStatic(writer storage.FeedWriter, buf []byte) (*storage.FeedMetadata, error) {
	files, err := openArchive(buf)
	if err != nil {
		return nil, err
	}
	defer closeAll(files)

	if files["calendar.txt"] == nil && files["calendar_dates.txt"] == nil {
		return nil, fmt.Errorf("missing calendar.txt and calendar_dates.txt")
	}
	for _, name := range requiredFiles {
		if files[name] == nil {
			return nil, fmt.Errorf("missing %s", name)
		}
	}

	agency, timezone, err := ParseAgency(writer, files["agency.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing agency.txt: %w", err)
	}

	routes, err := ParseRoutes(writer, files["routes.txt"], agency)
	if err != nil {
		return nil, fmt.Errorf("parsing routes.txt: %w", err)
	}

	services := map[string]bool{}
	dates := dateRange{}
	if files["calendar.txt"] != nil {
		calServices, minDate, maxDate, err := ParseCalendar(writer, files["calendar.txt"])
		if err != nil {
			return nil, fmt.Errorf("parsing calendar.txt: %w", err)
		}
		for id := range calServices {
			services[id] = true
		}
		if minDate != "" {
			dates.add(minDate)
			dates.add(maxDate)
		}
	}
	if files["calendar_dates.txt"] != nil {
		cdServices, minDate, maxDate, err := ParseCalendarDates(writer, files["calendar_dates.txt"])
		if err != nil {
			return nil, fmt.Errorf("parsing calendar_dates.txt: %w", err)
		}
		for id := range cdServices {
			services[id] = true
		}
		if minDate != "" {
			dates.add(minDate)
			dates.add(maxDate)
		}
	}

	if err := writer.BeginTrips(); err != nil {
		return nil, fmt.Errorf("beginning trips: %w", err)
	}
	trips, err := ParseTrips(writer, files["trips.txt"], routes, services)
	if err != nil {
		return nil, fmt.Errorf("parsing trips.txt: %w", err)
	}
	if err := writer.EndTrips(); err != nil {
		return nil, fmt.Errorf("ending trips: %w", err)
	}

	stops, err := ParseStops(writer, files["stops.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing stops.txt: %w", err)
	}

	if err := writer.BeginStopTimes(); err != nil {
		return nil, fmt.Errorf("beginning stop_times: %w", err)
	}
	maxArrival, maxDeparture, err := ParseStopTimes(writer, files["stop_times.txt"], trips, stops)
	if err != nil {
		return nil, fmt.Errorf("parsing stop_times.txt: %w", err)
	}
	if err := writer.EndStopTimes(); err != nil {
		return nil, fmt.Errorf("ending stop_times: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing feed writer: %w", err)
	}

	log.Debug().
		Int("routes", len(routes)).
		Int("trips", len(trips)).
		Int("stops", len(stops)).
		Int("services", len(services)).
		Str("timezone", timezone).
		Msg("Parsed static schedule")

	return &storage.FeedMetadata{
		CalendarStartDate: dates.min,
		CalendarEndDate:   dates.max,
		Timezone:          timezone,
		MaxArrival:        maxArrival,
		MaxDeparture:      maxDeparture,
	}, nil
}
