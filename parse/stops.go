package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

type StopCSV struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Desc          string  `csv:"stop_desc"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	URL           string  `csv:"stop_url"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
	PlatformCode  string  `csv:"platform_code"`
}

// Generic nodes and boarding areas may omit name and coordinates.
func requiresPlacement(t model.LocationType) bool {
	return t != model.LocationTypeGenericNode && t != model.LocationTypeBoardingArea
}

func ParseStops(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	rows := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	ids := map[string]bool{}
	parents := map[string]string{}
	for _, st := range rows {
		if st.ID == "" {
			return nil, fmt.Errorf("empty stop_id")
		}
		if ids[st.ID] {
			return nil, fmt.Errorf("repeated stop_id '%s'", st.ID)
		}
		ids[st.ID] = true

		locationType := model.LocationType(st.LocationType)
		if requiresPlacement(locationType) {
			if st.Name == "" {
				return nil, fmt.Errorf("empty stop_name for stop_id '%s'", st.ID)
			}
			if st.Lat == 0 || st.Lon == 0 {
				return nil, fmt.Errorf("empty stop_lat or stop_lon for stop_id '%s'", st.ID)
			}
		}
		if st.Lat < -90 || st.Lat > 90 || st.Lon < -180 || st.Lon > 180 {
			return nil, fmt.Errorf("stop_id '%s' has out of range coordinates", st.ID)
		}

		if st.ParentStation != "" {
			parents[st.ID] = st.ParentStation
		}

		err := writer.WriteStop(model.Stop{
			ID:            st.ID,
			Code:          st.Code,
			Name:          st.Name,
			Desc:          st.Desc,
			Lat:           st.Lat,
			Lon:           st.Lon,
			URL:           st.URL,
			LocationType:  locationType,
			ParentStation: st.ParentStation,
			PlatformCode:  st.PlatformCode,
		})
		if err != nil {
			return nil, fmt.Errorf("writing stop '%s': %w", st.ID, err)
		}
	}

	for stopID, parentID := range parents {
		if !ids[parentID] {
			return nil, fmt.Errorf("stop '%s' references unknown parent_station '%s'", stopID, parentID)
		}
	}

	return ids, nil
}
