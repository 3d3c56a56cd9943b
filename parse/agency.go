package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

type AgencyCSV struct {
	ID       string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
}

// Writes all agencies and returns the set of agency IDs along with
// the feed timezone.
func ParseAgency(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, error) {
	rows := []*AgencyCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, "", fmt.Errorf("unmarshaling agency csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, "", fmt.Errorf("no agency record found")
	}

	// All agencies in a feed share a single agency_timezone.
	tz := rows[0].Timezone
	for _, a := range rows[1:] {
		if a.Timezone != tz {
			return nil, "", fmt.Errorf("multiple agency_timezone")
		}
	}
	if tz == "" {
		return nil, "", fmt.Errorf("missing agency_timezone")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, "", fmt.Errorf("agency_timezone '%s' is invalid: %w", tz, err)
	}

	ids := map[string]bool{}
	for _, a := range rows {
		switch {
		case ids[a.ID]:
			return nil, "", fmt.Errorf("duplicated agency_id: '%s'", a.ID)
		case a.Name == "":
			return nil, "", fmt.Errorf("missing agency_name")
		case a.URL == "":
			return nil, "", fmt.Errorf("missing agency_url")
		}
		ids[a.ID] = true

		err := writer.WriteAgency(model.Agency{
			ID:       a.ID,
			Name:     a.Name,
			URL:      a.URL,
			Timezone: tz,
		})
		if err != nil {
			return nil, "", fmt.Errorf("writing agency '%s': %w", a.ID, err)
		}
	}

	return ids, tz, nil
}
