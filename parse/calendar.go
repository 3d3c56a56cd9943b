package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

type CalendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

func (c *CalendarCSV) weekdayMask() (int8, error) {
	days := map[time.Weekday]int8{
		time.Monday:    c.Monday,
		time.Tuesday:   c.Tuesday,
		time.Wednesday: c.Wednesday,
		time.Thursday:  c.Thursday,
		time.Friday:    c.Friday,
		time.Saturday:  c.Saturday,
		time.Sunday:    c.Sunday,
	}

	var mask int8
	for day, value := range days {
		switch value {
		case 0:
		case 1:
			mask |= 1 << day
		default:
			return 0, fmt.Errorf("invalid %s value '%d'", day, value)
		}
	}
	return mask, nil
}

// Tracks the earliest and latest YYYYMMDD date seen.
type dateRange struct {
	min, max string
}

func (r *dateRange) add(date string) {
	if r.min == "" || date < r.min {
		r.min = date
	}
	if r.max == "" || date > r.max {
		r.max = date
	}
}

func validDate(date string) error {
	_, err := time.ParseInLocation("20060102", date, time.UTC)
	return err
}

// Returns set of all service IDs, min date and max date.
func ParseCalendar(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, string, error) {
	rows := []*CalendarCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, "", "", fmt.Errorf("unmarshaling csv: %w", err)
	}

	services := map[string]bool{}
	dates := dateRange{}

	for _, c := range rows {
		if c.ServiceID == "" {
			return nil, "", "", fmt.Errorf("empty service_id")
		}
		if services[c.ServiceID] {
			return nil, "", "", fmt.Errorf("repeated service_id '%s'", c.ServiceID)
		}
		services[c.ServiceID] = true

		mask, err := c.weekdayMask()
		if err != nil {
			return nil, "", "", fmt.Errorf("service_id '%s': %w", c.ServiceID, err)
		}

		if err := validDate(c.StartDate); err != nil {
			return nil, "", "", fmt.Errorf("parsing start_date: %w", err)
		}
		if err := validDate(c.EndDate); err != nil {
			return nil, "", "", fmt.Errorf("parsing end_date: %w", err)
		}
		dates.add(c.StartDate)
		dates.add(c.EndDate)

		err = writer.WriteCalendar(model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   mask,
		})
		if err != nil {
			return nil, "", "", fmt.Errorf("writing calendar: %w", err)
		}
	}

	return services, dates.min, dates.max, nil
}
