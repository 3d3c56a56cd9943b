package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

type CalendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

// Returns set of all service IDs, min date and max date.
func ParseCalendarDates(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, string, error) {
	rows := []*CalendarDateCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, "", "", fmt.Errorf("unmarshaling calendar_dates csv: %w", err)
	}

	type serviceDate struct{ service, date string }

	services := map[string]bool{}
	seen := map[serviceDate]bool{}
	dates := dateRange{}

	for _, cd := range rows {
		exception := model.ExceptionType(cd.ExceptionType)
		if exception != model.ExceptionTypeAdded && exception != model.ExceptionTypeRemoved {
			return nil, "", "", fmt.Errorf("illegal exception_type: '%d'", cd.ExceptionType)
		}

		if err := validDate(cd.Date); err != nil {
			return nil, "", "", fmt.Errorf("parsing date '%s': %w", cd.Date, err)
		}

		key := serviceDate{cd.ServiceID, cd.Date}
		if seen[key] {
			return nil, "", "", fmt.Errorf("duplicate service/date: '%s-%s'", cd.Date, cd.ServiceID)
		}
		seen[key] = true
		services[cd.ServiceID] = true
		dates.add(cd.Date)

		err := writer.WriteCalendarDate(model.CalendarDate{
			ServiceID:     cd.ServiceID,
			Date:          cd.Date,
			ExceptionType: exception,
		})
		if err != nil {
			return nil, "", "", fmt.Errorf("writing calendar_date: %w", err)
		}
	}

	return services, dates.min, dates.max, nil
}
