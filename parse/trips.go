package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID int8   `csv:"direction_id"`
}

// Writes trips in file order. Trip matching breaks ties on this
// order, so it must be preserved.
func ParseTrips(
	writer storage.FeedWriter,
	data io.Reader,
	routes map[string]bool,
	services map[string]bool,
) (map[string]bool, error) {
	trips := map[string]bool{}

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(t *TripCSV) error {
		row++
		switch {
		case t.ID == "":
			return fmt.Errorf("empty trip_id (row %d)", row)
		case trips[t.ID]:
			return fmt.Errorf("repeated trip_id '%s'", t.ID)
		case t.RouteID == "":
			return fmt.Errorf("empty route_id (row %d)", row)
		case !routes[t.RouteID]:
			return fmt.Errorf("unknown route_id '%s'", t.RouteID)
		case !services[t.ServiceID]:
			return fmt.Errorf("unknown service_id '%s'", t.ServiceID)
		case t.DirectionID != 0 && t.DirectionID != 1:
			return fmt.Errorf("invalid direction_id '%d'", t.DirectionID)
		}
		trips[t.ID] = true

		err := writer.WriteTrip(model.Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			ShortName:   t.ShortName,
			DirectionID: t.DirectionID,
		})
		if err != nil {
			return fmt.Errorf("writing trip: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshaling trips csv: %w", err)
	}

	return trips, nil
}
