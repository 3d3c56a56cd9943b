package parse

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Desc      string `csv:"route_desc"`
	Type      string `csv:"route_type"`
	URL       string `csv:"route_url"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
}

func legalRouteType(t model.RouteType) bool {
	return (t >= model.RouteTypeTram && t <= model.RouteTypeFunicular) ||
		t == model.RouteTypeTrolleybus ||
		t == model.RouteTypeMonorail
}

// Returns color, or def if color is empty.
func routeColor(color, def string) (string, error) {
	if color == "" {
		return def, nil
	}
	if len(color) != 6 {
		return "", fmt.Errorf("invalid color '%s'", color)
	}
	if _, err := hex.DecodeString(color); err != nil {
		return "", fmt.Errorf("invalid color '%s'", color)
	}
	return color, nil
}

func ParseRoutes(writer storage.FeedWriter, data io.Reader, agency map[string]bool) (map[string]bool, error) {
	rows := []*RouteCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling routes: %w", err)
	}

	routes := map[string]bool{}
	for _, r := range rows {
		if r.ID == "" {
			return nil, fmt.Errorf("route has no route_id")
		}
		if routes[r.ID] {
			return nil, fmt.Errorf("repeated route_id: '%s'", r.ID)
		}
		routes[r.ID] = true

		if len(agency) > 1 && r.AgencyID == "" {
			return nil, fmt.Errorf("route_id '%s' has no agency_id", r.ID)
		}
		if r.AgencyID != "" && !agency[r.AgencyID] {
			return nil, fmt.Errorf("unknown agency_id: '%s'", r.AgencyID)
		}

		if r.ShortName == "" && r.LongName == "" {
			return nil, fmt.Errorf("route_id '%s' has no short_name or long_name", r.ID)
		}

		if r.Type == "" {
			return nil, fmt.Errorf("route_id '%s' has no route_type", r.ID)
		}
		n, err := strconv.Atoi(r.Type)
		if err != nil {
			return nil, fmt.Errorf("route_id '%s' has invalid route_type: %w", r.ID, err)
		}
		routeType := model.RouteType(n)
		if !legalRouteType(routeType) {
			return nil, fmt.Errorf("route_id '%s' has invalid route_type: %d", r.ID, n)
		}

		color, err := routeColor(r.Color, "FFFFFF")
		if err != nil {
			return nil, fmt.Errorf("route_id '%s' route_color: %w", r.ID, err)
		}
		textColor, err := routeColor(r.TextColor, "000000")
		if err != nil {
			return nil, fmt.Errorf("route_id '%s' route_text_color: %w", r.ID, err)
		}

		err = writer.WriteRoute(model.Route{
			ID:        r.ID,
			AgencyID:  r.AgencyID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Desc:      r.Desc,
			Type:      routeType,
			URL:       r.URL,
			Color:     color,
			TextColor: textColor,
		})
		if err != nil {
			return nil, fmt.Errorf("writing route: %w", err)
		}
	}

	return routes, nil
}
