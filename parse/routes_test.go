package parse

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

func TestParseRoutes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		agency  map[string]bool
		routes  []model.Route
		err     bool
	}{
		{
			"minimal",
			`
route_id,route_short_name,route_type
60,60,3`,
			map[string]bool{},
			[]model.Route{{ID: "60", ShortName: "60", Type: model.RouteTypeBus, Color: "FFFFFF", TextColor: "000000"}},
			false,
		},
		{
			"full",
			`
route_id,agency_id,route_short_name,route_long_name,route_desc,route_type,route_url,route_color,route_text_color
r1,a,R1,Route One,desc,11,http://r1,00FF00,FFFFFF
r2,b,,Route Two,,12,,,`,
			map[string]bool{"a": true, "b": true},
			[]model.Route{
				{
					ID:        "r1",
					AgencyID:  "a",
					ShortName: "R1",
					LongName:  "Route One",
					Desc:      "desc",
					Type:      model.RouteTypeTrolleybus,
					URL:       "http://r1",
					Color:     "00FF00",
					TextColor: "FFFFFF",
				},
				{
					ID:        "r2",
					AgencyID:  "b",
					LongName:  "Route Two",
					Type:      model.RouteTypeMonorail,
					Color:     "FFFFFF",
					TextColor: "000000",
				},
			},
			false,
		},
		{"missing route_id", "route_id,route_short_name,route_type\n,R,3", map[string]bool{}, nil, true},
		{"repeated route_id", "route_id,route_short_name,route_type\nr,R,3\nr,R,3", map[string]bool{}, nil, true},
		{"missing names", "route_id,route_type\nr,3", map[string]bool{}, nil, true},
		{"missing route_type", "route_id,route_short_name\nr,R", map[string]bool{}, nil, true},
		{"non-integer route_type", "route_id,route_short_name,route_type\nr,R,bus", map[string]bool{}, nil, true},
		{"illegal route_type", "route_id,route_short_name,route_type\nr,R,9", map[string]bool{}, nil, true},
		{"unknown agency", "route_id,agency_id,route_short_name,route_type\nr,x,R,3", map[string]bool{"a": true}, nil, true},
		{
			"agency_id required with multiple agencies",
			"route_id,route_short_name,route_type\nr,R,3",
			map[string]bool{"a": true, "b": true},
			nil,
			true,
		},
		{"bad color", "route_id,route_short_name,route_type,route_color\nr,R,3,GREEN1", map[string]bool{}, nil, true},
		{"short text color", "route_id,route_short_name,route_type,route_text_color\nr,R,3,FFF", map[string]bool{}, nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var ids map[string]bool
			reader, err := parseInto(t, func(w storage.FeedWriter) (err error) {
				ids, err = ParseRoutes(w, csvBuf(tc.content), tc.agency)
				return err
			})
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			routes, err := reader.Routes()
			require.NoError(t, err)
			sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
			assert.Equal(t, tc.routes, routes)
			for _, r := range routes {
				assert.True(t, ids[r.ID])
			}
		})
	}
}
