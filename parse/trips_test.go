package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

func TestParseTrips(t *testing.T) {
	routes := map[string]bool{"60": true, "61": true}
	services := map[string]bool{"wd": true, "we": true}

	for _, tc := range []struct {
		name    string
		content string
		trips   []model.Trip
		err     bool
	}{
		{
			"file order preserved",
			`
trip_id,route_id,service_id,trip_headsign,trip_short_name,direction_id
z,60,wd,Norte,Z,0
a,61,we,Sur,A,1
m,60,we,,,`,
			[]model.Trip{
				{ID: "z", RouteID: "60", ServiceID: "wd", Headsign: "Norte", ShortName: "Z"},
				{ID: "a", RouteID: "61", ServiceID: "we", Headsign: "Sur", ShortName: "A", DirectionID: 1},
				{ID: "m", RouteID: "60", ServiceID: "we"},
			},
			false,
		},
		{"empty trip_id", "trip_id,route_id,service_id\n,60,wd", nil, true},
		{"repeated trip_id", "trip_id,route_id,service_id\nt,60,wd\nt,61,we", nil, true},
		{"empty route_id", "trip_id,route_id,service_id\nt,,wd", nil, true},
		{"unknown route_id", "trip_id,route_id,service_id\nt,99,wd", nil, true},
		{"unknown service_id", "trip_id,route_id,service_id\nt,60,holiday", nil, true},
		{"invalid direction_id", "trip_id,route_id,service_id,direction_id\nt,60,wd,2", nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var ids map[string]bool
			reader, err := parseInto(t, func(w storage.FeedWriter) (err error) {
				ids, err = ParseTrips(w, csvBuf(tc.content), routes, services)
				return err
			})
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			trips, err := reader.Trips()
			require.NoError(t, err)
			assert.Equal(t, tc.trips, trips)
			for _, trip := range trips {
				assert.True(t, ids[trip.ID])
			}
		})
	}
}
