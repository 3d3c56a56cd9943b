package parse

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

func TestParseStops(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		stops   []model.Stop
		err     bool
	}{
		{
			"minimal_stop",
			`
stop_id,stop_name,stop_lat,stop_lon
s,name,1.1,2.2`,
			[]model.Stop{{ID: "s", Name: "name", Lat: 1.1, Lon: 2.2}},
			false,
		},
		{
			"station with child",
			`
location_type,stop_id,stop_code,stop_name,stop_desc,stop_lat,stop_lon,stop_url,parent_station,platform_code
0,s,code_s,Stop,desc_s,1.1,2.2,url_s,ps,platform
1,ps,code_ps,Station,desc_ps,3.3,4.4,url_ps,,`,
			[]model.Stop{
				{
					ID:           "ps",
					Code:         "code_ps",
					Name:         "Station",
					Desc:         "desc_ps",
					Lat:          3.3,
					Lon:          4.4,
					URL:          "url_ps",
					LocationType: model.LocationTypeStation,
				},
				{
					ID:            "s",
					Code:          "code_s",
					Name:          "Stop",
					Desc:          "desc_s",
					Lat:           1.1,
					Lon:           2.2,
					URL:           "url_s",
					ParentStation: "ps",
					PlatformCode:  "platform",
					LocationType:  model.LocationTypeStop,
				},
			},
			false,
		},
		{
			"generic node without placement",
			`
stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station
n,,,,3,ps
ps,Station,1.1,2.2,1,`,
			[]model.Stop{
				{ID: "n", LocationType: model.LocationTypeGenericNode, ParentStation: "ps"},
				{ID: "ps", Name: "Station", Lat: 1.1, Lon: 2.2, LocationType: model.LocationTypeStation},
			},
			false,
		},
		{
			"boarding area without name",
			`
stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station
ba,,,,4,ps
ps,Station,1.1,2.2,1,`,
			[]model.Stop{
				{ID: "ba", LocationType: model.LocationTypeBoardingArea, ParentStation: "ps"},
				{ID: "ps", Name: "Station", Lat: 1.1, Lon: 2.2, LocationType: model.LocationTypeStation},
			},
			false,
		},
		{"blank stop_id", "stop_id,stop_name,stop_lat,stop_lon\n,name,1.1,2.2", nil, true},
		{"repeated stop_id", "stop_id,stop_name,stop_lat,stop_lon\ns,a,1.1,2.2\ns,b,1.2,2.3", nil, true},
		{"invalid stop_lat", "stop_id,stop_name,stop_lat,stop_lon\ns,name,1.1x,2.2", nil, true},
		{"out of range stop_lat", "stop_id,stop_name,stop_lat,stop_lon\ns,name,91,2.2", nil, true},
		{"invalid location_type", "stop_id,stop_name,stop_lat,stop_lon,location_type\ns,name,1.1,2.2,donkey", nil, true},
		{"missing parent_station", "stop_id,stop_name,stop_lat,stop_lon,parent_station\ns,name,1.1,2.2,ps", nil, true},
		{"missing lat", "stop_id,stop_name,stop_lon\ns,name,2.2", nil, true},
		{"missing lon for station", "stop_id,stop_name,stop_lat,location_type\ns,name,1.1,1", nil, true},
		{"missing stop_name", "stop_id,stop_lat,stop_lon\ns,1.1,2.2", nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var ids map[string]bool
			reader, err := parseInto(t, func(w storage.FeedWriter) (err error) {
				ids, err = ParseStops(w, csvBuf(tc.content))
				return err
			})
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			stops, err := reader.Stops()
			require.NoError(t, err)
			sort.Slice(stops, func(i, j int) bool { return stops[i].ID < stops[j].ID })
			assert.Equal(t, tc.stops, stops)
			for _, s := range stops {
				assert.True(t, ids[s.ID])
			}
		})
	}
}
