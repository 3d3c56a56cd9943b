package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

func TestParseStopTimeTime(t *testing.T) {
	for in, out := range map[string]string{
		"08:00:00": "080000",
		"8:05:09":  "080509",
		"25:30:00": "253000",
		"00:00:00": "000000",
	} {
		got, err := parseStopTimeTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, out, got, in)
	}

	for _, in := range []string{"", "08:00", "08:00:00:00", "aa:00:00", "100:00:00", "08:60:00", "08:00:60", "-1:00:00"} {
		_, err := parseStopTimeTime(in)
		assert.Error(t, err, in)
	}
}

func TestParseStopTimes(t *testing.T) {
	trips := map[string]bool{"t1": true, "t2": true}
	stops := map[string]bool{"s1": true, "s2": true, "s3": true}

	for _, tc := range []struct {
		name         string
		content      string
		stopTimes    []model.StopTime
		maxArrival   string
		maxDeparture string
		err          bool
	}{
		{
			"two trips",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence,stop_headsign
t1,08:00:00,08:00:30,s1,1,Centro
t1,08:10:00,08:10:00,s2,2,
t2,24:55:00,25:05:00,s3,7,`,
			[]model.StopTime{
				{TripID: "t1", StopID: "s1", StopSequence: 1, Arrival: "080000", Departure: "080030", Headsign: "Centro"},
				{TripID: "t1", StopID: "s2", StopSequence: 2, Arrival: "081000", Departure: "081000"},
				{TripID: "t2", StopID: "s3", StopSequence: 7, Arrival: "245500", Departure: "250500"},
			},
			"245500",
			"250500",
			false,
		},
		{"unknown trip", "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt9,08:00:00,08:00:00,s1,1", nil, "", "", true},
		{"unknown stop", "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt1,08:00:00,08:00:00,s9,1", nil, "", "", true},
		{"missing stop", "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt1,08:00:00,08:00:00,,1", nil, "", "", true},
		{"bad arrival", "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt1,8am,08:00:00,s1,1", nil, "", "", true},
		{"bad departure", "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt1,08:00:00,08:61:00,s1,1", nil, "", "", true},
		{
			"duplicate stop_sequence",
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt1,08:00:00,08:00:00,s1,1\nt1,08:05:00,08:05:00,s2,1",
			nil, "", "", true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var maxArrival, maxDeparture string
			reader, err := parseInto(t, func(w storage.FeedWriter) (err error) {
				maxArrival, maxDeparture, err = ParseStopTimes(w, csvBuf(tc.content), trips, stops)
				return err
			})
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			stopTimes, err := reader.StopTimes()
			require.NoError(t, err)
			assert.Equal(t, tc.stopTimes, stopTimes)
			assert.Equal(t, tc.maxArrival, maxArrival)
			assert.Equal(t, tc.maxDeparture, maxDeparture)
		})
	}
}
