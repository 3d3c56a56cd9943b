package parse

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt/model"
	"tidbyt.dev/fleetrt/storage"
)

func TestParseCalendarDates(t *testing.T) {
	for _, tc := range []struct {
		name     string
		content  string
		expected []model.CalendarDate
		minDate  string
		maxDate  string
		err      bool
	}{
		{
			"added and removed",
			`
service_id,date,exception_type
s1,20240105,1
s2,20231225,2
s2,20240101,2`,
			[]model.CalendarDate{
				{ServiceID: "s1", Date: "20240105", ExceptionType: model.ExceptionTypeAdded},
				{ServiceID: "s2", Date: "20231225", ExceptionType: model.ExceptionTypeRemoved},
				{ServiceID: "s2", Date: "20240101", ExceptionType: model.ExceptionTypeRemoved},
			},
			"20231225",
			"20240105",
			false,
		},
		{
			"same date different services",
			`
service_id,date,exception_type
a,20240101,1
b,20240101,2`,
			[]model.CalendarDate{
				{ServiceID: "a", Date: "20240101", ExceptionType: model.ExceptionTypeAdded},
				{ServiceID: "b", Date: "20240101", ExceptionType: model.ExceptionTypeRemoved},
			},
			"20240101",
			"20240101",
			false,
		},
		{"exception_type 0", "service_id,date,exception_type\ns,20240101,0", nil, "", "", true},
		{"exception_type 3", "service_id,date,exception_type\ns,20240101,3", nil, "", "", true},
		{"bad date", "service_id,date,exception_type\ns,2024-01-01,1", nil, "", "", true},
		{"repeated service id and date", "service_id,date,exception_type\ns,20240101,1\ns,20240101,2", nil, "", "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var ids map[string]bool
			var minDate, maxDate string
			reader, err := parseInto(t, func(w storage.FeedWriter) (err error) {
				ids, minDate, maxDate, err = ParseCalendarDates(w, csvBuf(tc.content))
				return err
			})
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			cds, err := reader.CalendarDates()
			require.NoError(t, err)
			sort.Slice(cds, func(i, j int) bool {
				if cds[i].ServiceID != cds[j].ServiceID {
					return cds[i].ServiceID < cds[j].ServiceID
				}
				return cds[i].Date < cds[j].Date
			})
			assert.Equal(t, tc.expected, cds)
			for _, cd := range cds {
				assert.True(t, ids[cd.ServiceID])
			}
			assert.Equal(t, tc.minDate, minDate)
			assert.Equal(t, tc.maxDate, maxDate)
		})
	}
}
