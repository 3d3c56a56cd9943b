package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/fleetrt"
)

var matchCmd = &cobra.Command{
	Use:   "match <route_id> [time]",
	Short: "Shows the trip a vehicle on a route would be matched to",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  match,
}

func match(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	when, err := parseWhen(args, 1)
	if err != nil {
		return err
	}

	schedule, err := loadSchedule(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	m, err := fleetrt.NewTripMapper(schedule).Map(args[0], when)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no trip on route %s at %s", args[0], when.Format(time.RFC3339))
	}

	fmt.Printf("%s %s %s\n", m.RouteID, m.TripID, m.ServiceDate.Format("20060102"))
	for _, stop := range m.Stops {
		fmt.Printf("%3d %s %s %s\n", stop.StopSequence, stop.StopID, stop.Arrival, stop.Departure)
	}

	return nil
}
