package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/fleetrt"
)

var stopsCmd = &cobra.Command{
	Use:   "stops <route_id> [time]",
	Short: "Estimates delays at upcoming stops for a vehicle at a location",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  stops,
}

var (
	lat   float64
	lon   float64
	speed float64
)

func init() {
	stopsCmd.Flags().Float64VarP(&lat, "lat", "", 0, "Vehicle latitude")
	stopsCmd.Flags().Float64VarP(&lon, "lon", "", 0, "Vehicle longitude")
	stopsCmd.Flags().Float64VarP(&speed, "speed", "s", fleetrt.DefaultSpeedKmh, "Vehicle speed in km/h")
	stopsCmd.MarkFlagRequired("lat")
	stopsCmd.MarkFlagRequired("lon")
}

func stops(cmd *cobra.Command, args []string) error {
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

	pending, err := m.PendingIndex(when)
	if err != nil {
		return err
	}

	estimator := fleetrt.NewDelayEstimator()
	estimator.Dwell = cfg.Feeds.Dwell
	estimator.TimeNow = func() time.Time { return when }

	fmt.Printf("%s %s\n", m.RouteID, m.TripID)
	for _, stop := range m.Stops[pending:] {
		arrival, departure, err := m.ScheduledTimes(stop)
		if err != nil {
			return err
		}
		delay, err := estimator.Estimate(lat, lon, stop.Lat, stop.Lon, arrival, departure, speed)
		if err != nil {
			return err
		}
		fmt.Printf(
			"%3d %s %s %+ds (±%ds)\n",
			stop.StopSequence,
			stop.StopID,
			delay.EstimatedArrival.In(schedule.Location()).Format("15:04:05"),
			delay.ArrivalDelay,
			delay.Uncertainty,
		)
	}

	return nil
}
