package fleetrt

import (
	"errors"
	"fmt"
	"math"
	"time"

	"tidbyt.dev/fleetrt/model"
)

const (
	DefaultDwell = 30 * time.Second

	minUncertainty = 30
	maxUncertainty = 300
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Great circle distance in kilometers.
type DistanceFunc func(lat1, lon1, lat2, lon2 float64) float64

// DelayEstimator projects a vehicle's arrival at a stop from its
// distance and speed, and compares it with the schedule.
type DelayEstimator struct {
	Distance DistanceFunc
	Dwell    time.Duration
	TimeNow  func() time.Time
}

func NewDelayEstimator() *DelayEstimator {
	return &DelayEstimator{
		Distance: HaversineKm,
		Dwell:    DefaultDwell,
		TimeNow:  time.Now,
	}
}

func validCoordinate(lat, lon float64) error {
	for _, v := range []float64{lat, lon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v,%v", ErrInvalidCoordinate, lat, lon)
		}
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: %v,%v out of range", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

func (e *DelayEstimator) Estimate(
	vehicleLat, vehicleLon float64,
	stopLat, stopLon float64,
	scheduledArrival, scheduledDeparture time.Time,
	speedKmh float64,
) (model.Delay, error) {
	if err := validCoordinate(vehicleLat, vehicleLon); err != nil {
		return model.Delay{}, fmt.Errorf("vehicle: %w", err)
	}
	if err := validCoordinate(stopLat, stopLon); err != nil {
		return model.Delay{}, fmt.Errorf("stop: %w", err)
	}
	if scheduledArrival.IsZero() || scheduledDeparture.IsZero() {
		return model.Delay{}, fmt.Errorf("missing scheduled time")
	}

	km := e.Distance(vehicleLat, vehicleLon, stopLat, stopLon)

	var eta time.Duration
	if speedKmh > 0 && !math.IsInf(speedKmh, 0) {
		eta = time.Duration(km / speedKmh * float64(time.Hour))
	}

	arrival := e.TimeNow().Add(eta)
	departure := arrival.Add(e.Dwell)

	uncertainty := int32(km * 60)
	if uncertainty < minUncertainty {
		uncertainty = minUncertainty
	}
	if uncertainty > maxUncertainty {
		uncertainty = maxUncertainty
	}

	return model.Delay{
		ArrivalDelay:       int32(arrival.Sub(scheduledArrival) / time.Second),
		DepartureDelay:     int32(departure.Sub(scheduledDeparture) / time.Second),
		Uncertainty:        uncertainty,
		EstimatedArrival:   arrival,
		EstimatedDeparture: departure,
	}, nil
}
