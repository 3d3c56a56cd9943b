package fleetrt

import (
	"fmt"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"tidbyt.dev/fleetrt/model"
)

// Builds TripUpdate entities with estimated arrival and departure for
// each stop the vehicle has yet to serve.
type TripUpdates struct {
	Mapper    *TripMapper
	Estimator *DelayEstimator
	Speed     Speed
}

func (b *TripUpdates) Entity(device model.Device) (*gtfsproto.FeedEntity, error) {
	position := device.Position

	when, err := position.Time()
	if err != nil {
		return nil, fmt.Errorf("position time: %w", err)
	}

	match, err := b.Mapper.Map(device.RouteID, when)
	if err != nil {
		return nil, fmt.Errorf("mapping trip: %w", err)
	}
	if match == nil || len(match.Stops) == 0 {
		return nil, ErrNoTripMatch
	}

	pending, err := match.PendingIndex(when)
	if err != nil {
		return nil, fmt.Errorf("pending stop: %w", err)
	}

	speed := b.Speed.EstimateKmh(position)

	updates := make([]*gtfsproto.TripUpdate_StopTimeUpdate, 0, len(match.Stops)-pending)
	for _, stop := range match.Stops[pending:] {
		arrival, departure, err := match.ScheduledTimes(stop)
		if err != nil {
			return nil, fmt.Errorf("stop %s: %w", stop.StopID, err)
		}

		delay, err := b.Estimator.Estimate(
			position.Latitude, position.Longitude,
			stop.Lat, stop.Lon,
			arrival, departure,
			speed,
		)
		if err != nil {
			return nil, fmt.Errorf("estimating stop %s: %w", stop.StopID, err)
		}

		updates = append(updates, &gtfsproto.TripUpdate_StopTimeUpdate{
			StopSequence: proto.Uint32(stop.StopSequence),
			StopId:       proto.String(stop.StopID),
			Arrival: &gtfsproto.TripUpdate_StopTimeEvent{
				Delay:       proto.Int32(delay.ArrivalDelay),
				Time:        proto.Int64(delay.EstimatedArrival.Unix()),
				Uncertainty: proto.Int32(delay.Uncertainty),
			},
			Departure: &gtfsproto.TripUpdate_StopTimeEvent{
				Delay:       proto.Int32(delay.DepartureDelay),
				Time:        proto.Int64(delay.EstimatedDeparture.Unix()),
				Uncertainty: proto.Int32(delay.Uncertainty),
			},
		})
	}

	return &gtfsproto.FeedEntity{
		Id: entityID(device),
		TripUpdate: &gtfsproto.TripUpdate{
			Trip:           tripDescriptor(match),
			Vehicle:        vehicleDescriptor(device),
			StopTimeUpdate: updates,
			Timestamp:      proto.Uint64(uint64(when.Unix())),
		},
	}, nil
}
