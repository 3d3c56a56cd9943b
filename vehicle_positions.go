package fleetrt

import (
	"fmt"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"tidbyt.dev/fleetrt/model"
)

// Builds VehiclePosition entities for devices running a scheduled
// trip.
type VehiclePositions struct {
	Mapper *TripMapper
	Speed  Speed
}

func (b *VehiclePositions) Entity(device model.Device) (*gtfsproto.FeedEntity, error) {
	position := device.Position

	when, err := position.Time()
	if err != nil {
		return nil, fmt.Errorf("position time: %w", err)
	}
	if err := validCoordinate(position.Latitude, position.Longitude); err != nil {
		return nil, err
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
	stop := match.Stops[pending]

	vp := &gtfsproto.Position{
		Latitude:  proto.Float32(float32(position.Latitude)),
		Longitude: proto.Float32(float32(position.Longitude)),
		Bearing:   proto.Float32(float32(position.Course)),
	}
	if kmh, ok := b.Speed.Kmh(position); ok {
		vp.Speed = proto.Float32(float32(kmh / 3.6))
	}

	return &gtfsproto.FeedEntity{
		Id: entityID(device),
		Vehicle: &gtfsproto.VehiclePosition{
			Trip:                tripDescriptor(match),
			Vehicle:             vehicleDescriptor(device),
			Position:            vp,
			CurrentStopSequence: proto.Uint32(stop.StopSequence),
			StopId:              proto.String(stop.StopID),
			Timestamp:           proto.Uint64(uint64(when.Unix())),
		},
	}, nil
}
