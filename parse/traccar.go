package parse

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"tidbyt.dev/fleetrt/model"
)

// A Traccar socket frame. The server sends one kind of update per
// frame, under one of these keys.
type traccarFrame struct {
	Devices   json.RawMessage `json:"devices"`
	Positions json.RawMessage `json:"positions"`
	Events    json.RawMessage `json:"events"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// Decodes a Traccar websocket frame. Keys are checked in the order
// devices, positions, events, and only the first one present is
// decoded. Frames with none of them, like the keepalive "{}", yield a
// nil Message.
func ParseTraccar(data []byte) (model.Message, error) {
	frame := traccarFrame{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.Wrap(err, "decoding frame")
	}

	switch {
	case present(frame.Devices):
		devices := model.DeviceList{}
		if err := json.Unmarshal(frame.Devices, &devices); err != nil {
			return nil, errors.Wrap(err, "decoding devices")
		}
		return devices, nil

	case present(frame.Positions):
		positions := model.PositionList{}
		if err := json.Unmarshal(frame.Positions, &positions); err != nil {
			return nil, errors.Wrap(err, "decoding positions")
		}
		return positions, nil

	case present(frame.Events):
		events := model.EventList{}
		if err := json.Unmarshal(frame.Events, &events); err != nil {
			return nil, errors.Wrap(err, "decoding events")
		}
		return events, nil
	}

	return nil, nil
}
