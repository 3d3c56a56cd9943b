package model

import (
	"fmt"
	"math"
	"time"
)

// Telemetry as reported by Traccar.

const (
	EventTypeGeofenceExited = "geofenceExited"
	EventTypeAlarm          = "alarm"
)

type Device struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	UniqueID   string         `json:"uniqueId"`
	Status     string         `json:"status"`
	Attributes map[string]any `json:"attributes"`

	// Set when the device is admitted to the store.
	RouteID  string    `json:"-"`
	Position *Position `json:"-"`
	Event    *Event    `json:"-"`
}

// Returns the device's current geofence as a decimal string, or
// false if the attribute is missing.
func (d Device) CurrentGeofence() (string, bool) {
	v, found := d.Attributes["currentGeofence"]
	if !found || v == nil {
		return "", false
	}
	switch g := v.(type) {
	case string:
		return g, g != ""
	case float64:
		// JSON numbers decode as float64. Geofence ids are integers.
		if math.IsNaN(g) || math.IsInf(g, 0) || g != math.Trunc(g) {
			return "", false
		}
		return fmt.Sprintf("%d", int64(g)), true
	case int64:
		return fmt.Sprintf("%d", g), true
	case int:
		return fmt.Sprintf("%d", g), true
	}
	return fmt.Sprintf("%v", v), true
}

type Position struct {
	ID         int64          `json:"id"`
	DeviceID   int64          `json:"deviceId"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Course     float64        `json:"course"`
	Speed      *float64       `json:"speed"`
	DeviceTime string         `json:"deviceTime"`
	FixTime    string         `json:"fixTime"`
	Attributes map[string]any `json:"attributes"`
}

// Parses DeviceTime. Traccar sends ISO 8601 with offset.
func (p Position) Time() (time.Time, error) {
	return parseTraccarTime(p.DeviceTime)
}

type Event struct {
	ID         int64          `json:"id"`
	DeviceID   int64          `json:"deviceId"`
	Type       string         `json:"type"`
	EventTime  string         `json:"eventTime"`
	PositionID int64          `json:"positionId"`
	GeofenceID int64          `json:"geofenceId"`
	Attributes map[string]any `json:"attributes"`
}

func (e Event) Time() (time.Time, error) {
	return parseTraccarTime(e.EventTime)
}

// True for geofence exits, whether reported directly or as an alarm.
func (e Event) IsGeofenceExit() bool {
	if e.Type == EventTypeGeofenceExited {
		return true
	}
	if e.Type != EventTypeAlarm {
		return false
	}
	alarm, _ := e.Attributes["alarm"].(string)
	return alarm == EventTypeGeofenceExited
}

func parseTraccarTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed time '%s'", s)
}

// Message is one decoded Traccar socket message. Exactly one of
// DeviceList, PositionList or EventList.
type Message interface {
	isMessage()
}

type DeviceList []Device
type PositionList []Position
type EventList []Event

func (DeviceList) isMessage()   {}
func (PositionList) isMessage() {}
func (EventList) isMessage()    {}
