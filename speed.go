package fleetrt

import (
	"fmt"
	"math"

	"tidbyt.dev/fleetrt/model"
)

// Unit of Position.Speed as reported by the tracker.
type SpeedUnit string

const (
	SpeedUnitMPS   SpeedUnit = "mps"
	SpeedUnitKnots SpeedUnit = "knots"
	SpeedUnitKmh   SpeedUnit = "kmh"

	DefaultSpeedKmh = 25.0
)

func ParseSpeedUnit(s string) (SpeedUnit, error) {
	switch u := SpeedUnit(s); u {
	case SpeedUnitMPS, SpeedUnitKnots, SpeedUnitKmh:
		return u, nil
	case "":
		return SpeedUnitMPS, nil
	}
	return "", fmt.Errorf("unknown speed unit '%s'", s)
}

func (u SpeedUnit) ToKmh(v float64) float64 {
	switch u {
	case SpeedUnitKnots:
		return v * 1.852
	case SpeedUnitKmh:
		return v
	}
	return v * 3.6
}

// Speed converts reported position speeds.
type Speed struct {
	Unit SpeedUnit

	// Used for ETA when a position carries no speed.
	DefaultKmh float64
}

// Reported speed in km/h, and whether one was reported.
func (s Speed) Kmh(p *model.Position) (float64, bool) {
	if p == nil || p.Speed == nil || math.IsNaN(*p.Speed) || *p.Speed < 0 {
		return 0, false
	}
	return s.Unit.ToKmh(*p.Speed), true
}

// Speed in km/h for ETA purposes, falling back to DefaultKmh.
func (s Speed) EstimateKmh(p *model.Position) float64 {
	if kmh, ok := s.Kmh(p); ok {
		return kmh
	}
	return s.DefaultKmh
}
