// Package mower defines the shared types and boundary contracts for the
// mowing robot's coordination core. Hardware drivers live behind the small
// interfaces declared here and are injected into the core at startup.
package mower

import (
	"time"

	geo "github.com/kellydunn/golang-geo"
)

// Pose is a fused position fix. It is produced by a PositionProvider every
// fusion cycle and read-only to the core components.
type Pose struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Heading    float64   `json:"heading"` // degrees, [0, 360)
	Accuracy   float64   `json:"accuracy"`
	LastUpdate time.Time `json:"last_update"`
}

// Point returns the pose's location as a geo point.
func (p Pose) Point() *geo.Point {
	return geo.NewPoint(p.Latitude, p.Longitude)
}

// Status is the snapshot exposed to UI and telemetry consumers. Reading it
// never blocks the control loops.
type Status struct {
	Mode           string  `json:"mode"`
	Error          string  `json:"error,omitempty"`
	Position       Pose    `json:"position"`
	BatteryVolts   float64 `json:"battery_volts"`
	BladeOn        bool    `json:"blade_on"`
	WaypointsDone  int     `json:"waypoints_done"`
	WaypointsTotal int     `json:"waypoints_total"`
}
