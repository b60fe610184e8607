package mower

import "context"

// PositionProvider reports the latest fused position fix. The boolean is
// false when no fix is available; implementations return cached state and
// never block on hardware.
type PositionProvider interface {
	Position(ctx context.Context) (Pose, bool)
}

// HeadingProvider reports the current heading in degrees [0, 360).
type HeadingProvider interface {
	Heading(ctx context.Context) (float64, bool)
}

// ObstacleSignals exposes the four obstacle detectors as booleans. Getters
// may serve cached values rather than blocking; Refresh re-reads the
// underlying proximity sensors.
type ObstacleSignals interface {
	LeftProximity(ctx context.Context) bool
	RightProximity(ctx context.Context) bool
	CameraObstacle(ctx context.Context) bool
	CameraDropoff(ctx context.Context) bool
	Refresh(ctx context.Context) error
}

// Drive is the steering/throttle actuator. Steering and throttle are both
// in [-1, 1]; Stop commands zero on both channels.
type Drive interface {
	SetSteeringThrottle(ctx context.Context, steering, throttle float64) error
	Stop(ctx context.Context) error
}

// Blade switches the cutting blade on or off.
type Blade interface {
	SetBlade(ctx context.Context, on bool) error
}

// BatterySensor reads the pack voltage for safety checks.
type BatterySensor interface {
	Voltage(ctx context.Context) (float64, error)
}

// AttitudeProvider reports the tilt magnitude in degrees for the rollover
// safety check. Optional; a nil provider disables the check.
type AttitudeProvider interface {
	TiltDeg(ctx context.Context) (float64, bool)
}
