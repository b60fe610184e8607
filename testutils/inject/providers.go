// Package inject provides implementations of the core boundary interfaces
// with injectable functions for testing.
package inject

import (
	"context"

	"github.com/golang/geo/r2"

	"github.com/mowtion/mower"
	"github.com/mowtion/mower/planner"
)

// PositionProvider is an injected position provider.
type PositionProvider struct {
	mower.PositionProvider
	PositionFunc func(ctx context.Context) (mower.Pose, bool)
}

// Position calls the injected Position or the real version.
func (i *PositionProvider) Position(ctx context.Context) (mower.Pose, bool) {
	if i.PositionFunc == nil {
		return i.PositionProvider.Position(ctx)
	}
	return i.PositionFunc(ctx)
}

// HeadingProvider is an injected heading provider.
type HeadingProvider struct {
	mower.HeadingProvider
	HeadingFunc func(ctx context.Context) (float64, bool)
}

// Heading calls the injected Heading or the real version.
func (i *HeadingProvider) Heading(ctx context.Context) (float64, bool) {
	if i.HeadingFunc == nil {
		return i.HeadingProvider.Heading(ctx)
	}
	return i.HeadingFunc(ctx)
}

// ObstacleSignals is an injected set of obstacle detectors.
type ObstacleSignals struct {
	mower.ObstacleSignals
	LeftProximityFunc  func(ctx context.Context) bool
	RightProximityFunc func(ctx context.Context) bool
	CameraObstacleFunc func(ctx context.Context) bool
	CameraDropoffFunc  func(ctx context.Context) bool
	RefreshFunc        func(ctx context.Context) error
}

// LeftProximity calls the injected LeftProximity or the real version.
func (i *ObstacleSignals) LeftProximity(ctx context.Context) bool {
	if i.LeftProximityFunc == nil {
		return i.ObstacleSignals.LeftProximity(ctx)
	}
	return i.LeftProximityFunc(ctx)
}

// RightProximity calls the injected RightProximity or the real version.
func (i *ObstacleSignals) RightProximity(ctx context.Context) bool {
	if i.RightProximityFunc == nil {
		return i.ObstacleSignals.RightProximity(ctx)
	}
	return i.RightProximityFunc(ctx)
}

// CameraObstacle calls the injected CameraObstacle or the real version.
func (i *ObstacleSignals) CameraObstacle(ctx context.Context) bool {
	if i.CameraObstacleFunc == nil {
		return i.ObstacleSignals.CameraObstacle(ctx)
	}
	return i.CameraObstacleFunc(ctx)
}

// CameraDropoff calls the injected CameraDropoff or the real version.
func (i *ObstacleSignals) CameraDropoff(ctx context.Context) bool {
	if i.CameraDropoffFunc == nil {
		return i.ObstacleSignals.CameraDropoff(ctx)
	}
	return i.CameraDropoffFunc(ctx)
}

// Refresh calls the injected Refresh or the real version.
func (i *ObstacleSignals) Refresh(ctx context.Context) error {
	if i.RefreshFunc == nil {
		if i.ObstacleSignals == nil {
			return nil
		}
		return i.ObstacleSignals.Refresh(ctx)
	}
	return i.RefreshFunc(ctx)
}

// BatterySensor is an injected battery sensor.
type BatterySensor struct {
	mower.BatterySensor
	VoltageFunc func(ctx context.Context) (float64, error)
}

// Voltage calls the injected Voltage or the real version.
func (i *BatterySensor) Voltage(ctx context.Context) (float64, error) {
	if i.VoltageFunc == nil {
		return i.BatterySensor.Voltage(ctx)
	}
	return i.VoltageFunc(ctx)
}

// AttitudeProvider is an injected attitude provider.
type AttitudeProvider struct {
	mower.AttitudeProvider
	TiltDegFunc func(ctx context.Context) (float64, bool)
}

// TiltDeg calls the injected TiltDeg or the real version.
func (i *AttitudeProvider) TiltDeg(ctx context.Context) (float64, bool) {
	if i.TiltDegFunc == nil {
		return i.AttitudeProvider.TiltDeg(ctx)
	}
	return i.TiltDegFunc(ctx)
}

// ElevationService is an injected elevation service.
type ElevationService struct {
	planner.ElevationService
	ElevationsFunc func(ctx context.Context, points []r2.Point) ([]float64, bool)
}

// Elevations calls the injected Elevations or the real version.
func (i *ElevationService) Elevations(ctx context.Context, points []r2.Point) ([]float64, bool) {
	if i.ElevationsFunc == nil {
		return i.ElevationService.Elevations(ctx, points)
	}
	return i.ElevationsFunc(ctx, points)
}
