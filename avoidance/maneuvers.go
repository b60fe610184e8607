package avoidance

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/mowtion/mower/utils"
)

// turnRelative rotates in place by deg (positive is clockwise). With a
// heading provider the turn is closed-loop; without one it falls back to a
// timed spin at the configured turn rate.
func (a *Avoider) turnRelative(ctx context.Context, deg float64) error {
	steer := 1.0
	if deg < 0 {
		steer = -1
	}

	start, haveHeading := a.currentHeading(ctx)
	if err := a.drive.SetSteeringThrottle(ctx, steer, a.cfg.TurnThrottle); err != nil {
		return errors.Wrap(err, "turn command rejected")
	}

	if !haveHeading {
		duration := time.Duration(math.Abs(deg) / a.cfg.TurnRateDegPerSec * float64(time.Second))
		if err := a.wait(ctx, duration); err != nil {
			return err
		}
		return a.drive.Stop(ctx)
	}

	deadline := a.clock.Now().Add(a.cfg.TurnTimeout)
	for {
		if err := a.wait(ctx, 20*time.Millisecond); err != nil {
			return err
		}
		cur, ok := a.currentHeading(ctx)
		if ok && utils.AngleDiffDeg(start, cur) >= math.Abs(deg)-a.cfg.HeadingToleranceDeg {
			return a.drive.Stop(ctx)
		}
		if a.clock.Now().After(deadline) {
			stopErr := a.drive.Stop(ctx)
			if stopErr != nil {
				return stopErr
			}
			return errors.Errorf("turn of %.0f degrees timed out", deg)
		}
	}
}

// backupManeuver spins 180 degrees, pauses, then reverses a fixed
// distance.
func (a *Avoider) backupManeuver(ctx context.Context) error {
	if err := a.turnRelative(ctx, 180); err != nil {
		return err
	}
	if err := a.wait(ctx, a.cfg.BackupPause); err != nil {
		return err
	}
	if err := a.drive.SetSteeringThrottle(ctx, 0, -a.cfg.BackupThrottle); err != nil {
		return errors.Wrap(err, "reverse command rejected")
	}
	duration := time.Duration(a.cfg.BackupDistanceM / a.cfg.BackupSpeedMPS * float64(time.Second))
	if err := a.wait(ctx, duration); err != nil {
		return err
	}
	return a.drive.Stop(ctx)
}

// alternativeRoute estimates the obstacle's absolute position from the
// current pose plus a fixed forward offset, registers it with the planner,
// and asks for a new route to the active goal. A delivered route counts as
// an escape; the supervisor resumes along it.
func (a *Avoider) alternativeRoute(ctx context.Context, obs DetectedObstacle) error {
	if a.proj == nil {
		return errors.New("no planar projection configured")
	}
	pose, ok := a.position.Position(ctx)
	if !ok {
		return errors.New("no position fix to estimate obstacle location")
	}
	heading := pose.Heading
	if a.heading != nil {
		if h, ok := a.heading.Heading(ctx); ok {
			heading = h
		}
	}

	estimate := pose.Point().PointAtDistanceAndBearing(a.cfg.ObstacleOffsetM/1000.0, heading)
	obstaclePt := a.proj.ToPlanar(estimate.Lat(), estimate.Lng())
	a.replanner.RegisterObstacle(obstaclePt, a.cfg.ObstacleRadius, obs.source())

	if a.hooks.Goal == nil {
		return errors.New("no goal supplier configured")
	}
	goal, ok := a.hooks.Goal()
	if !ok {
		return errors.New("no active goal to replan toward")
	}

	path := a.replanner.Replan(a.proj.ToPlanar(pose.Latitude, pose.Longitude), goal)
	if len(path) == 0 {
		return errors.New("no alternative route found")
	}
	if a.hooks.OnReplan != nil {
		a.hooks.OnReplan(path)
	}
	a.logger.Infow("alternative route planned", "points", len(path))
	return nil
}

func (a *Avoider) currentHeading(ctx context.Context) (float64, bool) {
	if a.heading != nil {
		if h, ok := a.heading.Heading(ctx); ok {
			return h, true
		}
	}
	if pose, ok := a.position.Position(ctx); ok {
		return pose.Heading, true
	}
	return 0, false
}

func (a *Avoider) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(d):
		return nil
	}
}
