// Package navigation drives the robot to a single geographic target with a
// proportional bearing/throttle controller over fused position fixes.
package navigation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mowtion/mower"
	"github.com/mowtion/mower/utils"
)

// ErrNoPosition is reported when the position provider has no fix at all.
var ErrNoPosition = errors.New("no valid GPS data")

// ErrPositionStale is reported when fixes stop arriving for longer than the
// safety timeout.
var ErrPositionStale = errors.New("position updates stopped")

// Config tunes the closed-loop controller.
type Config struct {
	KpSteering        float64       `json:"kp_steering"` // per degree of heading error
	KpThrottle        float64       `json:"kp_throttle"` // per meter of distance
	MinThrottle       float64       `json:"min_throttle"`
	MaxThrottle       float64       `json:"max_throttle"`
	PositionTolerance float64       `json:"position_tolerance"` // degrees of lat/lng
	SafetyTimeout     time.Duration `json:"safety_timeout"`
	Tick              time.Duration `json:"tick"`
}

func (c *Config) setDefaults() {
	if c.KpSteering == 0 {
		c.KpSteering = 0.01
	}
	if c.KpThrottle == 0 {
		c.KpThrottle = 0.5
	}
	if c.MinThrottle == 0 {
		c.MinThrottle = 0.2
	}
	if c.MaxThrottle == 0 {
		c.MaxThrottle = 1.0
	}
	if c.PositionTolerance == 0 {
		c.PositionTolerance = 1e-4
	}
	if c.SafetyTimeout == 0 {
		c.SafetyTimeout = 30 * time.Second
	}
	if c.Tick == 0 {
		c.Tick = 100 * time.Millisecond
	}
}

// Status is a snapshot of an in-progress drive. It is overwritten every
// control tick and readable without blocking the drive loop.
type Status struct {
	Moving          bool
	TargetReached   bool
	Current         mower.Pose
	Target          *geo.Point
	DistanceM       float64
	HeadingErrorDeg float64
	LastError       string
}

// Controller owns one drive at a time. NavigateTo blocks its caller until
// the target is reached, the context is cancelled, or the safety timeout
// fires; it never sleeps longer than one tick without checking for
// cancellation.
type Controller struct {
	drive    mower.Drive
	position mower.PositionProvider
	heading  mower.HeadingProvider
	logger   golog.Logger
	clock    clock.Clock
	cfg      Config

	mu     sync.RWMutex
	status Status
}

// NewController wires the controller to its providers. The heading provider
// may be nil, in which case the fused pose heading is used.
func NewController(
	cfg Config,
	drive mower.Drive,
	position mower.PositionProvider,
	heading mower.HeadingProvider,
	clk clock.Clock,
	logger golog.Logger,
) *Controller {
	cfg.setDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{
		drive:    drive,
		position: position,
		heading:  heading,
		logger:   logger,
		clock:    clk,
		cfg:      cfg,
	}
}

// Status returns the latest drive snapshot without blocking.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) setStatus(update func(*Status)) {
	c.mu.Lock()
	update(&c.status)
	c.mu.Unlock()
}

// NavigateTo drives to target and returns once within the position
// tolerance. Every exit path issues a stop command. Expected failure modes
// (no fix, stale fixes, cancellation) come back as errors wrapping
// ErrNoPosition, ErrPositionStale, or the context error.
func (c *Controller) NavigateTo(ctx context.Context, target *geo.Point) error {
	c.setStatus(func(s *Status) {
		*s = Status{Moving: true, Target: target}
	})

	lastFixAt := c.clock.Now()
	var lastFixStamp time.Time

	fail := func(ctx context.Context, err error) error {
		stopErr := c.drive.Stop(ctx)
		c.setStatus(func(s *Status) {
			s.Moving = false
			s.LastError = err.Error()
		})
		return multierr.Combine(err, stopErr)
	}

	for {
		if err := ctx.Err(); err != nil {
			// the caller moved on; stop with a fresh context
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			stopErr := c.drive.Stop(stopCtx)
			cancel()
			c.setStatus(func(s *Status) {
				s.Moving = false
				s.LastError = err.Error()
			})
			return multierr.Combine(err, stopErr)
		}

		pose, ok := c.position.Position(ctx)
		if !ok {
			return fail(ctx, ErrNoPosition)
		}
		if pose.LastUpdate != lastFixStamp {
			lastFixStamp = pose.LastUpdate
			lastFixAt = c.clock.Now()
		}
		if c.clock.Now().Sub(lastFixAt) > c.cfg.SafetyTimeout {
			return fail(ctx, errors.Wrapf(ErrPositionStale,
				"no update for %v", c.cfg.SafetyTimeout))
		}

		if math.Abs(pose.Latitude-target.Lat()) < c.cfg.PositionTolerance &&
			math.Abs(pose.Longitude-target.Lng()) < c.cfg.PositionTolerance {
			stopErr := c.drive.Stop(ctx)
			c.setStatus(func(s *Status) {
				s.Moving = false
				s.TargetReached = true
				s.Current = pose
				s.DistanceM = 0
			})
			return stopErr
		}

		heading := pose.Heading
		if c.heading != nil {
			if h, ok := c.heading.Heading(ctx); ok {
				heading = h
			}
		}

		current := pose.Point()
		distanceM := current.GreatCircleDistance(target) * 1000.0
		bearing := current.BearingTo(target)
		headingErr := utils.WrapDeg180(bearing - heading)

		// positive steering is clockwise, same as the chassis convention
		steering := utils.Clamp(c.cfg.KpSteering*headingErr, -1, 1)
		throttle := utils.Clamp(c.cfg.KpThrottle*distanceM, c.cfg.MinThrottle, c.cfg.MaxThrottle)

		if err := c.drive.SetSteeringThrottle(ctx, steering, throttle); err != nil {
			return fail(ctx, errors.Wrap(err, "drive command rejected"))
		}

		c.setStatus(func(s *Status) {
			s.Moving = true
			s.Current = pose
			s.DistanceM = distanceM
			s.HeadingErrorDeg = headingErr
			s.LastError = ""
		})

		select {
		case <-ctx.Done():
		case <-c.clock.After(c.cfg.Tick):
		}
	}
}
