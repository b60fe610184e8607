// Package avoidance reacts to obstacle signals with short evasive
// maneuvers and an escalating recovery ladder. On repeated failure it
// registers the obstacle with the path planner and requests a replan.
package avoidance

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	goutils "go.viam.com/utils"

	"github.com/mowtion/mower"
	"github.com/mowtion/mower/planner"
)

// State is the avoidance machine's current phase.
type State uint8

// The avoidance states.
const (
	StateNormal = State(iota)
	StateAvoiding
	StateRecovery
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateAvoiding:
		return "avoiding"
	case StateRecovery:
		return "recovery"
	}
	return "unknown"
}

// DetectedObstacle OR-combines the four obstacle signals into one
// descriptor. Writers swap the whole value under the avoider's lock so
// readers never observe a half-written descriptor.
type DetectedObstacle struct {
	Left           bool
	Right          bool
	CameraObstacle bool
	CameraDropoff  bool
	Observed       time.Time
}

// Any reports whether any signal fired.
func (d DetectedObstacle) Any() bool {
	return d.Left || d.Right || d.CameraObstacle || d.CameraDropoff
}

func (d DetectedObstacle) source() string {
	switch {
	case d.Left:
		return "left-proximity"
	case d.Right:
		return "right-proximity"
	case d.CameraDropoff:
		return "camera-dropoff"
	default:
		return "camera-obstacle"
	}
}

// Config tunes detection and maneuver behavior.
type Config struct {
	TurnAngleDeg        float64       `json:"turn_angle"`
	TurnThrottle        float64       `json:"turn_throttle"`
	TurnRateDegPerSec   float64       `json:"turn_rate"`
	TurnTimeout         time.Duration `json:"turn_timeout"`
	HeadingToleranceDeg float64       `json:"heading_tolerance"`
	BackupPause         time.Duration `json:"backup_pause"`
	BackupDistanceM     float64       `json:"backup_distance"`
	BackupThrottle      float64       `json:"backup_throttle"`
	BackupSpeedMPS      float64       `json:"backup_speed"`
	MaxRecoveryAttempts int           `json:"max_recovery_attempts"`
	Tick                time.Duration `json:"tick"`
	MonitorInterval     time.Duration `json:"monitor_interval"`
	ObstacleOffsetM     float64       `json:"obstacle_offset"`
	ObstacleRadius      float64       `json:"obstacle_radius"` // meters in the planner plane
}

func (c *Config) setDefaults() {
	if c.TurnAngleDeg == 0 {
		c.TurnAngleDeg = 45
	}
	if c.TurnThrottle == 0 {
		c.TurnThrottle = 0.3
	}
	if c.TurnRateDegPerSec == 0 {
		c.TurnRateDegPerSec = 45
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 10 * time.Second
	}
	if c.HeadingToleranceDeg == 0 {
		c.HeadingToleranceDeg = 5
	}
	if c.BackupPause == 0 {
		c.BackupPause = 2 * time.Second
	}
	if c.BackupDistanceM == 0 {
		c.BackupDistanceM = 0.3
	}
	if c.BackupThrottle == 0 {
		c.BackupThrottle = 0.3
	}
	if c.BackupSpeedMPS == 0 {
		c.BackupSpeedMPS = 0.15
	}
	if c.MaxRecoveryAttempts == 0 {
		c.MaxRecoveryAttempts = 3
	}
	if c.Tick == 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 500 * time.Millisecond
	}
	if c.ObstacleOffsetM == 0 {
		c.ObstacleOffsetM = 0.5
	}
	if c.ObstacleRadius == 0 {
		c.ObstacleRadius = 0.5
	}
}

// Replanner is the slice of the path planner the avoider needs.
type Replanner interface {
	RegisterObstacle(pos r2.Point, radius float64, source string) planner.Obstacle
	Replan(start, goal r2.Point) []r2.Point
}

// Hooks connect the avoider to its supervisor. Goal supplies the waypoint
// being driven toward; OnReplan delivers an alternative route; OnFailure
// fires exactly once per episode when recovery is exhausted.
type Hooks struct {
	Goal      func() (r2.Point, bool)
	OnReplan  func(path []r2.Point)
	OnFailure func(reason string)
}

// Avoider owns the NORMAL/AVOIDING/RECOVERY machine. Its main loop and the
// proximity monitor run as independent periodic tasks.
type Avoider struct {
	cfg       Config
	signals   mower.ObstacleSignals
	drive     mower.Drive
	position  mower.PositionProvider
	heading   mower.HeadingProvider
	replanner Replanner
	proj      *planner.Projection
	hooks     Hooks
	logger    golog.Logger
	clock     clock.Clock

	mu          sync.Mutex
	enabled     bool
	state       State
	attempts    int
	failed      bool
	detected    DetectedObstacle
	leftCached  bool
	rightCached bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	started                 bool
}

// NewAvoider wires the avoidance machine. proj maps obstacle estimates into
// the replanner's metric plane. Start must be called to begin monitoring and
// SetEnabled to arm detection; the machine comes up disarmed.
func NewAvoider(
	cfg Config,
	signals mower.ObstacleSignals,
	drive mower.Drive,
	position mower.PositionProvider,
	heading mower.HeadingProvider,
	replanner Replanner,
	proj *planner.Projection,
	hooks Hooks,
	clk clock.Clock,
	logger golog.Logger,
) *Avoider {
	cfg.setDefaults()
	if clk == nil {
		clk = clock.New()
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &Avoider{
		cfg:       cfg,
		signals:   signals,
		drive:     drive,
		position:  position,
		heading:   heading,
		replanner: replanner,
		proj:      proj,
		hooks:     hooks,
		logger:    logger,
		clock:     clk,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}
}

// Start launches the proximity monitor and the main avoidance loop.
func (a *Avoider) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	a.activeBackgroundWorkers.Add(2)
	goutils.ManagedGo(func() {
		a.monitorLoop(a.cancelCtx)
	}, a.activeBackgroundWorkers.Done)
	goutils.ManagedGo(func() {
		a.mainLoop(a.cancelCtx)
	}, a.activeBackgroundWorkers.Done)
}

// monitorLoop refreshes the proximity booleans at a fixed interval,
// independent of whatever the main loop is doing, so detection latency
// stays bounded.
func (a *Avoider) monitorLoop(ctx context.Context) {
	for {
		if !goutils.SelectContextOrWait(ctx, a.cfg.MonitorInterval) {
			return
		}
		if err := a.signals.Refresh(ctx); err != nil {
			a.logger.Debugw("proximity refresh failed", "error", err)
			continue
		}
		left := a.signals.LeftProximity(ctx)
		right := a.signals.RightProximity(ctx)
		a.mu.Lock()
		a.leftCached = left
		a.rightCached = right
		a.mu.Unlock()
	}
}

func (a *Avoider) mainLoop(ctx context.Context) {
	for {
		if !goutils.SelectContextOrWait(ctx, a.cfg.Tick) {
			return
		}
		if !a.Enabled() {
			continue
		}
		switch a.State() {
		case StateNormal:
			obs := a.snapshotSignals(ctx)
			if obs.Any() {
				a.beginAvoidance(ctx, obs)
			}
		case StateAvoiding:
			// beginAvoidance resolves synchronously to normal or recovery
		case StateRecovery:
			a.attemptRecovery(ctx)
		}
	}
}

// snapshotSignals OR-combines the cached proximity values with a live read
// of the camera signals.
func (a *Avoider) snapshotSignals(ctx context.Context) DetectedObstacle {
	a.mu.Lock()
	left, right := a.leftCached, a.rightCached
	a.mu.Unlock()
	return DetectedObstacle{
		Left:           left,
		Right:          right,
		CameraObstacle: a.signals.CameraObstacle(ctx),
		CameraDropoff:  a.signals.CameraDropoff(ctx),
		Observed:       a.clock.Now(),
	}
}

// beginAvoidance runs the initial evasive maneuver for a fresh detection:
// left-only turns right, right-only turns left, anything else backs up.
func (a *Avoider) beginAvoidance(ctx context.Context, obs DetectedObstacle) {
	a.mu.Lock()
	a.state = StateAvoiding
	a.detected = obs
	a.mu.Unlock()
	a.logger.Infow("obstacle detected", "source", obs.source(),
		"left", obs.Left, "right", obs.Right,
		"camera", obs.CameraObstacle, "dropoff", obs.CameraDropoff)

	var err error
	switch {
	case obs.Left && !obs.Right:
		err = a.turnRelative(ctx, a.cfg.TurnAngleDeg)
	case obs.Right && !obs.Left:
		err = a.turnRelative(ctx, -a.cfg.TurnAngleDeg)
	default:
		err = a.backupManeuver(ctx)
	}

	if err != nil {
		a.logger.Warnw("initial avoidance maneuver failed", "error", err)
		a.enterRecovery()
		return
	}
	if a.cleared(ctx) {
		a.succeed()
		return
	}
	a.enterRecovery()
}

// attemptRecovery climbs the strategy ladder keyed by the attempt counter:
// directional turn, then backup, then alternative route through the
// planner. The ordering is deliberate; do not reorder.
func (a *Avoider) attemptRecovery(ctx context.Context) {
	a.mu.Lock()
	attempts := a.attempts
	obs := a.detected
	a.mu.Unlock()

	if attempts >= a.cfg.MaxRecoveryAttempts {
		a.failOnce("obstacle avoidance recovery exhausted")
		return
	}
	a.logger.Infow("recovery attempt", "attempt", attempts)

	var err error
	alternative := false
	switch attempts {
	case 0:
		angle := a.cfg.TurnAngleDeg
		if obs.Right && !obs.Left {
			angle = -angle
		}
		err = a.turnRelative(ctx, angle)
	case 1:
		err = a.backupManeuver(ctx)
	default:
		alternative = true
		err = a.alternativeRoute(ctx, obs)
	}

	if err == nil && (alternative || a.cleared(ctx)) {
		a.succeed()
		return
	}
	if err != nil {
		a.logger.Warnw("recovery strategy failed", "attempt", attempts, "error", err)
	}

	a.mu.Lock()
	a.attempts++
	exhausted := a.attempts >= a.cfg.MaxRecoveryAttempts
	a.mu.Unlock()
	if exhausted {
		a.failOnce("obstacle avoidance recovery exhausted")
	}
}

// cleared re-reads the signals after a maneuver; a clean read means the
// escape worked.
func (a *Avoider) cleared(ctx context.Context) bool {
	if err := a.signals.Refresh(ctx); err != nil {
		return false
	}
	obs := DetectedObstacle{
		Left:           a.signals.LeftProximity(ctx),
		Right:          a.signals.RightProximity(ctx),
		CameraObstacle: a.signals.CameraObstacle(ctx),
		CameraDropoff:  a.signals.CameraDropoff(ctx),
	}
	a.mu.Lock()
	a.leftCached = obs.Left
	a.rightCached = obs.Right
	a.mu.Unlock()
	return !obs.Any()
}

func (a *Avoider) succeed() {
	a.mu.Lock()
	a.state = StateNormal
	a.attempts = 0
	a.failed = false
	a.mu.Unlock()
	a.logger.Info("obstacle cleared, back to normal")
}

func (a *Avoider) enterRecovery() {
	a.mu.Lock()
	a.state = StateRecovery
	a.mu.Unlock()
}

// failOnce reports permanent failure exactly once per episode.
func (a *Avoider) failOnce(reason string) {
	a.mu.Lock()
	if a.failed {
		a.mu.Unlock()
		return
	}
	a.failed = true
	a.mu.Unlock()
	a.logger.Errorw("avoidance permanently failed", "reason", reason)
	if a.hooks.OnFailure != nil {
		a.hooks.OnFailure(reason)
	}
}

// SetEnabled arms or disarms the machine. While disarmed the main loop
// neither starts episodes nor climbs the recovery ladder, so the drive is
// never touched; a maneuver already in flight runs to completion.
func (a *Avoider) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()
}

// Enabled reports whether detection is armed.
func (a *Avoider) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// State returns the current avoidance state.
func (a *Avoider) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// RecoveryAttempts returns the attempt counter for the current episode.
func (a *Avoider) RecoveryAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

// Failed reports whether recovery has been exhausted.
func (a *Avoider) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

// Detected returns the current obstacle descriptor.
func (a *Avoider) Detected() DetectedObstacle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detected
}

// Reset clears a failed episode after operator intervention.
func (a *Avoider) Reset() {
	a.mu.Lock()
	a.state = StateNormal
	a.attempts = 0
	a.failed = false
	a.detected = DetectedObstacle{}
	a.mu.Unlock()
}

// Close stops both loops.
func (a *Avoider) Close(ctx context.Context) error {
	a.cancel()
	a.activeBackgroundWorkers.Wait()
	return nil
}
