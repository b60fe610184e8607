// Package robot owns the top-level mode machine for the mower: it wires the
// planner, navigation controller, and obstacle avoider together and runs the
// safety supervisor that can preempt all of them.
package robot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/mowtion/mower"
	"github.com/mowtion/mower/avoidance"
	"github.com/mowtion/mower/navigation"
	"github.com/mowtion/mower/planner"
)

// Config tunes the supervisor and carries the sub-component configs.
type Config struct {
	Tick                 time.Duration `json:"tick"`
	CriticalBatteryVolts float64       `json:"critical_battery_volts"`
	LowBatteryVolts      float64       `json:"low_battery_volts"`
	MaxTiltDeg           float64       `json:"max_tilt_deg"`
	WaypointTimeout      time.Duration `json:"waypoint_timeout"`
	HomeTimeout          time.Duration `json:"home_timeout"`
	Adaptive             bool          `json:"adaptive"`

	Planner    planner.Config         `json:"planner"`
	Learning   planner.LearningConfig `json:"learning"`
	Navigation navigation.Config      `json:"navigation"`
	Avoidance  avoidance.Config       `json:"avoidance"`
}

func (c *Config) setDefaults() {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.CriticalBatteryVolts == 0 {
		c.CriticalBatteryVolts = 10.5
	}
	if c.LowBatteryVolts == 0 {
		c.LowBatteryVolts = 11.0
	}
	if c.MaxTiltDeg == 0 {
		c.MaxTiltDeg = 25
	}
	if c.WaypointTimeout <= 0 {
		c.WaypointTimeout = 300 * time.Second
	}
	if c.HomeTimeout <= 0 {
		c.HomeTimeout = 600 * time.Second
	}
}

// Deps are the injected hardware boundaries. Heading, Attitude, and
// Elevation may be nil; Clock defaults to the wall clock.
type Deps struct {
	Drive     mower.Drive
	Blade     mower.Blade
	Battery   mower.BatterySensor
	Position  mower.PositionProvider
	Heading   mower.HeadingProvider
	Signals   mower.ObstacleSignals
	Attitude  mower.AttitudeProvider
	Elevation planner.ElevationService
	Clock     clock.Clock
}

// Robot is the coordination core. All mode changes flow through it; the
// sub-components never change the mode themselves.
type Robot struct {
	cfg    Config
	zone   *Zone
	deps   Deps
	logger golog.Logger
	clock  clock.Clock

	planner *planner.Planner
	proj    *planner.Projection
	nav     *navigation.Controller
	avoider *avoidance.Avoider

	mu          sync.Mutex
	state       State
	errReason   string
	path        []r2.Point // pending waypoints in plane meters, current first
	completed   int
	bladeOn     bool
	lastBattery float64
	navCancel   func()
	navGen      uint64
	headingHome bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	started                 bool
}

// NewRobot builds the core from its config, zone document, and hardware
// dependencies. Start must be called to begin supervision.
func NewRobot(cfg Config, zone *Zone, deps Deps, logger golog.Logger) (*Robot, error) {
	cfg.setDefaults()
	if err := zone.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	r := &Robot{
		cfg:       cfg,
		zone:      zone,
		deps:      deps,
		logger:    logger,
		clock:     deps.Clock,
		state:     StateIdle,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}

	var err error
	r.planner, err = planner.NewPlanner(cfg.Learning, deps.Elevation, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	r.proj = zone.Projection()
	r.nav = navigation.NewController(
		cfg.Navigation, deps.Drive, deps.Position, deps.Heading, deps.Clock, logger)
	r.avoider = avoidance.NewAvoider(
		cfg.Avoidance,
		deps.Signals,
		deps.Drive,
		deps.Position,
		deps.Heading,
		r.planner,
		r.proj,
		avoidance.Hooks{
			Goal:      r.currentGoal,
			OnReplan:  r.splicePath,
			OnFailure: r.onAvoidanceFailure,
		},
		deps.Clock,
		logger,
	)
	return r, nil
}

// Start launches the safety supervisor and the obstacle monitor.
func (r *Robot) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.avoider.Start()
	r.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		r.superviseLoop(r.cancelCtx)
	}, r.activeBackgroundWorkers.Done)
}

// superviseLoop runs at the configured tick. Emergency conditions are
// checked before any mode bookkeeping so a critical battery or rollover
// always wins. The avoider is only armed while the robot is actually
// driving itself; a proximity signal while parked must not move the drive.
func (r *Robot) superviseLoop(ctx context.Context) {
	for goutils.SelectContextOrWait(ctx, r.cfg.Tick) {
		switch r.State() {
		case StateMowing, StateAvoiding, StateReturningHome:
			r.avoider.SetEnabled(true)
		default:
			r.avoider.SetEnabled(false)
		}
		if r.checkEmergency(ctx) {
			continue
		}
		switch r.State() {
		case StateMowing:
			if r.avoider.State() != avoidance.StateNormal {
				r.transition(StateAvoiding)
				r.interruptNav()
				continue
			}
			if r.lowBattery() {
				r.logger.Warnw("battery low, heading home",
					"volts", r.batterySnapshot())
				r.beginReturnHome()
			}
		case StateAvoiding:
			if r.avoider.Failed() {
				// onAvoidanceFailure already latched the error
				continue
			}
			if r.avoider.State() == avoidance.StateNormal {
				r.transition(StateMowing)
			}
		}
	}
}

// checkEmergency latches EMERGENCY_STOP when the battery is critical, the
// battery sensor fails, or the tilt exceeds the rollover limit. Returns
// true while the latch is held.
func (r *Robot) checkEmergency(ctx context.Context) bool {
	var reason string
	volts, err := r.deps.Battery.Voltage(ctx)
	switch {
	case err != nil:
		reason = errors.Wrap(err, "battery check failed").Error()
	case volts < r.cfg.CriticalBatteryVolts:
		reason = fmt.Sprintf("battery critically low: %.2fV", volts)
	}
	if err == nil {
		r.mu.Lock()
		r.lastBattery = volts
		r.mu.Unlock()
	}
	if reason == "" && r.deps.Attitude != nil {
		if tilt, ok := r.deps.Attitude.TiltDeg(ctx); ok && tilt > r.cfg.MaxTiltDeg {
			reason = fmt.Sprintf("tilt %.1f° exceeds limit %.1f°", tilt, r.cfg.MaxTiltDeg)
		}
	}
	if reason == "" {
		return r.State() == StateEmergencyStop
	}
	if r.State() == StateEmergencyStop {
		// re-assert the latch: a drive registered just after the first
		// cancellation still gets interrupted on the next tick
		r.interruptNav()
		return true
	}

	r.logger.Errorw("emergency stop", "reason", reason)
	r.mu.Lock()
	r.state = StateEmergencyStop
	r.errReason = reason
	navCancel := r.navCancel
	r.mu.Unlock()
	if navCancel != nil {
		navCancel()
	}
	if err := r.stopActuators(ctx); err != nil {
		r.logger.Errorw("emergency actuator stop failed", "error", err)
	}
	return true
}

// Initialize probes the safety-critical providers once at boot and returns
// to IDLE. A dead battery sensor or missing fix latches ERROR instead.
func (r *Robot) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return errors.Errorf("cannot initialize while %s", state)
	}
	r.state = StateInitializing
	r.mu.Unlock()

	volts, err := r.deps.Battery.Voltage(ctx)
	if err != nil {
		err = errors.Wrap(err, "battery probe failed")
		r.setError(err.Error())
		return err
	}
	if _, ok := r.deps.Position.Position(ctx); !ok {
		err := errors.New("no position fix at startup")
		r.setError(err.Error())
		return err
	}

	r.mu.Lock()
	r.lastBattery = volts
	if r.state == StateInitializing {
		r.state = StateIdle
	}
	r.mu.Unlock()
	r.logger.Infow("initialized", "volts", volts)
	return nil
}

// StartMowing plans coverage for the zone and begins driving it. Allowed
// from IDLE or DOCKED.
func (r *Robot) StartMowing(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle && r.state != StateDocked {
		state := r.state
		r.mu.Unlock()
		return errors.Errorf("cannot start mowing while %s", state)
	}
	r.state = StateInitializing
	r.mu.Unlock()

	cfg := r.cfg.Planner
	cfg.Boundary = r.zone.BoundaryPlanar(r.proj)
	if pose, ok := r.deps.Position.Position(ctx); ok {
		cfg.Start = r.proj.ToPlanar(pose.Latitude, pose.Longitude)
	}

	var (
		path []r2.Point
		err  error
	)
	if r.cfg.Adaptive {
		var pattern planner.PatternType
		path, pattern, err = r.planner.GenerateAdaptive(ctx, cfg)
		if err == nil {
			r.logger.Infow("pattern selected", "pattern", pattern.String())
		}
	} else {
		path, err = r.planner.GeneratePath(ctx, cfg)
	}
	if err != nil {
		r.setError(errors.Wrap(err, "path generation failed").Error())
		return err
	}
	if len(path) == 0 {
		err := errors.New("path generation failed: empty route")
		r.setError(err.Error())
		return err
	}

	r.mu.Lock()
	if r.state != StateInitializing {
		// an emergency latched while planning
		state := r.state
		r.mu.Unlock()
		return errors.Errorf("planning preempted while %s", state)
	}
	r.path = path
	r.completed = 0
	r.headingHome = false
	r.state = StateMowing
	r.mu.Unlock()
	r.logger.Infow("mowing started", "waypoints", len(path))

	r.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		r.mowLoop(r.cancelCtx)
	}, r.activeBackgroundWorkers.Done)
	return nil
}

// mowLoop drives the pending waypoints one by one. It pauses while the
// avoider owns the drive and exits when the mode leaves MOWING/AVOIDING.
func (r *Robot) mowLoop(ctx context.Context) {
	if err := r.setBlade(ctx, true); err != nil {
		r.setError(errors.Wrap(err, "blade start failed").Error())
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.setBlade(stopCtx, false); err != nil {
			r.logger.Errorw("blade stop failed", "error", err)
		}
	}()

	for {
		switch r.State() {
		case StateAvoiding:
			if !goutils.SelectContextOrWait(ctx, r.cfg.Tick) {
				return
			}
			continue
		case StateMowing:
		default:
			return
		}

		wp, ok := r.currentGoal()
		if !ok {
			r.logger.Infow("coverage complete", "waypoints", r.completedCount())
			r.beginReturnHome()
			return
		}
		lat, lng := r.proj.ToGeographic(wp)
		target := geo.NewPoint(lat, lng)

		navCtx, cancel := context.WithTimeout(ctx, r.cfg.WaypointTimeout)
		gen := r.setNavCancel(cancel)
		err := r.nav.NavigateTo(navCtx, target)
		r.clearNavCancel(gen)
		cancel()

		switch {
		case err == nil:
			r.advanceWaypoint()
		case errors.Is(err, context.DeadlineExceeded):
			r.logger.Warnw("waypoint timed out, skipping",
				"lat", target.Lat(), "lng", target.Lng())
			r.advanceWaypoint()
		case errors.Is(err, context.Canceled):
			if ctx.Err() != nil {
				// shutting down
				return
			}
			// preempted by a mode change; loop around and re-read it
		default:
			r.setError(errors.Wrap(err, "navigation failed").Error())
			return
		}
	}
}

// beginReturnHome flips the mode to RETURNING_HOME and launches the drive
// back to the dock. Safe to call more than once.
func (r *Robot) beginReturnHome() {
	r.mu.Lock()
	if r.headingHome || r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.headingHome = true
	r.state = StateReturningHome
	navCancel := r.navCancel
	r.mu.Unlock()
	if navCancel != nil {
		navCancel()
	}

	r.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		r.goHome(r.cancelCtx)
	}, r.activeBackgroundWorkers.Done)
}

func (r *Robot) goHome(ctx context.Context) {
	if r.State() != StateReturningHome {
		// preempted between the mode flip and the drive starting
		return
	}
	home := r.zone.HomePoint()
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.HomeTimeout)
	gen := r.setNavCancel(cancel)
	err := r.nav.NavigateTo(navCtx, home)
	r.clearNavCancel(gen)
	cancel()

	switch {
	case err == nil:
		r.transition(StateDocked)
		r.logger.Infow("docked", "lat", home.Lat(), "lng", home.Lng())
	case errors.Is(err, context.Canceled):
		// preempted by emergency or shutdown
	default:
		r.setError(errors.Wrap(err, "return home failed").Error())
	}
}

// currentGoal reports the waypoint being driven toward.
func (r *Robot) currentGoal() (r2.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.path) == 0 {
		return r2.Point{}, false
	}
	return r.path[0], true
}

func (r *Robot) advanceWaypoint() {
	r.mu.Lock()
	if len(r.path) > 0 {
		r.path = r.path[1:]
		r.completed++
	}
	r.mu.Unlock()
}

// splicePath replaces the route to the current waypoint with a detour while
// keeping the rest of the plan.
func (r *Robot) splicePath(route []r2.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.path) == 0 {
		r.path = append([]r2.Point{}, route...)
		return
	}
	spliced := make([]r2.Point, 0, len(route)+len(r.path)-1)
	spliced = append(spliced, route...)
	spliced = append(spliced, r.path[1:]...)
	r.path = spliced
	r.logger.Debugw("path spliced", "detour", len(route), "pending", len(r.path))
}

func (r *Robot) onAvoidanceFailure(reason string) {
	r.setError("obstacle avoidance exhausted: " + reason)
}

// ReturnHome sends the mower back to the dock on demand.
func (r *Robot) ReturnHome(ctx context.Context) error {
	switch r.State() {
	case StateMowing, StateAvoiding, StateIdle:
		r.beginReturnHome()
		return nil
	default:
		return errors.Errorf("cannot return home while %s", r.State())
	}
}

// EnableManualControl hands the drive to the operator. Allowed from IDLE or
// DOCKED.
func (r *Robot) EnableManualControl() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle && r.state != StateDocked {
		return errors.Errorf("cannot enter manual control while %s", r.state)
	}
	r.state = StateManualControl
	return nil
}

// ManualDrive forwards a steering/throttle pair while in manual control.
func (r *Robot) ManualDrive(ctx context.Context, steering, throttle float64) error {
	if r.State() != StateManualControl {
		return errors.Errorf("not in manual control (%s)", r.State())
	}
	return r.deps.Drive.SetSteeringThrottle(ctx, steering, throttle)
}

// DisableManualControl stops the drive and returns to IDLE.
func (r *Robot) DisableManualControl(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateManualControl {
		state := r.state
		r.mu.Unlock()
		return errors.Errorf("not in manual control (%s)", state)
	}
	r.state = StateIdle
	r.mu.Unlock()
	return r.deps.Drive.Stop(ctx)
}

// ClearError acknowledges a latched ERROR and returns to IDLE. The avoider
// is reset so a fresh episode can start.
func (r *Robot) ClearError() error {
	r.mu.Lock()
	if r.state != StateError {
		state := r.state
		r.mu.Unlock()
		return errors.Errorf("no error latched (%s)", state)
	}
	r.state = StateIdle
	r.errReason = ""
	r.headingHome = false
	r.mu.Unlock()
	r.avoider.Reset()
	return nil
}

// ClearEmergency releases EMERGENCY_STOP after re-checking the trigger
// conditions. It fails while the condition persists.
func (r *Robot) ClearEmergency(ctx context.Context) error {
	if r.State() != StateEmergencyStop {
		return errors.Errorf("no emergency latched (%s)", r.State())
	}
	volts, err := r.deps.Battery.Voltage(ctx)
	if err != nil {
		return errors.Wrap(err, "battery check failed")
	}
	if volts < r.cfg.CriticalBatteryVolts {
		return errors.Errorf("battery still critical: %.2fV", volts)
	}
	if r.deps.Attitude != nil {
		if tilt, ok := r.deps.Attitude.TiltDeg(ctx); ok && tilt > r.cfg.MaxTiltDeg {
			return errors.Errorf("tilt still excessive: %.1f°", tilt)
		}
	}
	r.mu.Lock()
	r.state = StateIdle
	r.errReason = ""
	r.headingHome = false
	r.lastBattery = volts
	r.mu.Unlock()
	r.avoider.Reset()
	return nil
}

// Status returns a snapshot for UI and telemetry consumers.
func (r *Robot) Status(ctx context.Context) mower.Status {
	pose, _ := r.deps.Position.Position(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	return mower.Status{
		Mode:           r.state.String(),
		Error:          r.errReason,
		Position:       pose,
		BatteryVolts:   r.lastBattery,
		BladeOn:        r.bladeOn,
		WaypointsDone:  r.completed,
		WaypointsTotal: r.completed + len(r.path),
	}
}

// State reports the current mode.
func (r *Robot) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ErrorReason reports the latched error text, if any.
func (r *Robot) ErrorReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errReason
}

// PathGeoPoints returns the pending waypoints as geographic coordinates.
func (r *Robot) PathGeoPoints() []*geo.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*geo.Point, 0, len(r.path))
	for _, wp := range r.path {
		lat, lng := r.proj.ToGeographic(wp)
		out = append(out, geo.NewPoint(lat, lng))
	}
	return out
}

func (r *Robot) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *Robot) batterySnapshot() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBattery
}

func (r *Robot) lowBattery() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBattery > 0 && r.lastBattery < r.cfg.LowBatteryVolts
}

// setError latches ERROR, stops the actuators, and interrupts any active
// navigation. EMERGENCY_STOP is never downgraded.
func (r *Robot) setError(reason string) {
	r.mu.Lock()
	if r.state == StateEmergencyStop {
		r.mu.Unlock()
		return
	}
	r.state = StateError
	r.errReason = reason
	navCancel := r.navCancel
	r.mu.Unlock()
	if navCancel != nil {
		navCancel()
	}
	r.logger.Errorw("error latched", "reason", reason)
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.stopActuators(stopCtx); err != nil {
		r.logger.Errorw("actuator stop failed", "error", err)
	}
}

func (r *Robot) transition(to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() || r.state == to {
		return
	}
	r.state = to
}

// setNavCancel makes cancel the interruptible drive and returns a
// generation token. The mow loop and the go-home drive can race over this
// slot when a return preempts mowing, so clearing is token-guarded: only
// the drive that stored a cancel may remove it, never a later owner's.
func (r *Robot) setNavCancel(cancel func()) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navGen++
	r.navCancel = cancel
	return r.navGen
}

func (r *Robot) clearNavCancel(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.navGen == gen {
		r.navCancel = nil
	}
}

func (r *Robot) interruptNav() {
	r.mu.Lock()
	navCancel := r.navCancel
	r.mu.Unlock()
	if navCancel != nil {
		navCancel()
	}
}

func (r *Robot) setBlade(ctx context.Context, on bool) error {
	if err := r.deps.Blade.SetBlade(ctx, on); err != nil {
		return err
	}
	r.mu.Lock()
	r.bladeOn = on
	r.mu.Unlock()
	return nil
}

func (r *Robot) stopActuators(ctx context.Context) error {
	return multierr.Combine(
		r.deps.Drive.Stop(ctx),
		r.setBlade(ctx, false),
	)
}

// Close shuts down the supervisor, the avoider, and the planner, and leaves
// the actuators stopped.
func (r *Robot) Close(ctx context.Context) error {
	r.cancel()
	r.interruptNav()
	r.activeBackgroundWorkers.Wait()
	err := multierr.Combine(
		r.avoider.Close(ctx),
		r.planner.Close(ctx),
	)
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return multierr.Combine(err, r.stopActuators(stopCtx))
}
