package avoidance

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/mowtion/mower"
	"github.com/mowtion/mower/planner"
	"github.com/mowtion/mower/testutils/inject"
)

func fastConfig() Config {
	return Config{
		Tick:            2 * time.Millisecond,
		MonitorInterval: 2 * time.Millisecond,
		BackupPause:     time.Millisecond,
		BackupSpeedMPS:  300, // reverse completes in one wait
		TurnTimeout:     2 * time.Second,
	}
}

// spinningHeading simulates a robot that actually rotates when commanded:
// every read advances the heading.
func spinningHeading() *inject.HeadingProvider {
	var mu sync.Mutex
	h := 0.0
	return &inject.HeadingProvider{
		HeadingFunc: func(ctx context.Context) (float64, bool) {
			mu.Lock()
			defer mu.Unlock()
			h += 15
			return math.Mod(h, 360), true
		},
	}
}

type fakeReplanner struct {
	mu         sync.Mutex
	registered []planner.Obstacle
	route      []r2.Point
}

func (f *fakeReplanner) RegisterObstacle(pos r2.Point, radius float64, source string) planner.Obstacle {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs := planner.Obstacle{Position: pos, Radius: radius, Source: source}
	f.registered = append(f.registered, obs)
	return obs
}

func (f *fakeReplanner) Replan(start, goal r2.Point) []r2.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.route
}

type signalState struct {
	mu    sync.Mutex
	left  bool
	right bool
	cam   bool
	drop  bool
}

func (s *signalState) set(left, right, cam, drop bool) {
	s.mu.Lock()
	s.left, s.right, s.cam, s.drop = left, right, cam, drop
	s.mu.Unlock()
}

func (s *signalState) signals() *inject.ObstacleSignals {
	read := func(field *bool) func(context.Context) bool {
		return func(ctx context.Context) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return *field
		}
	}
	return &inject.ObstacleSignals{
		LeftProximityFunc:  read(&s.left),
		RightProximityFunc: read(&s.right),
		CameraObstacleFunc: read(&s.cam),
		CameraDropoffFunc:  read(&s.drop),
		RefreshFunc:        func(ctx context.Context) error { return nil },
	}
}

func staticPosition(lat, lng, heading float64) *inject.PositionProvider {
	return &inject.PositionProvider{
		PositionFunc: func(ctx context.Context) (mower.Pose, bool) {
			return mower.Pose{
				Latitude: lat, Longitude: lng, Heading: heading,
				LastUpdate: time.Now(),
			}, true
		},
	}
}

func newTestAvoider(
	t *testing.T,
	sigs *signalState,
	drive *inject.Drive,
	replanner Replanner,
	hooks Hooks,
) *Avoider {
	t.Helper()
	return NewAvoider(
		fastConfig(),
		sigs.signals(),
		drive,
		staticPosition(45, 9, 0),
		spinningHeading(),
		replanner,
		planner.NewProjection(45, 9),
		hooks,
		nil,
		golog.NewTestLogger(t),
	)
}

func TestLeftProximityTurnsRightFirst(t *testing.T) {
	sigs := &signalState{}
	sigs.set(true, false, false, false)
	drive := &inject.Drive{}
	a := newTestAvoider(t, sigs, drive, &fakeReplanner{}, Hooks{})

	sigs.set(false, false, false, false) // clears while the turn runs
	a.beginAvoidance(context.Background(), DetectedObstacle{Left: true})

	commands := drive.Commands()
	test.That(t, len(commands), test.ShouldBeGreaterThan, 0)
	// a right turn, not a backup: positive steering, no reverse throttle
	test.That(t, commands[0].Steering, test.ShouldEqual, 1.0)
	test.That(t, commands[0].Throttle, test.ShouldBeGreaterThanOrEqualTo, 0)

	test.That(t, a.State(), test.ShouldEqual, StateNormal)
	test.That(t, a.RecoveryAttempts(), test.ShouldEqual, 0)
}

func TestRightProximityTurnsLeft(t *testing.T) {
	sigs := &signalState{}
	drive := &inject.Drive{}
	a := newTestAvoider(t, sigs, drive, &fakeReplanner{}, Hooks{})

	a.beginAvoidance(context.Background(), DetectedObstacle{Right: true})

	commands := drive.Commands()
	test.That(t, len(commands), test.ShouldBeGreaterThan, 0)
	test.That(t, commands[0].Steering, test.ShouldEqual, -1.0)
}

func TestCameraObstacleBacksUp(t *testing.T) {
	sigs := &signalState{}
	drive := &inject.Drive{}
	a := newTestAvoider(t, sigs, drive, &fakeReplanner{}, Hooks{})

	a.beginAvoidance(context.Background(), DetectedObstacle{CameraObstacle: true})

	commands := drive.Commands()
	// the backup maneuver ends with a reverse command
	var sawReverse bool
	for _, cmd := range commands {
		if cmd.Throttle < 0 {
			sawReverse = true
		}
	}
	test.That(t, sawReverse, test.ShouldBeTrue)
}

func TestRecoveryExhaustionReportsOnce(t *testing.T) {
	sigs := &signalState{}
	sigs.set(true, false, true, false) // never clears
	drive := &inject.Drive{}

	var mu sync.Mutex
	failures := 0
	hooks := Hooks{
		Goal:      func() (r2.Point, bool) { return r2.Point{X: 8, Y: 0}, true },
		OnFailure: func(reason string) { mu.Lock(); failures++; mu.Unlock() },
	}
	a := newTestAvoider(t, sigs, drive, &fakeReplanner{}, hooks) // empty route

	ctx := context.Background()
	a.beginAvoidance(ctx, DetectedObstacle{Left: true, CameraObstacle: true})
	test.That(t, a.State(), test.ShouldEqual, StateRecovery)

	for i := 0; i < 6; i++ {
		a.attemptRecovery(ctx)
	}
	test.That(t, a.Failed(), test.ShouldBeTrue)
	test.That(t, a.RecoveryAttempts(), test.ShouldEqual, a.cfg.MaxRecoveryAttempts)

	mu.Lock()
	defer mu.Unlock()
	test.That(t, failures, test.ShouldEqual, 1)
}

func TestAlternativeRouteRegistersObstacleAndReplans(t *testing.T) {
	sigs := &signalState{}
	sigs.set(true, false, false, false)
	drive := &inject.Drive{}
	replanner := &fakeReplanner{route: []r2.Point{{X: 0, Y: 0}, {X: 8, Y: 0}}}

	var mu sync.Mutex
	var delivered []r2.Point
	hooks := Hooks{
		Goal:     func() (r2.Point, bool) { return r2.Point{X: 8, Y: 0}, true },
		OnReplan: func(path []r2.Point) { mu.Lock(); delivered = path; mu.Unlock() },
	}
	a := newTestAvoider(t, sigs, drive, replanner, hooks)

	ctx := context.Background()
	a.beginAvoidance(ctx, DetectedObstacle{Left: true})
	// burn the turn and backup rungs
	a.attemptRecovery(ctx)
	a.attemptRecovery(ctx)
	test.That(t, a.RecoveryAttempts(), test.ShouldEqual, 2)

	// third rung: alternative route succeeds and resets the episode
	a.attemptRecovery(ctx)
	test.That(t, a.State(), test.ShouldEqual, StateNormal)
	test.That(t, a.RecoveryAttempts(), test.ShouldEqual, 0)

	replanner.mu.Lock()
	test.That(t, replanner.registered, test.ShouldHaveLength, 1)
	test.That(t, replanner.registered[0].Source, test.ShouldEqual, "left-proximity")
	// the estimate is the configured forward offset from the pose, in meters
	test.That(t, replanner.registered[0].Position.Norm(), test.ShouldAlmostEqual, 0.5, 0.05)
	replanner.mu.Unlock()

	mu.Lock()
	test.That(t, delivered, test.ShouldHaveLength, 2)
	mu.Unlock()
}

func TestMonitorLoopDetects(t *testing.T) {
	sigs := &signalState{}
	drive := &inject.Drive{}
	a := newTestAvoider(t, sigs, drive, &fakeReplanner{}, Hooks{})
	a.Start()
	a.SetEnabled(true)
	defer a.Close(context.Background())

	test.That(t, a.State(), test.ShouldEqual, StateNormal)
	sigs.set(true, false, false, false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() != StateNormal {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("avoider never left normal state")
}

func TestDisarmedIgnoresSignals(t *testing.T) {
	sigs := &signalState{}
	drive := &inject.Drive{}
	a := newTestAvoider(t, sigs, drive, &fakeReplanner{}, Hooks{})
	a.Start()
	defer a.Close(context.Background())

	// never armed: even a persistent signal must not move the drive
	sigs.set(true, false, false, false)
	time.Sleep(50 * time.Millisecond)

	test.That(t, a.State(), test.ShouldEqual, StateNormal)
	test.That(t, drive.Commands(), test.ShouldHaveLength, 0)
	test.That(t, drive.Stops(), test.ShouldEqual, 0)
}

func TestResetClearsEpisode(t *testing.T) {
	sigs := &signalState{}
	drive := &inject.Drive{}
	a := newTestAvoider(t, sigs, drive, &fakeReplanner{}, Hooks{})
	a.beginAvoidance(context.Background(), DetectedObstacle{CameraDropoff: true})

	a.mu.Lock()
	a.failed = true
	a.attempts = 3
	a.mu.Unlock()

	a.Reset()
	test.That(t, a.State(), test.ShouldEqual, StateNormal)
	test.That(t, a.RecoveryAttempts(), test.ShouldEqual, 0)
	test.That(t, a.Failed(), test.ShouldBeFalse)
}
