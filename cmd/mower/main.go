// Package main runs the mower coordination core against either a simulated
// rig or a serial GPS receiver, and serves the operator API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"math"
	"os"
	"sync"
	"time"

	"github.com/edaniels/golog"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.viam.com/utils"

	"github.com/mowtion/mower"
	"github.com/mowtion/mower/robot"
	"github.com/mowtion/mower/robot/web"
	"github.com/mowtion/mower/sensors/gpsnmea"
)

var logger = golog.NewDevelopmentLogger("mower")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

type appConfig struct {
	Zone    string          `json:"zone"`
	Web     web.Options     `json:"web"`
	GPS     *gpsnmea.Config `json:"gps,omitempty"`
	AutoMow bool            `json:"auto_mow"`
	Robot   robot.Config    `json:"robot"`
}

func readConfig(path string) (*appConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config")
	}
	var cfg appConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "corrupt config")
	}
	if cfg.Zone == "" {
		return nil, errors.New("config needs a zone document path")
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	return &cfg, nil
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flagSet := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := flagSet.String("config", "mower.json", "path to the app config")
	production := flagSet.Bool("production", false, "use JSON log output")
	if err := flagSet.Parse(args[1:]); err != nil {
		return err
	}

	if *production {
		zlogger, err := zap.NewProductionConfig().Build()
		if err != nil {
			return err
		}
		logger = zlogger.Sugar()
	}

	cfg, err := readConfig(*configPath)
	if err != nil {
		return err
	}
	zone, err := robot.LoadZone(cfg.Zone)
	if err != nil {
		return err
	}

	rig := newSimRig(zone.Home.Lat, zone.Home.Lng)
	deps := robot.Deps{
		Drive:    rig,
		Blade:    rig,
		Battery:  rig,
		Position: rig,
		Heading:  rig,
		Signals:  rig,
	}

	if cfg.GPS != nil {
		gps, err := gpsnmea.NewSerial(*cfg.GPS, logger)
		if err != nil {
			return err
		}
		gps.Start()
		defer func() {
			if err := gps.Close(); err != nil {
				logger.Errorw("gps close failed", "error", err)
			}
		}()
		deps.Position = gps
		deps.Heading = gps

		// give the receiver a moment to produce the first fix
		warmup, cancel := context.WithTimeout(ctx, 10*time.Second)
		for {
			if _, ok := gps.Position(warmup); ok {
				break
			}
			if !utils.SelectContextOrWait(warmup, 100*time.Millisecond) {
				break
			}
		}
		cancel()
	}

	r, err := robot.NewRobot(cfg.Robot, zone, deps, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(context.Background()); err != nil {
			logger.Errorw("robot close failed", "error", err)
		}
	}()
	if err := r.Initialize(ctx); err != nil {
		return err
	}
	r.Start()

	if cfg.AutoMow {
		if err := r.StartMowing(ctx); err != nil {
			return err
		}
	}

	return web.RunWeb(ctx, r, cfg.Web, logger)
}

const (
	simSpeedMPS     = 0.5  // forward speed at full throttle
	simTurnRateDps  = 90   // yaw rate at full steering
	simFullVolts    = 12.6 // fresh pack
	simDrainPerHour = 0.5  // volts per hour of runtime
)

// simRig is a kinematic stand-in for the whole mower: position integrates
// the commanded steering and throttle between reads.
type simRig struct {
	mu       sync.Mutex
	point    *geo.Point
	heading  float64
	steering float64
	throttle float64
	blade    bool
	started  time.Time
	last     time.Time
}

func newSimRig(lat, lng float64) *simRig {
	now := time.Now()
	return &simRig{
		point:   geo.NewPoint(lat, lng),
		started: now,
		last:    now,
	}
}

// step advances the model to now. Callers hold the mutex.
func (s *simRig) step() {
	now := time.Now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 {
		return
	}
	s.heading = math.Mod(s.heading+s.steering*simTurnRateDps*dt+360, 360)
	distKm := s.throttle * simSpeedMPS * dt / 1000.0
	if distKm != 0 {
		s.point = s.point.PointAtDistanceAndBearing(distKm, s.heading)
	}
}

func (s *simRig) SetSteeringThrottle(ctx context.Context, steering, throttle float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.steering = steering
	s.throttle = throttle
	return nil
}

func (s *simRig) Stop(ctx context.Context) error {
	return s.SetSteeringThrottle(ctx, 0, 0)
}

func (s *simRig) SetBlade(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.blade = on
	s.mu.Unlock()
	return nil
}

func (s *simRig) Voltage(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hours := time.Since(s.started).Hours()
	return simFullVolts - simDrainPerHour*hours, nil
}

func (s *simRig) Position(ctx context.Context) (mower.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return mower.Pose{
		Latitude:   s.point.Lat(),
		Longitude:  s.point.Lng(),
		Heading:    s.heading,
		LastUpdate: s.last,
	}, true
}

func (s *simRig) Heading(ctx context.Context) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return s.heading, true
}

func (s *simRig) LeftProximity(ctx context.Context) bool  { return false }
func (s *simRig) RightProximity(ctx context.Context) bool { return false }
func (s *simRig) CameraObstacle(ctx context.Context) bool { return false }
func (s *simRig) CameraDropoff(ctx context.Context) bool  { return false }
func (s *simRig) Refresh(ctx context.Context) error       { return nil }
