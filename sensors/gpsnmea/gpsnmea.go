// Package gpsnmea reads NMEA 0183 sentences from a serial GPS receiver and
// serves the latest fix as a position provider.
package gpsnmea

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	goutils "go.viam.com/utils"

	"github.com/mowtion/mower"
)

// Config selects the serial device.
type Config struct {
	Path string `json:"path"`
	Baud int    `json:"baud"`
}

// Validate ensures the config names a device.
func (c *Config) Validate(path string) error {
	if c.Path == "" {
		return goutils.NewConfigValidationError(path, errors.New("path must name a serial device"))
	}
	return nil
}

// Sensor parses a stream of NMEA sentences into a cached pose. It
// implements the position and heading provider contracts; reads never block
// on the device.
type Sensor struct {
	dev    io.ReadCloser
	logger golog.Logger

	mu         sync.RWMutex
	pose       mower.Pose
	valid      bool
	hasHeading bool
	satsInUse  int

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	started                 bool
}

// NewSerial opens the configured serial device. Start must be called to
// begin reading.
func NewSerial(cfg Config, logger golog.Logger) (*Sensor, error) {
	if err := cfg.Validate("gps"); err != nil {
		return nil, err
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open gps serial %q", cfg.Path)
	}
	return NewFromReader(port, logger), nil
}

// NewFromReader wraps an already-open sentence stream.
func NewFromReader(dev io.ReadCloser, logger golog.Logger) *Sensor {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Sensor{
		dev:        dev,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// Start launches the reader loop.
func (g *Sensor) Start() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	g.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer g.activeBackgroundWorkers.Done()
		r := bufio.NewReader(g.dev)
		for {
			select {
			case <-g.cancelCtx.Done():
				return
			default:
			}

			line, err := r.ReadString('\n')
			if err != nil {
				if g.cancelCtx.Err() == nil && !errors.Is(err, io.EOF) {
					g.logger.Errorw("can't read gps serial", "error", err)
				}
				return
			}
			if err := g.parseAndUpdate(line); err != nil {
				g.logger.Debugw("can't parse nmea", "line", line, "error", err)
			}
		}
	})
}

// parseAndUpdate folds one sentence into the cached fix. Sentences with a
// bad checksum or an unknown talker come back as errors. Invalid fixes (RMC
// "V", GGA quality 0) leave the cached fix in place with its old timestamp:
// a receiver dropping a sentence or two mid-lawn must not blank the
// position, and a receiver that stays dark trips the consumer's staleness
// timeout instead.
func (g *Sensor) parseAndUpdate(line string) error {
	s, err := nmea.Parse(line)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return nil
		}
		g.pose.Latitude = m.Latitude
		g.pose.Longitude = m.Longitude
		if m.Speed > 0 {
			g.pose.Heading = m.Course
			g.hasHeading = true
		}
		g.pose.LastUpdate = time.Now()
		g.valid = true
	case nmea.GGA:
		if m.FixQuality == "0" {
			return nil
		}
		g.pose.Latitude = m.Latitude
		g.pose.Longitude = m.Longitude
		g.pose.Altitude = m.Altitude
		g.pose.Accuracy = m.HDOP
		g.pose.LastUpdate = time.Now()
		g.satsInUse = int(m.NumSatellites)
		g.valid = true
	case nmea.GLL:
		if m.Validity != nmea.ValidGLL {
			return nil
		}
		g.pose.Latitude = m.Latitude
		g.pose.Longitude = m.Longitude
		g.pose.LastUpdate = time.Now()
		g.valid = true
	case nmea.VTG:
		g.pose.Heading = m.TrueTrack
		g.hasHeading = true
	}
	return nil
}

// Position reports the latest cached fix.
func (g *Sensor) Position(ctx context.Context) (mower.Pose, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pose, g.valid
}

// Heading reports the last course over ground, when one has been seen.
func (g *Sensor) Heading(ctx context.Context) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pose.Heading, g.hasHeading
}

// Satellites reports how many satellites the last GGA fix used.
func (g *Sensor) Satellites(ctx context.Context) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.satsInUse
}

// Close stops the reader and closes the device.
func (g *Sensor) Close() error {
	g.cancelFunc()
	err := g.dev.Close()
	g.activeBackgroundWorkers.Wait()
	return err
}
