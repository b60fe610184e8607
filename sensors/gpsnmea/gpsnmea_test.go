package gpsnmea

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

const (
	rmcValid    = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"
	rmcNoFix    = "$GPRMC,123520,V,4807.038,N,01131.000,E,000.0,084.4,230394,003.1,W*73\r\n"
	ggaValid    = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"
	vtgValid    = "$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48\r\n"
	gllValid    = "$GPGLL,4916.45,N,12311.12,W,225444,A*31\r\n"
	badChecksum = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00\r\n"
)

func newBareSensor(t *testing.T) *Sensor {
	t.Helper()
	return NewFromReader(io.NopCloser(strings.NewReader("")), golog.NewTestLogger(t))
}

func TestParseRMC(t *testing.T) {
	g := newBareSensor(t)

	test.That(t, g.parseAndUpdate(rmcValid), test.ShouldBeNil)
	pose, ok := g.Position(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Latitude, test.ShouldAlmostEqual, 48.1173, 1e-4)
	test.That(t, pose.Longitude, test.ShouldAlmostEqual, 11.5167, 1e-4)
	test.That(t, pose.LastUpdate.IsZero(), test.ShouldBeFalse)

	heading, ok := g.Heading(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, heading, test.ShouldAlmostEqual, 84.4, 1e-9)

	// a void fix mid-stream keeps serving the last good one; the old
	// timestamp lets the consumer's staleness timeout judge a dead receiver
	stamp := pose.LastUpdate
	test.That(t, g.parseAndUpdate(rmcNoFix), test.ShouldBeNil)
	pose, ok = g.Position(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Latitude, test.ShouldAlmostEqual, 48.1173, 1e-4)
	test.That(t, pose.LastUpdate.Equal(stamp), test.ShouldBeTrue)
}

func TestVoidSentencesBeforeFirstFix(t *testing.T) {
	// with nothing cached yet, a void sentence is still no fix at all
	g := newBareSensor(t)
	test.That(t, g.parseAndUpdate(rmcNoFix), test.ShouldBeNil)
	_, ok := g.Position(context.Background())
	test.That(t, ok, test.ShouldBeFalse)
}

func TestParseGGA(t *testing.T) {
	g := newBareSensor(t)

	test.That(t, g.parseAndUpdate(ggaValid), test.ShouldBeNil)
	pose, ok := g.Position(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Altitude, test.ShouldAlmostEqual, 545.4, 1e-9)
	test.That(t, pose.Accuracy, test.ShouldAlmostEqual, 0.9, 1e-9)
	test.That(t, g.Satellites(context.Background()), test.ShouldEqual, 8)
}

func TestParseVTGAndGLL(t *testing.T) {
	g := newBareSensor(t)

	_, ok := g.Heading(context.Background())
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, g.parseAndUpdate(vtgValid), test.ShouldBeNil)
	heading, ok := g.Heading(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, heading, test.ShouldAlmostEqual, 54.7, 1e-9)

	// a heading alone is not a fix
	_, ok = g.Position(context.Background())
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, g.parseAndUpdate(gllValid), test.ShouldBeNil)
	pose, ok := g.Position(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Latitude, test.ShouldAlmostEqual, 49.274167, 1e-5)
	test.That(t, pose.Longitude, test.ShouldAlmostEqual, -123.185333, 1e-5)
}

func TestBadChecksumRejected(t *testing.T) {
	g := newBareSensor(t)
	test.That(t, g.parseAndUpdate(badChecksum), test.ShouldNotBeNil)
	_, ok := g.Position(context.Background())
	test.That(t, ok, test.ShouldBeFalse)
}

func TestStreamedSentences(t *testing.T) {
	pr, pw := io.Pipe()
	g := NewFromReader(pr, golog.NewTestLogger(t))
	g.Start()
	defer func() {
		test.That(t, g.Close(), test.ShouldBeNil)
	}()

	go func() {
		// a corrupt line mid-stream is skipped, not fatal
		for _, line := range []string{ggaValid, badChecksum, rmcValid} {
			if _, err := pw.Write([]byte(line)); err != nil {
				return
			}
		}
		pw.Close()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h, ok := g.Heading(context.Background()); ok && h > 84 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	pose, ok := g.Position(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Latitude, test.ShouldAlmostEqual, 48.1173, 1e-4)
	test.That(t, pose.Altitude, test.ShouldAlmostEqual, 545.4, 1e-9)
}
