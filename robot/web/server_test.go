package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/mowtion/mower"
	"github.com/mowtion/mower/planner"
	"github.com/mowtion/mower/robot"
	"github.com/mowtion/mower/robot/web"
	"github.com/mowtion/mower/testutils/inject"
)

func newWebRobot(t *testing.T) *robot.Robot {
	t.Helper()
	var mu sync.Mutex
	r, err := robot.NewRobot(
		robot.Config{
			Tick: 2 * time.Millisecond,
			Planner: planner.Config{
				Pattern: planner.PatternParallel,
				Spacing: 0.5, // meters
			},
		},
		&robot.Zone{
			Boundary: []robot.LatLng{
				{Lat: 45.0, Lng: 9.0},
				{Lat: 45.0, Lng: 9.00002},
				{Lat: 45.00002, Lng: 9.00002},
				{Lat: 45.00002, Lng: 9.0},
			},
			Home: robot.LatLng{Lat: 45.0, Lng: 9.0},
		},
		robot.Deps{
			Drive: &inject.Drive{},
			Blade: &inject.Blade{},
			Battery: &inject.BatterySensor{
				VoltageFunc: func(ctx context.Context) (float64, error) { return 12.6, nil },
			},
			Position: &inject.PositionProvider{
				PositionFunc: func(ctx context.Context) (mower.Pose, bool) {
					mu.Lock()
					defer mu.Unlock()
					return mower.Pose{Latitude: 45.00001, Longitude: 9.00001, LastUpdate: time.Now()}, true
				},
			},
			Signals: &inject.ObstacleSignals{
				LeftProximityFunc:  func(ctx context.Context) bool { return false },
				RightProximityFunc: func(ctx context.Context) bool { return false },
				CameraObstacleFunc: func(ctx context.Context) bool { return false },
				CameraDropoffFunc:  func(ctx context.Context) bool { return false },
				RefreshFunc:        func(ctx context.Context) error { return nil },
			},
		},
		golog.NewTestLogger(t),
	)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, r.Close(context.Background()), test.ShouldBeNil)
	})
	return r
}

func TestStatusEndpoint(t *testing.T) {
	server := httptest.NewServer(web.NewMux(newWebRobot(t)))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/status")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var status mower.Status
	test.That(t, json.NewDecoder(resp.Body).Decode(&status), test.ShouldBeNil)
	test.That(t, status.Mode, test.ShouldEqual, "IDLE")
	test.That(t, status.Position.Latitude, test.ShouldAlmostEqual, 45.00001, 1e-9)
}

func TestMowAndPathEndpoints(t *testing.T) {
	r := newWebRobot(t)
	r.Start()
	server := httptest.NewServer(web.NewMux(r))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/mow", "application/json", nil)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	resp, err = http.Get(server.URL + "/api/path")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var points []map[string]float64
	test.That(t, json.NewDecoder(resp.Body).Decode(&points), test.ShouldBeNil)
	for _, p := range points {
		test.That(t, p["lat"], test.ShouldBeBetween, 44.999999, 45.000021)
		test.That(t, p["lng"], test.ShouldBeBetween, 8.999999, 9.000021)
	}
}

func TestMowConflictWhileBusy(t *testing.T) {
	r := newWebRobot(t)
	test.That(t, r.EnableManualControl(), test.ShouldBeNil)
	server := httptest.NewServer(web.NewMux(r))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/mow", "application/json", nil)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusConflict)

	var body map[string]string
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, body["error"], test.ShouldContainSubstring, "MANUAL_CONTROL")
}

func TestClearEndpoint(t *testing.T) {
	r := newWebRobot(t)
	server := httptest.NewServer(web.NewMux(r))
	defer server.Close()

	// nothing latched yet
	resp, err := http.Post(server.URL+"/api/clear", "application/json", nil)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusConflict)
}
