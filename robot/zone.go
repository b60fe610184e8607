package robot

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r2"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"

	"github.com/mowtion/mower/planner"
)

// LatLng is one geographic coordinate in a persisted document.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Schedule lists when the mower is allowed to run.
type Schedule struct {
	Days  []string `json:"days"`
	Hours []int    `json:"hours"`
}

// Zone is the persisted yard document: boundary polygon, home point, and
// mowing schedule. It is read at planning start and not re-read
// mid-session.
type Zone struct {
	Boundary []LatLng `json:"boundary"`
	Home     LatLng   `json:"home"`
	Schedule Schedule `json:"schedule"`
}

// LoadZone reads and validates a zone document.
func LoadZone(path string) (*Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read zone document")
	}
	var zone Zone
	if err := json.Unmarshal(data, &zone); err != nil {
		return nil, errors.Wrap(err, "corrupt zone document")
	}
	if err := zone.Validate(); err != nil {
		return nil, err
	}
	return &zone, nil
}

// Validate ensures the zone describes a usable yard.
func (z *Zone) Validate() error {
	if len(z.Boundary) < 3 {
		return errors.New("zone boundary needs at least 3 points")
	}
	return nil
}

// Projection returns a metric tangent plane anchored at the home point.
// All planning for this zone happens in that plane.
func (z *Zone) Projection() *planner.Projection {
	return planner.NewProjection(z.Home.Lat, z.Home.Lng)
}

// BoundaryPlanar projects the boundary into proj's plane, in meters.
func (z *Zone) BoundaryPlanar(proj *planner.Projection) []r2.Point {
	out := make([]r2.Point, 0, len(z.Boundary))
	for _, p := range z.Boundary {
		out = append(out, proj.ToPlanar(p.Lat, p.Lng))
	}
	return out
}

// HomePoint returns the docking location.
func (z *Zone) HomePoint() *geo.Point {
	return geo.NewPoint(z.Home.Lat, z.Home.Lng)
}
