package planner

import (
	"math"

	"github.com/golang/geo/r2"
)

const earthRadiusM = 6371000

// Projection maps geographic coordinates onto a local tangent plane in
// meters, anchored at an origin inside the yard. Every planar quantity the
// planner handles (spacing, obstacle radii, path lengths) lives in this
// plane, so pattern parameters are real meters and slope checks divide
// meters by meters. The flat-earth approximation is accurate well past
// yard scale.
type Projection struct {
	originLat  float64
	originLng  float64
	mPerDegLat float64
	mPerDegLng float64
}

// NewProjection anchors a tangent plane at the given origin.
func NewProjection(originLat, originLng float64) *Projection {
	mPerDeg := earthRadiusM * math.Pi / 180
	return &Projection{
		originLat:  originLat,
		originLng:  originLng,
		mPerDegLat: mPerDeg,
		mPerDegLng: mPerDeg * math.Cos(originLat*math.Pi/180),
	}
}

// ToPlanar converts a geographic coordinate to plane meters.
func (p *Projection) ToPlanar(lat, lng float64) r2.Point {
	return r2.Point{
		X: (lng - p.originLng) * p.mPerDegLng,
		Y: (lat - p.originLat) * p.mPerDegLat,
	}
}

// ToGeographic converts plane meters back to latitude and longitude.
func (p *Projection) ToGeographic(pt r2.Point) (float64, float64) {
	return p.originLat + pt.Y/p.mPerDegLat, p.originLng + pt.X/p.mPerDegLng
}
