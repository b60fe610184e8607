package planner

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

var unitSquare = []r2.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}}

func TestPointInPolygon(t *testing.T) {
	test.That(t, PointInPolygon(r2.Point{X: 5, Y: 5}, unitSquare), test.ShouldBeTrue)
	test.That(t, PointInPolygon(r2.Point{X: -1, Y: 5}, unitSquare), test.ShouldBeFalse)
	test.That(t, PointInPolygon(r2.Point{X: 15, Y: 15}, unitSquare), test.ShouldBeFalse)

	// boundary points count as inside
	test.That(t, PointInPolygon(r2.Point{X: 0, Y: 5}, unitSquare), test.ShouldBeTrue)
	test.That(t, PointInPolygon(r2.Point{X: 0, Y: 0}, unitSquare), test.ShouldBeTrue)

	triangle := []r2.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 2, Y: 3}}
	test.That(t, PointInPolygon(r2.Point{X: 2, Y: 1}, triangle), test.ShouldBeTrue)
	test.That(t, PointInPolygon(r2.Point{X: 0, Y: 3}, triangle), test.ShouldBeFalse)
}

func TestSegmentPolygonIntersections(t *testing.T) {
	crossings := segmentPolygonIntersections(r2.Point{X: -1, Y: 5}, r2.Point{X: 11, Y: 5}, unitSquare)
	test.That(t, crossings, test.ShouldHaveLength, 2)
	test.That(t, crossings[0].X, test.ShouldAlmostEqual, 0)
	test.That(t, crossings[0].Y, test.ShouldAlmostEqual, 5)
	test.That(t, crossings[1].X, test.ShouldAlmostEqual, 10)
	test.That(t, crossings[1].Y, test.ShouldAlmostEqual, 5)

	// a segment through a vertex reports the corner once
	corner := segmentPolygonIntersections(r2.Point{X: -1, Y: 0}, r2.Point{X: 1, Y: 0}, unitSquare)
	test.That(t, corner, test.ShouldHaveLength, 1)
	test.That(t, corner[0].X, test.ShouldAlmostEqual, 0)

	// no crossings for a segment entirely outside
	none := segmentPolygonIntersections(r2.Point{X: -5, Y: -5}, r2.Point{X: -1, Y: -1}, unitSquare)
	test.That(t, none, test.ShouldHaveLength, 0)
}

func TestPolygonArea(t *testing.T) {
	test.That(t, polygonArea(unitSquare), test.ShouldAlmostEqual, 100)
	triangle := []r2.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}
	test.That(t, polygonArea(triangle), test.ShouldAlmostEqual, 6)
}

func TestConvexHullArea(t *testing.T) {
	pts := append([]r2.Point{}, unitSquare...)
	// interior points do not change the hull
	pts = append(pts, r2.Point{X: 5, Y: 5}, r2.Point{X: 2, Y: 8})
	test.That(t, convexHullArea(pts), test.ShouldAlmostEqual, 100)

	hull := convexHull(pts)
	test.That(t, hull, test.ShouldHaveLength, 4)
}

func TestPolygonCentroid(t *testing.T) {
	c := polygonCentroid(unitSquare)
	test.That(t, c.X, test.ShouldAlmostEqual, 5)
	test.That(t, c.Y, test.ShouldAlmostEqual, 5)
}
