package planner

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

const geomEpsilon = 1e-9

// PointInPolygon reports whether pt is inside poly using ray casting. Points
// on the boundary count as inside.
func PointInPolygon(pt r2.Point, poly []r2.Point) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		pi, pj := poly[i], poly[j]
		if onSegment(pt, pi, pj) {
			return true
		}
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) {
			x := pi.X + (pt.Y-pi.Y)/(pj.Y-pi.Y)*(pj.X-pi.X)
			if pt.X < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onSegment(pt, a, b r2.Point) bool {
	cross := (b.X-a.X)*(pt.Y-a.Y) - (b.Y-a.Y)*(pt.X-a.X)
	if math.Abs(cross) > 1e-7 {
		return false
	}
	dot := (pt.X - a.X) * (b.X - a.X)
	dot += (pt.Y - a.Y) * (b.Y - a.Y)
	if dot < -geomEpsilon {
		return false
	}
	ab := b.Sub(a)
	return dot <= ab.Dot(ab)+geomEpsilon
}

// segmentIntersection returns the crossing point of segments p1-p2 and
// p3-p4, if any. Collinear overlaps are not reported.
func segmentIntersection(p1, p2, p3, p4 r2.Point) (r2.Point, bool) {
	d1 := p2.Sub(p1)
	d2 := p4.Sub(p3)
	denom := d1.X*d2.Y - d1.Y*d2.X
	if math.Abs(denom) < geomEpsilon {
		return r2.Point{}, false
	}
	t := ((p3.X-p1.X)*d2.Y - (p3.Y-p1.Y)*d2.X) / denom
	u := ((p3.X-p1.X)*d1.Y - (p3.Y-p1.Y)*d1.X) / denom
	if t < -geomEpsilon || t > 1+geomEpsilon || u < -geomEpsilon || u > 1+geomEpsilon {
		return r2.Point{}, false
	}
	return p1.Add(d1.Mul(t)), true
}

// segmentPolygonIntersections returns every point where the segment a-b
// crosses the polygon boundary, sorted by distance from a. Equidistant
// crossings keep edge insertion order.
func segmentPolygonIntersections(a, b r2.Point, poly []r2.Point) []r2.Point {
	var crossings []r2.Point
	for i := 0; i < len(poly); i++ {
		p3 := poly[i]
		p4 := poly[(i+1)%len(poly)]
		if pt, ok := segmentIntersection(a, b, p3, p4); ok {
			crossings = append(crossings, pt)
		}
	}
	sort.SliceStable(crossings, func(i, j int) bool {
		return crossings[i].Sub(a).Norm() < crossings[j].Sub(a).Norm()
	})
	return dedupePoints(crossings)
}

// dedupePoints collapses near-identical neighbors, which show up when a
// sweep line passes through a polygon vertex shared by two edges.
func dedupePoints(pts []r2.Point) []r2.Point {
	if len(pts) < 2 {
		return pts
	}
	out := pts[:1]
	for _, pt := range pts[1:] {
		if pt.Sub(out[len(out)-1]).Norm() > 1e-7 {
			out = append(out, pt)
		}
	}
	return out
}

// polygonCentroid returns the vertex-average center of the polygon.
func polygonCentroid(poly []r2.Point) r2.Point {
	var c r2.Point
	for _, p := range poly {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(poly)))
}

// polygonArea computes the shoelace area of a simple polygon.
func polygonArea(poly []r2.Point) float64 {
	if len(poly) < 3 {
		return 0
	}
	sum := 0.0
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		sum += poly[j].X*poly[i].Y - poly[i].X*poly[j].Y
		j = i
	}
	return math.Abs(sum) / 2
}

// convexHull computes the convex hull of pts with the monotone chain
// algorithm. The result is in counterclockwise order without a repeated
// first point.
func convexHull(pts []r2.Point) []r2.Point {
	if len(pts) < 3 {
		return append([]r2.Point{}, pts...)
	}
	sorted := append([]r2.Point{}, pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	cross := func(o, a, b r2.Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	var lower []r2.Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	var upper []r2.Point
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// convexHullArea returns the area enclosed by the convex hull of pts.
func convexHullArea(pts []r2.Point) float64 {
	return polygonArea(convexHull(pts))
}
