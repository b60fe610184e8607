package planner

import (
	"encoding/json"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mowtion/mower/utils"
)

// PatternType selects a coverage pattern family.
type PatternType uint8

// The set of known coverage patterns.
const (
	PatternParallel = PatternType(iota)
	PatternZigzag
	PatternCheckerboard
	PatternDiamond
	PatternSpiral
	PatternConcentric
	PatternWaves
	PatternCustom
)

var patternNames = map[PatternType]string{
	PatternParallel:     "parallel",
	PatternZigzag:       "zigzag",
	PatternCheckerboard: "checkerboard",
	PatternDiamond:      "diamond",
	PatternSpiral:       "spiral",
	PatternConcentric:   "concentric",
	PatternWaves:        "waves",
	PatternCustom:       "custom",
}

func (t PatternType) String() string {
	if name, ok := patternNames[t]; ok {
		return name
	}
	return "unknown"
}

// PatternTypeFromString parses a pattern name.
func PatternTypeFromString(s string) (PatternType, error) {
	for t, name := range patternNames {
		if name == s {
			return t, nil
		}
	}
	return PatternParallel, errors.Errorf("unknown pattern type %q", s)
}

// AllPatternTypes lists every pattern in declaration order.
func AllPatternTypes() []PatternType {
	return []PatternType{
		PatternParallel,
		PatternZigzag,
		PatternCheckerboard,
		PatternDiamond,
		PatternSpiral,
		PatternConcentric,
		PatternWaves,
		PatternCustom,
	}
}

// MarshalJSON encodes the pattern as its name.
func (t PatternType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a pattern from its name.
func (t *PatternType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := PatternTypeFromString(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Config holds the planning parameters for one mowing session. Planar
// coordinates use X for longitude-like and Y for latitude-like axes.
type Config struct {
	Pattern  PatternType `json:"pattern"`
	Spacing  float64     `json:"spacing"`
	AngleDeg float64     `json:"angle"`
	Overlap  float64     `json:"overlap"`
	Boundary []r2.Point  `json:"boundary"`
	Start    r2.Point    `json:"start"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if len(c.Boundary) < 3 {
		return goutils.NewConfigValidationError(path, errors.New("boundary needs at least 3 points"))
	}
	if c.Spacing <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("spacing must be positive"))
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		return goutils.NewConfigValidationError(path, errors.New("overlap must be in [0, 1)"))
	}
	return nil
}

// GeneratePattern produces the ordered coverage points for the configured
// pattern. It is a pure function of the config; an empty result means the
// boundary admits no passes at the requested spacing.
func GeneratePattern(cfg Config) []r2.Point {
	switch cfg.Pattern {
	case PatternParallel:
		return generateParallel(cfg, cfg.AngleDeg, false)
	case PatternZigzag:
		return generateParallel(cfg, cfg.AngleDeg, true)
	case PatternCheckerboard:
		return append(generateParallel(cfg, 0, false), generateParallel(cfg, 90, false)...)
	case PatternDiamond:
		return append(generateParallel(cfg, 45, false), generateParallel(cfg, 135, false)...)
	case PatternSpiral:
		return generateSpiral(cfg, false)
	case PatternConcentric:
		return generateSpiral(cfg, true)
	case PatternWaves:
		return generateWaves(cfg)
	case PatternCustom:
		return generateParallel(cfg, cfg.AngleDeg, false)
	}
	return nil
}

func projectionRange(pts []r2.Point, axis r2.Point) (float64, float64) {
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for _, p := range pts {
		d := p.Dot(axis)
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

// generateParallel sweeps lines perpendicular to the pattern direction,
// spaced at spacing*(1-overlap), and clips each against the boundary. When
// zigzag is set, alternate passes run in the opposite direction.
func generateParallel(cfg Config, angleDeg float64, zigzag bool) []r2.Point {
	step := cfg.Spacing * (1 - cfg.Overlap)
	if step <= 0 {
		return nil
	}
	rad := utils.DegToRad(angleDeg)
	dir := r2.Point{X: math.Cos(rad), Y: math.Sin(rad)}
	norm := r2.Point{X: -math.Sin(rad), Y: math.Cos(rad)}

	minN, maxN := projectionRange(cfg.Boundary, norm)
	minD, maxD := projectionRange(cfg.Boundary, dir)

	var out []r2.Point
	pass := 0
	for t := minN; t <= maxN+geomEpsilon; t += step {
		base := norm.Mul(t)
		a := base.Add(dir.Mul(minD - 1))
		b := base.Add(dir.Mul(maxD + 1))
		crossings := segmentPolygonIntersections(a, b, cfg.Boundary)
		for i := 0; i+1 < len(crossings); i += 2 {
			p, q := crossings[i], crossings[i+1]
			if zigzag && pass%2 == 1 {
				p, q = q, p
			}
			out = append(out, p, q)
		}
		pass++
	}
	return out
}

// generateSpiral grows a ring outward from the polygon centroid. With
// shrink set it instead emits concentric rings collapsing inward.
func generateSpiral(cfg Config, shrink bool) []r2.Point {
	center := polygonCentroid(cfg.Boundary)
	maxR := 0.0
	for _, p := range cfg.Boundary {
		maxR = math.Max(maxR, p.Sub(center).Norm())
	}

	var out []r2.Point
	if shrink {
		const thetaStep = math.Pi / 18
		for r := maxR; r > 0; r -= cfg.Spacing {
			for theta := 0.0; theta < 2*math.Pi; theta += thetaStep {
				p := center.Add(r2.Point{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
				if PointInPolygon(p, cfg.Boundary) {
					out = append(out, p)
				}
			}
		}
		return out
	}

	const thetaStep = 0.2
	for theta := 0.0; ; theta += thetaStep {
		r := cfg.Spacing * theta / (2 * math.Pi)
		if r > maxR {
			break
		}
		p := center.Add(r2.Point{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
		if PointInPolygon(p, cfg.Boundary) {
			out = append(out, p)
		}
	}
	return out
}

// generateWaves sweeps like the parallel pattern but offsets each sample
// sinusoidally across the pass. Amplitude is the pass spacing and the
// wavelength is four times it; samples falling outside the boundary are
// dropped.
func generateWaves(cfg Config) []r2.Point {
	step := cfg.Spacing * (1 - cfg.Overlap)
	if step <= 0 {
		return nil
	}
	rad := utils.DegToRad(cfg.AngleDeg)
	dir := r2.Point{X: math.Cos(rad), Y: math.Sin(rad)}
	norm := r2.Point{X: -math.Sin(rad), Y: math.Cos(rad)}

	minN, maxN := projectionRange(cfg.Boundary, norm)
	minD, maxD := projectionRange(cfg.Boundary, dir)

	amplitude := cfg.Spacing
	wavelength := 4 * cfg.Spacing
	sampleStep := cfg.Spacing / 4

	var out []r2.Point
	for t := minN; t <= maxN+geomEpsilon; t += step {
		base := norm.Mul(t)
		a := base.Add(dir.Mul(minD - 1))
		b := base.Add(dir.Mul(maxD + 1))
		crossings := segmentPolygonIntersections(a, b, cfg.Boundary)
		for i := 0; i+1 < len(crossings); i += 2 {
			p, q := crossings[i], crossings[i+1]
			length := q.Sub(p).Norm()
			if length < geomEpsilon {
				continue
			}
			along := q.Sub(p).Mul(1 / length)
			for s := 0.0; s <= length; s += sampleStep {
				offset := amplitude * math.Sin(2*math.Pi*s/wavelength)
				pt := p.Add(along.Mul(s)).Add(norm.Mul(offset))
				if PointInPolygon(pt, cfg.Boundary) {
					out = append(out, pt)
				}
			}
		}
	}
	return out
}
