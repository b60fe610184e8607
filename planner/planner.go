// Package planner generates coverage paths for a bounded yard, adapts the
// pattern choice with a small tabular learner, and replans around obstacles
// registered by the avoidance layer.
package planner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/google/uuid"
)

// ElevationService supplies per-point elevations for reward shaping. Points
// are in the planner's projection plane (meters); implementers that index by
// geography can unproject with the zone's Projection. The boolean is false
// on any failure; the planner degrades gracefully.
type ElevationService interface {
	Elevations(ctx context.Context, points []r2.Point) ([]float64, bool)
}

// Obstacle is a blocking entity registered in the planner's obstacle map.
type Obstacle struct {
	ID       uuid.UUID `json:"id"`
	Position r2.Point  `json:"position"`
	Radius   float64   `json:"radius"`
	Source   string    `json:"source"`
	Detected time.Time `json:"detected"`
}

// Planner owns the pattern generators, the obstacle registry, and the
// learned pattern value table. One mutex serializes the registry and the
// table since both replanning and learning iterate them.
type Planner struct {
	logger golog.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	learn     LearningConfig
	table     map[string]map[string]float64
	replay    *replayMemory
	steps     int
	obstacles []Obstacle
	elev      ElevationService
	lastCfg   *Config
	lastPath  []r2.Point
}

// NewPlanner builds a planner, loading any persisted value table. The
// elevation service may be nil.
func NewPlanner(learn LearningConfig, elev ElevationService, logger golog.Logger) (*Planner, error) {
	learn.setDefaults()
	seed := learn.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Planner{
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
		learn:  learn,
		table:  make(map[string]map[string]float64),
		replay: newReplayMemory(learn.ReplayCapacity),
		elev:   elev,
	}
	if err := p.loadTable(); err != nil {
		return nil, err
	}
	return p, nil
}

// GeneratePath produces the coverage path for the configured pattern. An
// empty path is data, not an error; errors are reserved for invalid configs.
func (p *Planner) GeneratePath(ctx context.Context, cfg Config) ([]r2.Point, error) {
	if err := cfg.Validate("planner"); err != nil {
		return nil, err
	}
	path := GeneratePattern(cfg)
	p.mu.Lock()
	p.lastCfg = &cfg
	p.lastPath = path
	p.mu.Unlock()
	return path, nil
}

// GenerateAdaptive lets the learned policy pick the pattern, generates the
// path, and feeds the resulting reward back into the table.
func (p *Planner) GenerateAdaptive(ctx context.Context, cfg Config) ([]r2.Point, PatternType, error) {
	if err := cfg.Validate("planner"); err != nil {
		return nil, PatternParallel, err
	}
	state := stateKey(cfg)

	p.mu.Lock()
	action := p.selectPattern(state)
	p.mu.Unlock()

	cfg.Pattern = action
	path := GeneratePattern(cfg)
	reward := p.pathReward(ctx, path, cfg.Boundary)

	p.mu.Lock()
	p.observe(experience{State: state, Action: action, Reward: reward, Next: state})
	p.lastCfg = &cfg
	p.lastPath = path
	p.mu.Unlock()

	p.logger.Infow("adaptive pattern selected",
		"pattern", action.String(), "reward", reward, "points", len(path))
	return path, action, nil
}

// RegisterObstacle adds a blocking entity to the obstacle map. Subsequent
// Replan calls route around it.
func (p *Planner) RegisterObstacle(pos r2.Point, radius float64, source string) Obstacle {
	obs := Obstacle{
		ID:       uuid.New(),
		Position: pos,
		Radius:   radius,
		Source:   source,
		Detected: time.Now(),
	}
	p.mu.Lock()
	p.obstacles = append(p.obstacles, obs)
	p.mu.Unlock()
	p.logger.Infow("obstacle registered", "source", source, "x", pos.X, "y", pos.Y)
	return obs
}

// Obstacles returns a copy of the obstacle registry.
func (p *Planner) Obstacles() []Obstacle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Obstacle, len(p.obstacles))
	copy(out, p.obstacles)
	return out
}

// ClearObstacles empties the obstacle registry, normally at session end.
func (p *Planner) ClearObstacles() {
	p.mu.Lock()
	p.obstacles = nil
	p.mu.Unlock()
}

// Path returns a copy of the most recently generated path for telemetry.
func (p *Planner) Path() []r2.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]r2.Point, len(p.lastPath))
	copy(out, p.lastPath)
	return out
}

// Close persists the value table.
func (p *Planner) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveTable()
}
