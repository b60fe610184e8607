package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// LearningConfig tunes the adaptive pattern selection policy.
type LearningConfig struct {
	LearningRate    float64 `json:"learning_rate"`
	Discount        float64 `json:"discount"`
	Exploration     float64 `json:"exploration"`
	UpdateFrequency int     `json:"update_frequency"`
	ReplayCapacity  int     `json:"replay_capacity"`
	BatchSize       int     `json:"batch_size"`
	TablePath       string  `json:"table_path"`
	Seed            int64   `json:"seed,omitempty"`
}

func (c *LearningConfig) setDefaults() {
	if c.LearningRate == 0 {
		c.LearningRate = 0.1
	}
	if c.Discount == 0 {
		c.Discount = 0.9
	}
	if c.Exploration == 0 {
		c.Exploration = 0.2
	}
	if c.UpdateFrequency == 0 {
		c.UpdateFrequency = 100
	}
	if c.ReplayCapacity == 0 {
		c.ReplayCapacity = 1000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
}

// experience is one observed (state, action, reward, next state) transition.
type experience struct {
	State  string
	Action PatternType
	Reward float64
	Next   string
}

// replayMemory is a bounded ring buffer of transitions.
type replayMemory struct {
	data  []experience
	pos   int
	count int
}

func newReplayMemory(capacity int) *replayMemory {
	return &replayMemory{data: make([]experience, capacity)}
}

func (m *replayMemory) Add(e experience) {
	m.data[m.pos] = e
	m.pos++
	if m.pos >= len(m.data) {
		m.pos = 0
	}
	if m.count < len(m.data) {
		m.count++
	}
}

func (m *replayMemory) Len() int {
	return m.count
}

// Sample draws n transitions with replacement.
func (m *replayMemory) Sample(rng *rand.Rand, n int) []experience {
	if m.count == 0 {
		return nil
	}
	out := make([]experience, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, m.data[rng.Intn(m.count)])
	}
	return out
}

// stateKey discretizes a planning request into a table key: a signature of
// the boundary polygon plus spacing and angle.
func stateKey(cfg Config) string {
	h := fnv.New32a()
	for _, p := range cfg.Boundary {
		fmt.Fprintf(h, "%.5f,%.5f;", p.X, p.Y)
	}
	return fmt.Sprintf("%08x|%.2f|%.1f", h.Sum32(), cfg.Spacing, cfg.AngleDeg)
}

// qValue reads a learned action value; unseen pairs are 0. Callers hold p.mu.
func (p *Planner) qValue(state string, action PatternType) float64 {
	if actions, ok := p.table[state]; ok {
		return actions[action.String()]
	}
	return 0
}

// bestAction picks argmax over the table for state, defaulting to the
// parallel pattern when the state is unseen or tied at zero. Callers hold p.mu.
func (p *Planner) bestAction(state string) PatternType {
	best := PatternParallel
	bestVal := math.Inf(-1)
	for _, t := range AllPatternTypes() {
		v := p.qValue(state, t)
		if v > bestVal {
			best = t
			bestVal = v
		}
	}
	if bestVal <= 0 {
		return PatternParallel
	}
	return best
}

// selectPattern is epsilon-greedy over the learned table. Callers hold p.mu.
func (p *Planner) selectPattern(state string) PatternType {
	if p.rng.Float64() < p.learn.Exploration {
		all := AllPatternTypes()
		return all[p.rng.Intn(len(all))]
	}
	return p.bestAction(state)
}

// applyUpdate runs the one-step Q-update for a transition. Callers hold p.mu.
func (p *Planner) applyUpdate(e experience) {
	maxNext := 0.0
	for _, t := range AllPatternTypes() {
		maxNext = math.Max(maxNext, p.qValue(e.Next, t))
	}
	old := p.qValue(e.State, e.Action)
	updated := old + p.learn.LearningRate*(e.Reward+p.learn.Discount*maxNext-old)
	actions, ok := p.table[e.State]
	if !ok {
		actions = make(map[string]float64)
		p.table[e.State] = actions
	}
	actions[e.Action.String()] = updated
}

// observe records a transition: immediate Q-update, replay append, and a
// periodic replay flush plus table persist. Callers hold p.mu.
func (p *Planner) observe(e experience) {
	p.applyUpdate(e)
	p.replay.Add(e)
	p.steps++
	if p.steps%p.learn.UpdateFrequency != 0 {
		return
	}
	for _, sampled := range p.replay.Sample(p.rng, p.learn.BatchSize) {
		p.applyUpdate(sampled)
	}
	if err := p.saveTable(); err != nil {
		p.logger.Errorw("failed to persist pattern value table", "error", err)
	}
}

// pathReward scores a generated path: shorter, better-covering, smoother
// paths score higher. When elevation data is available the reward is
// penalized for climbing and for steep segments; when it is not, the
// penalty is skipped entirely.
func (p *Planner) pathReward(ctx context.Context, path []r2.Point, boundary []r2.Point) float64 {
	if len(path) < 2 {
		return 0
	}

	total := 0.0
	for i := 1; i < len(path); i++ {
		total += path[i].Sub(path[i-1]).Norm()
	}

	coverage := 0.0
	if boundaryArea := convexHullArea(boundary); boundaryArea > 0 {
		coverage = convexHullArea(path) / boundaryArea
	}

	smoothness := 1.0
	var turns []float64
	for i := 2; i < len(path); i++ {
		a := path[i-1].Sub(path[i-2])
		b := path[i].Sub(path[i-1])
		if a.Norm() < geomEpsilon || b.Norm() < geomEpsilon {
			continue
		}
		cos := a.Dot(b) / (a.Norm() * b.Norm())
		turns = append(turns, math.Acos(math.Max(-1, math.Min(1, cos))))
	}
	if len(turns) > 0 {
		smoothness = 1 - stat.Mean(turns, nil)/math.Pi
	}

	reward := 0.0
	if total > 0 {
		reward += 0.4 * (1 / total)
	}
	reward += 0.4*coverage + 0.2*smoothness
	reward -= p.elevationPenalty(ctx, path)
	return reward
}

const (
	climbPenaltyRate  = 0.01
	steepSlopeLimit   = 0.2
	steepSlopePenalty = 0.05
)

func (p *Planner) elevationPenalty(ctx context.Context, path []r2.Point) float64 {
	if p.elev == nil {
		return 0
	}
	elevs, ok := p.elev.Elevations(ctx, path)
	if !ok || len(elevs) != len(path) {
		return 0
	}
	penalty := 0.0
	for i := 1; i < len(elevs); i++ {
		delta := elevs[i] - elevs[i-1]
		if delta > 0 {
			penalty += delta * climbPenaltyRate
		}
		run := path[i].Sub(path[i-1]).Norm()
		if run > 0 && math.Abs(delta)/run > steepSlopeLimit {
			penalty += steepSlopePenalty
		}
	}
	return penalty
}

// loadTable reads the persisted value table. A missing file is an empty
// table; a corrupt one is a hard error.
func (p *Planner) loadTable() error {
	if p.learn.TablePath == "" {
		return nil
	}
	data, err := os.ReadFile(p.learn.TablePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "cannot read pattern value table")
	}
	if err := json.Unmarshal(data, &p.table); err != nil {
		return errors.Wrap(err, "corrupt pattern value table")
	}
	return nil
}

func (p *Planner) saveTable() error {
	if p.learn.TablePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(p.table, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.learn.TablePath, data, 0o644)
}
