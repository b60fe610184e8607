package planner

import (
	"container/heap"
	"math"

	"github.com/golang/geo/r2"
)

// gridKey indexes one cell of the interior planning grid. Cells are hashed
// so neighbor membership checks stay O(1) regardless of yard size.
type gridKey struct {
	xi, yi int
}

type planGrid struct {
	points map[gridKey]r2.Point
	res    float64
	origin r2.Point
}

// buildGrid rasterizes the boundary interior at the given resolution,
// excluding cells covered by a registered obstacle. Callers hold p.mu.
func (p *Planner) buildGrid(boundary []r2.Point, res float64) *planGrid {
	minX, maxX := projectionRange(boundary, r2.Point{X: 1})
	minY, maxY := projectionRange(boundary, r2.Point{Y: 1})
	origin := r2.Point{X: minX, Y: minY}

	grid := &planGrid{points: make(map[gridKey]r2.Point), res: res, origin: origin}
	nx := int(math.Ceil((maxX-minX)/res)) + 1
	ny := int(math.Ceil((maxY-minY)/res)) + 1
	for xi := 0; xi <= nx; xi++ {
		for yi := 0; yi <= ny; yi++ {
			pt := r2.Point{X: minX + float64(xi)*res, Y: minY + float64(yi)*res}
			if !PointInPolygon(pt, boundary) {
				continue
			}
			if p.blockedByObstacle(pt, res) {
				continue
			}
			grid.points[gridKey{xi, yi}] = pt
		}
	}
	return grid
}

func (p *Planner) blockedByObstacle(pt r2.Point, res float64) bool {
	for _, obs := range p.obstacles {
		radius := obs.Radius
		if radius <= 0 {
			radius = res / 2
		}
		if pt.Sub(obs.Position).Norm() <= radius {
			return true
		}
	}
	return false
}

func (g *planGrid) nearest(pt r2.Point) (gridKey, bool) {
	bestKey := gridKey{}
	bestDist := math.Inf(1)
	found := false
	for key, gp := range g.points {
		if d := gp.Sub(pt).Norm(); d < bestDist {
			bestKey, bestDist = key, d
			found = true
		}
	}
	return bestKey, found
}

type asNode struct {
	key   gridKey
	g, f  float64
	order int
	index int
}

// openSet orders by lowest f-score, breaking ties by earliest discovery.
type openSet []*asNode

func (s openSet) Len() int { return len(s) }
func (s openSet) Less(i, j int) bool {
	if s[i].f != s[j].f {
		return s[i].f < s[j].f
	}
	return s[i].order < s[j].order
}
func (s openSet) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
	s[i].index = i
	s[j].index = j
}
func (s *openSet) Push(x interface{}) {
	n := x.(*asNode)
	n.index = len(*s)
	*s = append(*s, n)
}
func (s *openSet) Pop() interface{} {
	old := *s
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*s = old[:len(old)-1]
	return n
}

var gridNeighbors = []gridKey{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// astar searches the grid 4-connected with a Euclidean heuristic. It
// returns nil when no route exists.
func (g *planGrid) astar(start, goal gridKey) []r2.Point {
	goalPt, ok := g.points[goal]
	if !ok {
		return nil
	}
	if _, ok := g.points[start]; !ok {
		return nil
	}

	heuristic := func(key gridKey) float64 {
		return g.points[key].Sub(goalPt).Norm()
	}

	open := &openSet{}
	heap.Init(open)
	counter := 0
	startNode := &asNode{key: start, g: 0, f: heuristic(start), order: counter}
	heap.Push(open, startNode)

	cameFrom := make(map[gridKey]gridKey)
	gScore := map[gridKey]float64{start: 0}
	closed := make(map[gridKey]struct{})

	for open.Len() > 0 {
		current := heap.Pop(open).(*asNode)
		if current.key == goal {
			return g.reconstruct(cameFrom, goal)
		}
		if _, done := closed[current.key]; done {
			continue
		}
		closed[current.key] = struct{}{}

		for _, d := range gridNeighbors {
			next := gridKey{current.key.xi + d.xi, current.key.yi + d.yi}
			nextPt, ok := g.points[next]
			if !ok {
				continue
			}
			tentative := current.g + g.points[current.key].Sub(nextPt).Norm()
			if prev, seen := gScore[next]; seen && tentative >= prev {
				continue
			}
			gScore[next] = tentative
			cameFrom[next] = current.key
			counter++
			heap.Push(open, &asNode{
				key:   next,
				g:     tentative,
				f:     tentative + heuristic(next),
				order: counter,
			})
		}
	}
	return nil
}

func (g *planGrid) reconstruct(cameFrom map[gridKey]gridKey, goal gridKey) []r2.Point {
	rev := []gridKey{goal}
	key := goal
	for {
		prev, seen := cameFrom[key]
		if !seen {
			break
		}
		rev = append(rev, prev)
		key = prev
	}
	out := make([]r2.Point, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, g.points[rev[i]])
	}
	return out
}

// Replan computes an obstacle-aware route from start to goal over the last
// planned boundary. An empty path means no route exists; callers treat that
// as "stay put and report failure upward", never as a fault.
func (p *Planner) Replan(start, goal r2.Point) []r2.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastCfg == nil {
		return nil
	}
	grid := p.buildGrid(p.lastCfg.Boundary, p.lastCfg.Spacing)
	startKey, ok := grid.nearest(start)
	if !ok {
		return nil
	}
	goalKey, ok := grid.nearest(goal)
	if !ok {
		return nil
	}
	path := grid.astar(startKey, goalKey)
	if len(path) == 0 {
		p.logger.Warnw("no obstacle-free route found", "obstacles", len(p.obstacles))
		return nil
	}
	return path
}
