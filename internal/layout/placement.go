package layout

import (
	"math"
	"sort"

	"canvas/internal/domain"
	"canvas/internal/geometry"
)

// PlacementInput describes where a new node is about to be created.
type PlacementInput struct {
	Nodes []domain.Node
	Edges []domain.Edge

	// SourceIDs are the nodes the new node will be connected from.
	SourceIDs []string

	// Position, when set, wins over every heuristic.
	Position *domain.Position

	// AutoLayout selects the gap search next to the sources instead of
	// stacking below existing targets.
	AutoLayout bool

	Spacing Spacing
}

// placed is a node with its absolute position and size resolved once.
type placed struct {
	node domain.Node
	pos  domain.Position
	size domain.Size
}

func (s Spacing) orDefault() Spacing {
	if s == (Spacing{}) {
		return DefaultSpacing
	}
	return s
}

// CalculatePosition picks the absolute position of a node about to be
// added. In order: the explicit position; the initial position on an empty
// canvas; next to the source nodes; in a gap between root nodes or below
// the last root; to the right of the leaves; the initial position.
func CalculatePosition(in PlacementInput) domain.Position {
	sp := in.Spacing.orDefault()
	if in.Position != nil {
		return *in.Position
	}
	if len(in.Nodes) == 0 {
		return domain.Position{X: sp.InitialX, Y: sp.InitialY}
	}

	all := resolveAll(in.Nodes)
	byID := make(map[string]placed, len(all))
	for _, p := range all {
		byID[p.node.ID] = p
	}

	var sources []placed
	for _, id := range in.SourceIDs {
		if p, ok := byID[id]; ok {
			sources = append(sources, p)
		}
	}
	if len(sources) > 0 {
		if in.AutoLayout {
			return rightmostPosition(sources, all, sp)
		}
		return belowTargets(sources, in.Edges, byID, sp)
	}

	hasIncoming := make(map[string]bool, len(in.Edges))
	hasOutgoing := make(map[string]bool, len(in.Edges))
	for _, e := range in.Edges {
		hasIncoming[e.Target] = true
		hasOutgoing[e.Source] = true
	}

	var roots []placed
	for _, p := range all {
		if !hasIncoming[p.node.ID] {
			roots = append(roots, p)
		}
	}
	if len(roots) > 0 {
		sortByY(roots)
		for i := 0; i < len(roots)-1; i++ {
			if gap := roots[i+1].pos.Y - roots[i].pos.Y; gap >= sp.Y {
				return domain.Position{X: roots[i].pos.X, Y: roots[i].pos.Y + gap/2}
			}
		}
		last := roots[len(roots)-1]
		return domain.Position{X: last.pos.X, Y: last.pos.Y + sp.Y + last.size.Height}
	}

	var leaves []placed
	for _, p := range all {
		if !hasOutgoing[p.node.ID] {
			leaves = append(leaves, p)
		}
	}
	if len(leaves) > 0 {
		sortByY(leaves)
		x := maxX(leaves) + sp.X
		for i := 0; i < len(leaves)-1; i++ {
			if gap := leaves[i+1].pos.Y - leaves[i].pos.Y; gap >= sp.Y {
				return domain.Position{X: x, Y: leaves[i].pos.Y + gap/2}
			}
		}
		last := leaves[len(leaves)-1]
		return domain.Position{X: x, Y: last.pos.Y + sp.Y + last.size.Height}
	}

	return domain.Position{X: sp.InitialX, Y: sp.InitialY}
}

// belowTargets places the node right of the rightmost source, below the
// lowest node the sources already point at.
func belowTargets(sources []placed, edges []domain.Edge, byID map[string]placed, sp Spacing) domain.Position {
	isSource := make(map[string]bool, len(sources))
	for _, s := range sources {
		isSource[s.node.ID] = true
	}
	x := maxX(sources) + sp.X

	bottom, found := math.Inf(-1), false
	for _, e := range edges {
		if !isSource[e.Source] {
			continue
		}
		t, ok := byID[e.Target]
		if !ok {
			continue
		}
		bottom = math.Max(bottom, t.pos.Y+t.size.Height/2)
		found = true
	}
	if found {
		return domain.Position{X: x, Y: bottom + sp.Y + newNodeHeight/2}
	}
	return domain.Position{X: x, Y: avgY(sources)}
}

// rightmostPosition searches the column right of the sources for the
// vertical slot closest to the sources' average y.
func rightmostPosition(sources, all []placed, sp Spacing) domain.Position {
	targetX := maxX(sources) + sp.X
	avg := avgY(sources)

	var column []placed
	for _, p := range all {
		if math.Abs(p.pos.X-targetX) < sp.X/2 {
			column = append(column, p)
		}
	}
	if len(column) == 0 {
		return domain.Position{X: targetX, Y: avg}
	}
	sortByY(column)

	rng := math.Max(sp.Y*3, column[0].size.Height)
	step := sp.Y / 4
	if step <= 0 {
		step = DefaultSpacing.Y / 4
	}
	bestY, minOverlap := avg, math.Inf(1)

	for y := avg - rng; y <= avg+rng; y += step {
		hasOverlap, total := false, 0.0
		newTop, newBottom := y-newNodeHeight/2, y+newNodeHeight/2
		for _, p := range column {
			top, bottom := p.pos.Y-p.size.Height/2, p.pos.Y+p.size.Height/2
			if !(newBottom < top-sp.Y || newTop > bottom+sp.Y) {
				hasOverlap = true
				total += math.Min(math.Abs(newBottom-top), math.Abs(newTop-bottom))
			}
		}
		if total < minOverlap {
			minOverlap, bestY = total, y
		}
		if !hasOverlap {
			bestY = y
			break
		}
	}

	if minOverlap > 0 {
		type gap struct{ start, end float64 }
		first, last := column[0], column[len(column)-1]
		gaps := []gap{{avg - rng, first.pos.Y - first.size.Height/2 - sp.Y}}
		for i := 0; i < len(column)-1; i++ {
			cur, next := column[i], column[i+1]
			gaps = append(gaps, gap{
				cur.pos.Y + cur.size.Height/2 + sp.Y,
				next.pos.Y - next.size.Height/2 - sp.Y,
			})
		}
		gaps = append(gaps, gap{last.pos.Y + last.size.Height/2 + sp.Y, avg + rng})

		bestDist := math.Inf(1)
		for _, g := range gaps {
			if g.end-g.start < sp.Y+newNodeHeight {
				continue
			}
			center := (g.start + g.end) / 2
			if d := math.Abs(center - avg); d < bestDist {
				bestDist, bestY = d, center
			}
		}
	}
	return domain.Position{X: targetX, Y: bestY}
}

func resolveAll(nodes []domain.Node) []placed {
	r := geometry.NewResolver(nodes)
	out := make([]placed, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, placed{node: n, pos: r.Absolute(n), size: geometry.NodeSize(n)})
	}
	return out
}

func sortByY(ps []placed) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].pos.Y < ps[j].pos.Y })
}

func maxX(ps []placed) float64 {
	m := math.Inf(-1)
	for _, p := range ps {
		m = math.Max(m, p.pos.X)
	}
	return m
}

func avgY(ps []placed) float64 {
	if len(ps) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range ps {
		sum += p.pos.Y
	}
	return sum / float64(len(ps))
}
