package layout

import (
	"math"

	"canvas/internal/domain"
	"canvas/internal/geometry"
)

const (
	MaxOverlapIterations  = 5
	DefaultOverlapPadding = 20.0
)

type OverlapOptions struct {
	Padding       float64
	MaxIterations int
}

// OverlapReport describes a ResolveOverlaps run. Converged is false when
// intersecting pairs remain after the iteration cap.
type OverlapReport struct {
	Iterations int  `json:"iterations"`
	Moves      int  `json:"moves"`
	Converged  bool `json:"converged"`
}

type overlapPair struct {
	fixed, moving int
}

// ResolveOverlaps pushes intersecting nodes apart. Pairs are visited group
// against group first, then node against group, then node against node;
// a node is never pushed out of its own ancestor. For each collision the
// smallest of the four push distances is applied to one rectangle, plus
// padding. There is no convergence guarantee: the iteration cap bounds the
// work and the report says whether overlaps remain.
func ResolveOverlaps(nodes []domain.Node, opts OverlapOptions) ([]domain.Node, OverlapReport) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = MaxOverlapIterations
	}
	if opts.Padding < 0 {
		opts.Padding = 0
	}
	out := cloneAll(nodes)
	// the resolver reads positions from out, so moves are visible at once
	r := geometry.NewResolver(out)
	pairs := overlapPairs(out, r)

	var report OverlapReport
	for iter := 0; iter < opts.MaxIterations; iter++ {
		report.Iterations = iter + 1
		moved := false
		for _, p := range pairs {
			f, m := r.Rect(out[p.fixed]), r.Rect(out[p.moving])
			if !f.Overlaps(m) {
				continue
			}
			dx, dy := pushVector(f, m, opts.Padding)
			out[p.moving].Position.X += dx
			out[p.moving].Position.Y += dy
			report.Moves++
			moved = true
		}
		if !moved {
			break
		}
	}
	report.Converged = len(overlapping(out, r, pairs)) == 0
	return out, report
}

// Overlapping returns the id pairs that still intersect, ignoring
// ancestor/descendant pairs.
func Overlapping(nodes []domain.Node) [][2]string {
	r := geometry.NewResolver(nodes)
	return overlapping(nodes, r, overlapPairs(nodes, r))
}

// ── helpers ──────────────────────────────────────────────────

func overlapping(nodes []domain.Node, r *geometry.Resolver, pairs []overlapPair) [][2]string {
	var out [][2]string
	for _, p := range pairs {
		if r.Rect(nodes[p.fixed]).Overlaps(r.Rect(nodes[p.moving])) {
			out = append(out, [2]string{nodes[p.fixed].ID, nodes[p.moving].ID})
		}
	}
	return out
}

func overlapPairs(nodes []domain.Node, r *geometry.Resolver) []overlapPair {
	ancestors := make([]map[string]struct{}, len(nodes))
	for i, n := range nodes {
		set := make(map[string]struct{})
		for _, id := range r.Ancestors(n) {
			set[id] = struct{}{}
		}
		ancestors[i] = set
	}
	related := func(i, j int) bool {
		_, a := ancestors[i][nodes[j].ID]
		_, b := ancestors[j][nodes[i].ID]
		return a || b
	}

	var groupPairs, mixedPairs, plainPairs []overlapPair
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if nodes[i].ID == nodes[j].ID || related(i, j) {
				continue
			}
			gi, gj := nodes[i].IsGroup(), nodes[j].IsGroup()
			switch {
			case gi && gj:
				groupPairs = append(groupPairs, overlapPair{fixed: i, moving: j})
			case gi:
				mixedPairs = append(mixedPairs, overlapPair{fixed: i, moving: j})
			case gj:
				mixedPairs = append(mixedPairs, overlapPair{fixed: j, moving: i})
			default:
				plainPairs = append(plainPairs, overlapPair{fixed: i, moving: j})
			}
		}
	}
	pairs := make([]overlapPair, 0, len(groupPairs)+len(mixedPairs)+len(plainPairs))
	pairs = append(pairs, groupPairs...)
	pairs = append(pairs, mixedPairs...)
	return append(pairs, plainPairs...)
}

// pushVector returns the translation that moves m clear of f along the axis
// of least penetration.
func pushVector(f, m geometry.Rect, pad float64) (float64, float64) {
	left := m.Right() - f.Left()
	right := f.Right() - m.Left()
	up := m.Bottom() - f.Top()
	down := f.Bottom() - m.Top()

	best := math.Min(math.Min(left, right), math.Min(up, down))
	switch best {
	case left:
		return -(left + pad), 0
	case right:
		return right + pad, 0
	case up:
		return 0, -(up + pad)
	default:
		return 0, down + pad
	}
}
