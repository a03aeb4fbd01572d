// Package layout positions canvas nodes.
//
// It holds the rank-based layered layout used by the "auto layout" action,
// the iterative overlap resolver run after it, group-local layout, the
// placement heuristics used when a node is created, and a grid placer for
// bulk inserts. Every function is pure: it takes node and edge slices and
// returns new slices, never mutating its input.
package layout

import (
	"canvas/internal/domain"
	"canvas/internal/geometry"
)

// Layered layout spacing.
const (
	NodeSep = 100.0
	RankSep = 80.0
	Margin  = 50.0
)

// Spacing drives new-node placement and branch layout.
type Spacing struct {
	X, Y               float64
	InitialX, InitialY float64
}

// DefaultSpacing places siblings 400 apart horizontally and 30 apart
// vertically, starting at (100, 300) on an empty canvas.
var DefaultSpacing = Spacing{X: 400, Y: 30, InitialX: 100, InitialY: 300}

// newNodeHeight is the height assumed for a node that has not rendered yet.
const newNodeHeight = geometry.DefaultHeight

// ── helpers ──────────────────────────────────────────────────

func cloneAll(nodes []domain.Node) []domain.Node { return domain.CloneNodes(nodes) }

// validEdges returns edges whose endpoints are both in ids, excluding
// self-loops and duplicate source→target pairs.
func validEdges(edges []domain.Edge, ids map[string]struct{}) []domain.Edge {
	seen := make(map[[2]string]struct{}, len(edges))
	out := make([]domain.Edge, 0, len(edges))
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		if _, ok := ids[e.Source]; !ok {
			continue
		}
		if _, ok := ids[e.Target]; !ok {
			continue
		}
		key := [2]string{e.Source, e.Target}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

func idSet(nodes []domain.Node) map[string]struct{} {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	return ids
}

// setAbsolute moves node i so that its absolute position becomes abs,
// keeping its parent link.
func setAbsolute(nodes []domain.Node, r *geometry.Resolver, i int, abs domain.Position) {
	offset := r.ParentOffset(nodes[i])
	nodes[i].Position = abs.Sub(offset)
}
