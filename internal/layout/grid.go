package layout

import (
	"math"

	"canvas/internal/domain"
	"canvas/internal/geometry"
)

const (
	GridSize = 30.0
	Padding  = 60.0 // 2 grid cells between nodes
	MaxRowW  = 1800.0
)

// Grid places nodes created in bulk (imports, MCP batches) on a snapped
// grid so they don't overlap existing ones.
type Grid struct {
	gridSize float64
	padding  float64
	maxRowW  float64
}

func NewGrid() *Grid {
	return &Grid{
		gridSize: GridSize,
		padding:  Padding,
		maxRowW:  MaxRowW,
	}
}

// snap rounds v to the nearest grid point.
func (g *Grid) snap(v float64) float64 {
	return math.Round(v/g.gridSize) * g.gridSize
}

// NextPosition finds the next free grid position for a node of the given
// size, scanning rows top to bottom and columns left to right.
func (g *Grid) NextPosition(existing []domain.Node, size domain.Size) domain.Position {
	if len(existing) == 0 {
		return domain.Position{}
	}

	r := geometry.NewResolver(existing)
	occupied := make([]geometry.Rect, 0, len(existing))
	for _, n := range existing {
		rect := r.Rect(n)
		if rect.Empty() {
			continue
		}
		occupied = append(occupied, rect.Expand(g.padding))
	}

	candidate := geometry.Rect{Width: size.Width, Height: size.Height}
	for y := 0.0; y < 100000; y += g.gridSize {
		for x := 0.0; x < g.maxRowW; x += g.gridSize {
			candidate.X = g.snap(x)
			candidate.Y = g.snap(y)

			free := true
			for _, occ := range occupied {
				if candidate.Overlaps(occ) {
					free = false
					break
				}
			}
			if free {
				return domain.Position{X: candidate.X, Y: candidate.Y}
			}
		}
	}

	// below everything
	maxY := 0.0
	for _, occ := range occupied {
		maxY = math.Max(maxY, occ.Bottom())
	}
	return domain.Position{X: 0, Y: g.snap(maxY)}
}

// ArrangeGrid places the nodes named by ids in rows starting at start,
// wrapping at the maximum row width. Other nodes are returned unchanged.
func (g *Grid) ArrangeGrid(nodes []domain.Node, ids []string, start domain.Position) []domain.Node {
	out := cloneAll(nodes)
	r := geometry.NewResolver(out)

	x, y := g.snap(start.X), g.snap(start.Y)
	rowHeight := 0.0
	targets := make(map[string]domain.Position, len(ids))
	for _, id := range ids {
		n, ok := r.Node(id)
		if !ok {
			continue
		}
		if _, dup := targets[id]; dup {
			continue
		}
		s := geometry.NodeSize(n)
		targets[id] = domain.Position{X: x, Y: y}
		rowHeight = math.Max(rowHeight, s.Height)

		x += g.snap(s.Width + g.padding)
		if x+s.Width > g.maxRowW {
			x = g.snap(start.X)
			y += g.snap(rowHeight + g.padding)
			rowHeight = 0
		}
	}

	for i := range out {
		if abs, ok := targets[out[i].ID]; ok {
			setAbsolute(out, r, i, abs)
		}
	}
	return out
}
