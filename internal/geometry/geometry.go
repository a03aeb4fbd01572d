// Package geometry resolves node positions through parent chains and
// provides the rectangle helpers shared by alignment, layout and grouping.
//
// Nodes form an arena indexed by id; parent links are optional ids, never
// owning references. Every walk is bounded by the node count so malformed
// (cyclic) hierarchies degrade to the node's own relative position instead
// of looping.
package geometry

import (
	"math"

	"canvas/internal/domain"
)

const (
	DefaultWidth  = 288.0
	DefaultHeight = 320.0
)

// typeDefaults holds per-type sizes that differ from the generic default.
var typeDefaults = map[domain.NodeType]domain.Size{
	domain.NodeTypeGroup: {Width: 0, Height: 0},
	domain.NodeTypeMemo:  {Width: 288, Height: 200},
	domain.NodeTypeImage: {Width: 288, Height: 288},
}

// NodeSize returns measured size, then declared size (style or metadata),
// then the type default. Width and height fall back independently.
func NodeSize(n domain.Node) domain.Size {
	def, ok := typeDefaults[n.Type]
	if !ok {
		def = domain.Size{Width: DefaultWidth, Height: DefaultHeight}
	}
	w, h := def.Width, def.Height
	d := n.DeclaredSize()
	if d.Width > 0 {
		w = d.Width
	}
	if d.Height > 0 {
		h = d.Height
	}
	if n.Measured != nil {
		if n.Measured.Width > 0 {
			w = n.Measured.Width
		}
		if n.Measured.Height > 0 {
			h = n.Measured.Height
		}
	}
	return domain.Size{Width: w, Height: h}
}

// Resolver answers absolute-position queries over a fixed node set.
type Resolver struct {
	nodes []domain.Node
	index map[string]int
}

// NewResolver indexes nodes by id. Later duplicates win, matching how a
// wholesale replacement would read back.
func NewResolver(nodes []domain.Node) *Resolver {
	idx := make(map[string]int, len(nodes))
	for i, n := range nodes {
		idx[n.ID] = i
	}
	return &Resolver{nodes: nodes, index: idx}
}

// Node returns the node with the given id.
func (r *Resolver) Node(id string) (domain.Node, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.Node{}, false
	}
	return r.nodes[i], true
}

// Absolute returns n's canvas-global position.
func (r *Resolver) Absolute(n domain.Node) domain.Position {
	pos := n.Position
	if n.ParentID == "" {
		return pos
	}
	visited := map[string]struct{}{n.ID: {}}
	parentID := n.ParentID
	for depth := 0; parentID != ""; depth++ {
		if depth >= len(r.nodes) {
			return n.Position
		}
		if _, seen := visited[parentID]; seen {
			return n.Position
		}
		visited[parentID] = struct{}{}
		parent, ok := r.Node(parentID)
		if !ok {
			break
		}
		pos = pos.Add(parent.Position)
		parentID = parent.ParentID
	}
	return pos
}

// AbsoluteByID resolves the node with the given id.
func (r *Resolver) AbsoluteByID(id string) (domain.Position, bool) {
	n, ok := r.Node(id)
	if !ok {
		return domain.Position{}, false
	}
	return r.Absolute(n), true
}

// ParentOffset is the absolute position of n's parent, or zero.
func (r *Resolver) ParentOffset(n domain.Node) domain.Position {
	return r.Absolute(n).Sub(n.Position)
}

// Rect returns n's absolute bounding box.
func (r *Resolver) Rect(n domain.Node) Rect {
	p := r.Absolute(n)
	s := NodeSize(n)
	return Rect{X: p.X, Y: p.Y, Width: s.Width, Height: s.Height}
}

// Ancestors returns the parent chain of n, nearest first.
func (r *Resolver) Ancestors(n domain.Node) []string {
	var chain []string
	visited := map[string]struct{}{n.ID: {}}
	parentID := n.ParentID
	for parentID != "" && len(chain) < len(r.nodes) {
		if _, seen := visited[parentID]; seen {
			break
		}
		visited[parentID] = struct{}{}
		parent, ok := r.Node(parentID)
		if !ok {
			break
		}
		chain = append(chain, parentID)
		parentID = parent.ParentID
	}
	return chain
}

// Depth is the length of n's resolvable parent chain.
func (r *Resolver) Depth(n domain.Node) int { return len(r.Ancestors(n)) }

// AbsolutePosition resolves node's position against allNodes.
func AbsolutePosition(node domain.Node, allNodes []domain.Node) domain.Position {
	return NewResolver(allNodes).Absolute(node)
}

// BoundingBox returns node's absolute rectangle.
func BoundingBox(node domain.Node, allNodes []domain.Node) Rect {
	return NewResolver(allNodes).Rect(node)
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) Left() float64   { return r.X }
func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Top() float64    { return r.Y }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

func (r Rect) Center() domain.Position {
	return domain.Position{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Overlaps is strict intersection; touching edges and zero-area rectangles
// never overlap.
func (r Rect) Overlaps(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.X < o.Right() && r.Right() > o.X &&
		r.Y < o.Bottom() && r.Bottom() > o.Y
}

// Expand grows r by pad on every side.
func (r Rect) Expand(pad float64) Rect {
	return Rect{X: r.X - pad, Y: r.Y - pad, Width: r.Width + 2*pad, Height: r.Height + 2*pad}
}

func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// RectsOverlap reports strict intersection of a and b.
func RectsOverlap(a, b Rect) bool { return a.Overlaps(b) }

// Union returns the smallest rectangle containing all rects.
func Union(rects ...Rect) Rect {
	if len(rects) == 0 {
		return Rect{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, r := range rects {
		minX = math.Min(minX, r.X)
		minY = math.Min(minY, r.Y)
		maxX = math.Max(maxX, r.Right())
		maxY = math.Max(maxY, r.Bottom())
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
