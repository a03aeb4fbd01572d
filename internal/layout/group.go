package layout

import (
	"canvas/internal/domain"
	"canvas/internal/geometry"
)

// GroupPadding is the inset used when a group has no declared size and is
// fitted around its laid-out children.
const GroupPadding = 20.0

// LayoutGroup lays out the direct children of groupID using only the edges
// between them, then centers the result inside the group's declared
// width/height. A group without a declared size is resized to fit. Nested
// children keep their offsets inside their own parent. Unknown or empty
// groups return nodes unchanged.
func LayoutGroup(groupID string, nodes []domain.Node, edges []domain.Edge, dir domain.Direction) []domain.Node {
	out := cloneAll(nodes)
	gi := domain.FindNode(out, groupID)
	if gi < 0 || !out[gi].IsGroup() {
		return out
	}

	var children []domain.Node
	for _, n := range out {
		if n.ParentID == groupID && n.ID != groupID {
			c := n.Clone()
			c.ParentID = ""
			children = append(children, c)
		}
	}
	if len(children) == 0 {
		return out
	}

	placed := place(children, edges, dir)

	rects := make([]geometry.Rect, 0, len(children))
	for _, c := range children {
		p := placed[c.ID]
		s := geometry.NodeSize(c)
		rects = append(rects, geometry.Rect{X: p.X, Y: p.Y, Width: s.Width, Height: s.Height})
	}
	bounds := geometry.Union(rects...)

	size := out[gi].DeclaredSize()
	if size.Width <= 0 || size.Height <= 0 {
		size = domain.Size{
			Width:  bounds.Width + 2*GroupPadding,
			Height: bounds.Height + 2*GroupPadding,
		}
		out[gi].SetDeclaredSize(size)
	}
	dx := (size.Width-bounds.Width)/2 - bounds.X
	dy := (size.Height-bounds.Height)/2 - bounds.Y

	for i := range out {
		if p, ok := placed[out[i].ID]; ok && out[i].ParentID == groupID {
			out[i].Position = domain.Position{X: p.X + dx, Y: p.Y + dy}
		}
	}
	return out
}
