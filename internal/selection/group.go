package selection

import (
	"canvas/internal/domain"
	"canvas/internal/geometry"
)

// GroupPadding is added around the union of a group's members; half of it
// sits on each side.
const GroupPadding = 40.0

// bounds is the frame of a group built around members.
type bounds struct {
	origin domain.Position
	size   domain.Size
}

func groupBounds(members []domain.Node, r *geometry.Resolver) bounds {
	rects := make([]geometry.Rect, 0, len(members))
	for _, n := range members {
		rects = append(rects, r.Rect(n))
	}
	u := geometry.Union(rects...)
	return bounds{
		origin: domain.Position{X: u.X - GroupPadding/2, Y: u.Y - GroupPadding/2},
		size:   domain.Size{Width: u.Width + GroupPadding, Height: u.Height + GroupPadding},
	}
}

func (m *Manager) newGroup(b bounds, temporary bool) domain.Node {
	g := domain.Node{
		ID:        m.newID(),
		Type:      domain.NodeTypeGroup,
		Position:  b.origin,
		Draggable: true,
		Data: domain.NodeData{
			Metadata: map[string]any{domain.MetaIsTemporary: temporary},
		},
	}
	g.Data.EntityID = g.ID
	g.SetDeclaredSize(b.size)
	return g
}

// members filters candidates down to the nodes a group may adopt: nodes
// whose ancestors are not themselves candidates, so a selected group
// carries its children along.
func members(candidates []domain.Node, r *geometry.Resolver) []domain.Node {
	ids := make(map[string]struct{}, len(candidates))
	for _, n := range candidates {
		ids[n.ID] = struct{}{}
	}
	var out []domain.Node
	for _, n := range candidates {
		covered := false
		for _, a := range r.Ancestors(n) {
			if _, ok := ids[a]; ok {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, n)
		}
	}
	return out
}

// validSelected keeps the selected nodes that may take part in a temporary
// group: permanent groups and nodes that are not inside a permanent group.
// Temporary groups themselves are excluded.
func validSelected(selected, all []domain.Node) []domain.Node {
	r := geometry.NewResolver(all)
	var out []domain.Node
	for _, n := range selected {
		if n.IsTemporaryGroup() {
			continue
		}
		if n.ParentID != "" {
			if p, ok := r.Node(n.ParentID); ok && !p.IsTemporaryGroup() {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func temporaryGroup(nodes []domain.Node) (domain.Node, bool) {
	for _, n := range nodes {
		if n.IsTemporaryGroup() {
			return n, true
		}
	}
	return domain.Node{}, false
}

func childIDs(nodes []domain.Node, groupID string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, n := range nodes {
		if n.ParentID == groupID {
			ids[n.ID] = struct{}{}
		}
	}
	return ids
}

func ids(nodes []domain.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

// adopt reparents members into group g, keeping their absolute position.
func adopt(nodes []domain.Node, r *geometry.Resolver, g domain.Node, memberIDs map[string]struct{}, selected bool) []domain.Node {
	abs := make(map[string]domain.Position, len(memberIDs))
	for id := range memberIDs {
		if p, ok := r.AbsoluteByID(id); ok {
			abs[id] = p
		}
	}
	out := make([]domain.Node, 0, len(nodes)+1)
	for _, n := range nodes {
		if p, ok := abs[n.ID]; ok {
			n.ParentID = g.ID
			n.Position = p.Sub(g.Position)
			n.Selected = selected
			n.Draggable = true
		}
		out = append(out, n)
	}
	return out
}

// ─────────────────────────────────────────────────────────────
// Permanent groups
// ─────────────────────────────────────────────────────────────

// CreateGroupFromSelectedNodes wraps the current selection in a new group.
// It needs at least two selected nodes. When a temporary group already
// holds part of the selection it is promoted instead of creating a second
// group. The returned node is the resulting group.
func (m *Manager) CreateGroupFromSelectedNodes() (domain.Node, bool) {
	nodes := m.store.Nodes()
	var selected []domain.Node
	for _, n := range nodes {
		if n.Selected {
			selected = append(selected, n)
		}
	}
	if len(selected) < 2 {
		return domain.Node{}, false
	}

	if tmp, ok := temporaryGroup(nodes); ok {
		children := childIDs(nodes, tmp.ID)
		for _, n := range selected {
			if _, in := children[n.ID]; in || n.ID == tmp.ID {
				m.ConvertTemporaryToPermGroup(tmp.ID)
				g, _ := m.node(tmp.ID)
				return g, true
			}
		}
	}

	r := geometry.NewResolver(nodes)
	group := members(selected, r)
	if len(group) < 2 {
		return domain.Node{}, false
	}

	g := m.newGroup(groupBounds(group, r), false)
	updated := adopt(nodes, r, g, toSet(ids(group)), false)
	for i := range updated {
		updated[i].Selected = false
	}
	m.store.SetNodes(SortNodes(append(updated, g)))
	return g, true
}

// ConvertTemporaryToPermGroup turns the temporary group id into a regular
// group and clears every selection.
func (m *Manager) ConvertTemporaryToPermGroup(id string) bool {
	nodes := m.store.Nodes()
	i := domain.FindNode(nodes, id)
	if i < 0 || !nodes[i].IsTemporaryGroup() {
		return false
	}
	for j := range nodes {
		nodes[j].Selected = false
	}
	g := &nodes[i]
	g.Data.Metadata[domain.MetaIsTemporary] = false
	g.Draggable = true
	m.store.SetNodes(nodes)
	return true
}

// ─────────────────────────────────────────────────────────────
// Temporary group
// ─────────────────────────────────────────────────────────────

// HandleSelectionChange applies a new selection from the host and keeps the
// temporary group in step with it: dissolved below two valid nodes,
// rebuilt when membership diverges, created when none exists.
func (m *Manager) HandleSelectionChange(selectedIDs []string) {
	m.SetSelectedNodes(selectedIDs)

	nodes := m.store.Nodes()
	valid := validSelected(selectedOf(nodes), nodes)

	if len(valid) <= 1 {
		var tmpIDs []string
		for _, n := range nodes {
			if n.IsTemporaryGroup() {
				tmpIDs = append(tmpIDs, n.ID)
			}
		}
		if len(tmpIDs) > 0 {
			m.dissolveTemporary(tmpIDs...)
		}
		return
	}

	if tmp, ok := temporaryGroup(nodes); ok {
		if !sameMembers(ids(valid), childIDs(nodes, tmp.ID)) {
			m.UpdateTempGroup(ids(valid))
		}
		return
	}
	m.CreateTemporaryGroup(ids(valid))
}

// CreateTemporaryGroup groups ids into the canvas' temporary group. If one
// already exists with the same members it is returned as-is; if it exists
// with other members it is rebuilt.
func (m *Manager) CreateTemporaryGroup(memberIDs []string) (string, bool) {
	nodes := m.store.Nodes()
	want := toSet(memberIDs)

	if tmp, ok := temporaryGroup(nodes); ok {
		if sameMembers(memberIDs, childIDs(nodes, tmp.ID)) {
			return tmp.ID, true
		}
		return m.UpdateTempGroup(memberIDs)
	}

	var candidates []domain.Node
	for _, n := range nodes {
		if _, ok := want[n.ID]; ok {
			candidates = append(candidates, n)
		}
	}
	r := geometry.NewResolver(nodes)
	valid := members(validSelected(candidates, nodes), r)
	if len(valid) < 2 {
		return "", false
	}

	g := m.newGroup(groupBounds(valid, r), true)
	updated := adopt(nodes, r, g, toSet(ids(valid)), true)
	m.store.SetNodes(SortNodes(append(updated, g)))
	return g.ID, true
}

// UpdateTempGroup refits the temporary group around memberIDs: new members
// are adopted, dropped members are released at their absolute position,
// and the group frame is recomputed. Fewer than two members dissolves it.
func (m *Manager) UpdateTempGroup(memberIDs []string) (string, bool) {
	nodes := m.store.Nodes()
	tmp, ok := temporaryGroup(nodes)
	if !ok {
		return m.CreateTemporaryGroup(memberIDs)
	}

	want := toSet(memberIDs)
	var candidates []domain.Node
	for _, n := range nodes {
		if _, ok := want[n.ID]; ok && n.ID != tmp.ID {
			candidates = append(candidates, n)
		}
	}
	r := geometry.NewResolver(nodes)
	valid := members(validSelected(candidates, nodes), r)
	if len(valid) < 2 {
		m.dissolveTemporary(tmp.ID)
		return "", false
	}

	b := groupBounds(valid, r)
	keep := toSet(ids(valid))

	abs := make(map[string]domain.Position, len(nodes))
	for _, n := range nodes {
		abs[n.ID] = r.Absolute(n)
	}

	g := tmp
	g.Position = b.origin
	g.SetDeclaredSize(b.size)

	out := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		_, member := keep[n.ID]
		switch {
		case n.ID == tmp.ID:
			n = g
		case member:
			n.ParentID = g.ID
			n.Position = abs[n.ID].Sub(g.Position)
			n.Selected = true
			n.Draggable = true
		case n.ParentID == tmp.ID:
			n.ParentID = ""
			n.Position = abs[n.ID]
			n.Selected = false
		}
		out = append(out, n)
	}
	m.store.SetNodes(SortNodes(out))
	return g.ID, true
}

// ─────────────────────────────────────────────────────────────
// Ungroup
// ─────────────────────────────────────────────────────────────

// UngroupNodes dissolves groupID. Its direct children move to the top level
// at their absolute position and are deselected; deeper nesting is left as
// is. Edges attached to the group are dropped.
func (m *Manager) UngroupNodes(groupID string) bool {
	return m.UngroupMultipleNodes([]string{groupID}) > 0
}

// UngroupMultipleNodes dissolves every group in groupIDs and returns how
// many were removed.
func (m *Manager) UngroupMultipleNodes(groupIDs []string) int {
	return m.dissolve(groupIDs, false)
}

// dissolveTemporary releases the temporary group's members without touching
// their selection: the host has just selected them.
func (m *Manager) dissolveTemporary(groupIDs ...string) int {
	return m.dissolve(groupIDs, true)
}

func (m *Manager) dissolve(groupIDs []string, keepSelection bool) int {
	nodes := m.store.Nodes()
	removed := 0
	for _, gid := range groupIDs {
		var ok bool
		nodes, ok = ungroup(nodes, gid, keepSelection)
		if ok {
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	m.store.SetGraph(SortNodes(nodes), domain.PruneEdges(m.store.Edges(), nodes))
	return removed
}

func ungroup(nodes []domain.Node, groupID string, keepSelection bool) ([]domain.Node, bool) {
	i := domain.FindNode(nodes, groupID)
	if i < 0 || !nodes[i].IsGroup() {
		return nodes, false
	}
	r := geometry.NewResolver(nodes)
	out := make([]domain.Node, 0, len(nodes)-1)
	for _, n := range nodes {
		switch {
		case n.ID == groupID:
			continue
		case n.ParentID == groupID:
			n.Position = r.Absolute(n)
			n.ParentID = ""
			if !keepSelection {
				n.Selected = false
			}
		}
		out = append(out, n)
	}
	return out, true
}

// ── helpers ──────────────────────────────────────────────────

func (m *Manager) node(id string) (domain.Node, bool) {
	nodes := m.store.Nodes()
	i := domain.FindNode(nodes, id)
	if i < 0 {
		return domain.Node{}, false
	}
	return nodes[i], true
}

func selectedOf(nodes []domain.Node) []domain.Node {
	var out []domain.Node
	for _, n := range nodes {
		if n.Selected {
			out = append(out, n)
		}
	}
	return out
}
