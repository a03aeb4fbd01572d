// Package selection manages the selection set of a canvas and the group
// hierarchy built from it: permanent groups, the single temporary group that
// follows a multi-selection, ungrouping, and downstream cluster traversal.
//
// Every operation reads the current nodes from the graph store, computes a
// complete replacement list and writes it back in one SetNodes call.
package selection

import (
	"sort"

	"github.com/google/uuid"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	"canvas/internal/geometry"
	"canvas/internal/graph"
)

type Manager struct {
	store *graph.Store
	newID func() string
}

func New(store *graph.Store) *Manager {
	return &Manager{
		store: store,
		newID: func() string { return "group-" + uuid.NewString() },
	}
}

// ─────────────────────────────────────────────────────────────
// Selection
// ─────────────────────────────────────────────────────────────

// SetSelectedNode selects exactly id. An empty id clears the selection.
func (m *Manager) SetSelectedNode(id string) {
	m.SetSelectedNodes(nonEmpty(id))
}

// SetSelectedNodes selects exactly ids.
func (m *Manager) SetSelectedNodes(ids []string) {
	want := toSet(ids)
	nodes := m.store.Nodes()
	for i := range nodes {
		_, ok := want[nodes[i].ID]
		nodes[i].Selected = ok
	}
	m.store.SetNodes(nodes)
}

// AddSelectedNode adds id to the selection.
func (m *Manager) AddSelectedNode(id string) {
	m.updateSelected(func(n domain.Node) bool { return n.Selected || n.ID == id })
}

// DeselectNode removes id from the selection.
func (m *Manager) DeselectNode(id string) {
	m.updateSelected(func(n domain.Node) bool { return n.Selected && n.ID != id })
}

func (m *Manager) SetSelectedNodeByEntity(f domain.NodeFilter) error {
	n, err := m.byEntity(f)
	if err != nil {
		return err
	}
	m.SetSelectedNode(n.ID)
	return nil
}

func (m *Manager) AddSelectedNodeByEntity(f domain.NodeFilter) error {
	n, err := m.byEntity(f)
	if err != nil {
		return err
	}
	m.AddSelectedNode(n.ID)
	return nil
}

func (m *Manager) DeselectNodeByEntity(f domain.NodeFilter) error {
	n, err := m.byEntity(f)
	if err != nil {
		return err
	}
	m.DeselectNode(n.ID)
	return nil
}

// SetSelectedNodesByEntity selects the nodes matching filters; filters
// without a node are skipped.
func (m *Manager) SetSelectedNodesByEntity(filters []domain.NodeFilter) {
	nodes := m.store.Nodes()
	var ids []string
	for _, f := range filters {
		if n, ok := domain.FindByFilter(nodes, f); ok {
			ids = append(ids, n.ID)
		}
	}
	m.SetSelectedNodes(ids)
}

// SelectedNodes returns the selected nodes in canvas order.
func (m *Manager) SelectedNodes() []domain.Node {
	var out []domain.Node
	for _, n := range m.store.Nodes() {
		if n.Selected {
			out = append(out, n)
		}
	}
	return out
}

func (m *Manager) updateSelected(selected func(domain.Node) bool) {
	nodes := m.store.Nodes()
	for i := range nodes {
		nodes[i].Selected = selected(nodes[i])
	}
	m.store.SetNodes(nodes)
}

func (m *Manager) byEntity(f domain.NodeFilter) (domain.Node, error) {
	n, ok := domain.FindByFilter(m.store.Nodes(), f)
	if !ok {
		return domain.Node{}, cerrors.New(cerrors.ErrCodeNotFound, "no %s node for entity %s", f.Type, f.EntityID)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────
// Ordering
// ─────────────────────────────────────────────────────────────

// SortNodes orders nodes so every group precedes its descendants. Nodes at
// the same depth keep their relative order.
func SortNodes(nodes []domain.Node) []domain.Node {
	r := geometry.NewResolver(nodes)
	depth := make(map[string]int, len(nodes))
	for _, n := range nodes {
		depth[n.ID] = r.Depth(n)
	}
	out := domain.CloneNodes(nodes)
	sort.SliceStable(out, func(i, j int) bool { return depth[out[i].ID] < depth[out[j].ID] })
	return out
}

// ── helpers ──────────────────────────────────────────────────

func nonEmpty(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sameMembers(a []string, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
