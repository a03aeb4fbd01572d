package selection

import (
	"canvas/internal/domain"
	"canvas/internal/layout"
)

// ClusterIDs returns the seeds plus every node reachable from them along
// edges, source to target. Each node is visited at most once, so cyclic
// graphs terminate. Seeds that are not on the canvas are ignored.
func ClusterIDs(seeds []string, nodes []domain.Node, edges []domain.Edge) []string {
	present := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		present[n.ID] = struct{}{}
	}
	next := make(map[string][]string)
	for _, e := range edges {
		next[e.Source] = append(next[e.Source], e.Target)
	}

	visited := make(map[string]struct{}, len(nodes))
	var out []string
	queue := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if _, ok := present[id]; ok {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 && len(visited) < len(nodes) {
		id := queue[0]
		queue = queue[1:]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		out = append(out, id)
		for _, t := range next[id] {
			if _, ok := present[t]; !ok {
				continue
			}
			if _, seen := visited[t]; !seen {
				queue = append(queue, t)
			}
		}
	}
	return out
}

// SelectNodeCluster selects the downstream cluster of seeds.
func (m *Manager) SelectNodeCluster(seeds ...string) []string {
	cluster := ClusterIDs(seeds, m.store.Nodes(), m.store.Edges())
	m.SetSelectedNodes(cluster)
	return cluster
}

// GroupNodeCluster selects the downstream cluster of seeds and wraps it in
// a permanent group.
func (m *Manager) GroupNodeCluster(seeds ...string) (domain.Node, bool) {
	m.SelectNodeCluster(seeds...)
	return m.CreateGroupFromSelectedNodes()
}

// LayoutNodeCluster lays out the downstream cluster of seeds as a branch to
// the right of the seeds. Nodes outside the cluster do not move.
func (m *Manager) LayoutNodeCluster(seeds ...string) {
	nodes, edges := m.store.Nodes(), m.store.Edges()
	cluster := toSet(ClusterIDs(seeds, nodes, edges))
	if len(cluster) == 0 {
		return
	}
	var subEdges []domain.Edge
	for _, e := range edges {
		_, s := cluster[e.Source]
		_, t := cluster[e.Target]
		if s && t {
			subEdges = append(subEdges, e)
		}
	}

	m.store.SetNodes(layout.LayoutBranch(seeds, nodes, subEdges, layout.DefaultSpacing))
}
