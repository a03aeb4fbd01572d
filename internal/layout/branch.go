package layout

import (
	"canvas/internal/domain"
	"canvas/internal/geometry"
)

const maxBranchAdjustments = 10

// LayoutBranch lays out everything downstream of startIDs in columns, one
// column per edge distance from the start nodes. The start nodes stay put;
// each column is stacked around its direct sources and then spread so no two
// nodes in it are closer than the vertical spacing.
func LayoutBranch(startIDs []string, nodes []domain.Node, edges []domain.Edge, sp Spacing) []domain.Node {
	sp = sp.orDefault()
	out := cloneAll(nodes)
	r := geometry.NewResolver(out)

	start := make(map[string]bool, len(startIDs))
	var sources []placed
	for _, id := range startIDs {
		n, ok := r.Node(id)
		if !ok || start[id] {
			continue
		}
		start[id] = true
		sources = append(sources, placed{node: n, pos: r.Absolute(n), size: geometry.NodeSize(n)})
	}
	if len(sources) == 0 {
		return out
	}

	edges = validEdges(edges, idSet(out))
	children := make(map[string][]string)
	parents := make(map[string][]string)
	for _, e := range edges {
		children[e.Source] = append(children[e.Source], e.Target)
		parents[e.Target] = append(parents[e.Target], e.Source)
	}

	// breadth-first so each node takes its shortest distance; the level map
	// doubles as the visited set
	level := make(map[string]int, len(out))
	queue := make([]string, 0, len(sources))
	for _, s := range sources {
		level[s.node.ID] = 0
		queue = append(queue, s.node.ID)
	}
	var columns [][]placed
	for len(queue) > 0 && len(level) <= len(out) {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if _, seen := level[c]; seen {
				continue
			}
			lv := level[cur] + 1
			level[c] = lv
			queue = append(queue, c)
			for len(columns) < lv {
				columns = append(columns, nil)
			}
			n, _ := r.Node(c)
			columns[lv-1] = append(columns[lv-1], placed{node: n, pos: r.Absolute(n), size: geometry.NodeSize(n)})
		}
	}
	if len(columns) == 0 {
		return out
	}

	baseX := maxX(sources)
	avgSource := avgY(sources)
	target := make(map[string]domain.Position)

	for i, col := range columns {
		sortByY(col)
		levelX := baseX + float64(i+1)*sp.X

		total := -sp.Y
		for _, p := range col {
			total += p.size.Height + sp.Y
		}

		cursor := avgSource - total/2
		for idx := range col {
			p := &col[idx]
			if ys := directSourceYs(p.node.ID, parents, r); len(ys) > 0 {
				cursor = mean(ys) - total/2 + float64(idx)*(p.size.Height+sp.Y)
			}
			p.pos = domain.Position{X: levelX, Y: cursor + p.size.Height/2}
			cursor += p.size.Height + sp.Y
		}

		spreadColumn(col, sp.Y)
		for _, p := range col {
			target[p.node.ID] = p.pos
		}
	}

	for i := range out {
		if abs, ok := target[out[i].ID]; ok {
			setAbsolute(out, r, i, abs)
		}
	}
	return out
}

// spreadColumn pushes nodes down until consecutive nodes are at least gap
// apart, bounded by maxBranchAdjustments passes.
func spreadColumn(col []placed, gap float64) {
	for iter := 0; iter < maxBranchAdjustments; iter++ {
		sortByY(col)
		changed := false
		for i := 1; i < len(col); i++ {
			prev, cur := col[i-1], &col[i]
			if floor := prev.pos.Y + prev.size.Height + gap; cur.pos.Y < floor {
				cur.pos.Y = floor
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func directSourceYs(id string, parents map[string][]string, r *geometry.Resolver) []float64 {
	var ys []float64
	for _, pid := range parents[id] {
		if abs, ok := r.AbsoluteByID(pid); ok {
			ys = append(ys, abs.Y)
		}
	}
	return ys
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
