package layout

import (
	"math"
	"sort"

	"canvas/internal/domain"
	"canvas/internal/geometry"
)

const orderingSweeps = 4

// graph is the working structure of one layered layout run.
type graph struct {
	ids      []string
	children map[string][]string
	parents  map[string][]string
	size     map[string]domain.Size
}

func newGraph(nodes []domain.Node, edges []domain.Edge) *graph {
	g := &graph{
		ids:      make([]string, 0, len(nodes)),
		children: make(map[string][]string, len(nodes)),
		parents:  make(map[string][]string, len(nodes)),
		size:     make(map[string]domain.Size, len(nodes)),
	}
	for _, n := range nodes {
		g.ids = append(g.ids, n.ID)
		g.size[n.ID] = geometry.NodeSize(n)
	}
	for _, e := range validEdges(edges, idSet(nodes)) {
		g.children[e.Source] = append(g.children[e.Source], e.Target)
		g.parents[e.Target] = append(g.parents[e.Target], e.Source)
	}
	return g
}

func (g *graph) removeEdge(from, to string) {
	g.children[from] = without(g.children[from], to)
	g.parents[to] = without(g.parents[to], from)
}

// breakCycles removes back edges found by a depth-first search started from
// sources first, then from any node left unvisited. It returns the number of
// edges removed.
func (g *graph) breakCycles() int {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.ids))
	var back [][2]string

	var dfs func(id string)
	dfs = func(id string) {
		color[id] = gray
		for _, c := range g.children[id] {
			switch color[c] {
			case white:
				dfs(c)
			case gray:
				back = append(back, [2]string{id, c})
			}
		}
		color[id] = black
	}
	for _, id := range g.ids {
		if len(g.parents[id]) == 0 && color[id] == white {
			dfs(id)
		}
	}
	for _, id := range g.ids {
		if color[id] == white {
			dfs(id)
		}
	}
	for _, e := range back {
		g.removeEdge(e[0], e[1])
	}
	return len(back)
}

// assignRanks is a longest-path layering: every node sits one rank below
// its deepest parent. The graph must be acyclic.
func (g *graph) assignRanks() map[string]int {
	inDegree := make(map[string]int, len(g.ids))
	rank := make(map[string]int, len(g.ids))
	queue := make([]string, 0, len(g.ids))
	for _, id := range g.ids {
		inDegree[id] = len(g.parents[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.children[cur] {
			if r := rank[cur] + 1; r > rank[c] {
				rank[c] = r
			}
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	return rank
}

// order groups ids per rank and reduces crossings with alternating
// barycenter sweeps.
func (g *graph) order(rank map[string]int) [][]string {
	maxRank := 0
	for _, r := range rank {
		maxRank = max(maxRank, r)
	}
	rows := make([][]string, maxRank+1)
	for _, id := range g.ids {
		rows[rank[id]] = append(rows[rank[id]], id)
	}

	pos := make(map[string]float64, len(g.ids))
	reindex := func(row []string) {
		for i, id := range row {
			pos[id] = float64(i)
		}
	}
	for _, row := range rows {
		reindex(row)
	}

	for sweep := 0; sweep < orderingSweeps; sweep++ {
		if sweep%2 == 0 {
			for r := 1; r < len(rows); r++ {
				g.sortByBarycenter(rows[r], pos, g.parents)
				reindex(rows[r])
			}
		} else {
			for r := len(rows) - 2; r >= 0; r-- {
				g.sortByBarycenter(rows[r], pos, g.children)
				reindex(rows[r])
			}
		}
	}
	return rows
}

func (g *graph) sortByBarycenter(row []string, pos map[string]float64, adj map[string][]string) {
	bary := make(map[string]float64, len(row))
	for _, id := range row {
		neighbors := adj[id]
		if len(neighbors) == 0 {
			bary[id] = pos[id]
			continue
		}
		sum := 0.0
		for _, n := range neighbors {
			sum += pos[n]
		}
		bary[id] = sum / float64(len(neighbors))
	}
	sort.SliceStable(row, func(i, j int) bool { return bary[row[i]] < bary[row[j]] })
}

// Layered runs a rank-based layered layout over nodes connected by edges.
// Only un-parented nodes move; children keep their offset inside their
// parent. Positions are top-left anchored, offset by Margin.
func Layered(nodes []domain.Node, edges []domain.Edge, dir domain.Direction) []domain.Node {
	out := cloneAll(nodes)
	var roots []domain.Node
	for _, n := range out {
		if n.ParentID == "" {
			roots = append(roots, n)
		}
	}
	if len(roots) == 0 {
		return out
	}

	placed := place(roots, edges, dir)
	for i := range out {
		if p, ok := placed[out[i].ID]; ok {
			out[i].Position = p
		}
	}
	return out
}

// place computes top-left positions for nodes treated as free-floating.
func place(nodes []domain.Node, edges []domain.Edge, dir domain.Direction) map[string]domain.Position {
	g := newGraph(nodes, edges)
	g.breakCycles()
	rows := g.order(g.assignRanks())

	horizontal := dir == domain.DirectionLR

	// along: extent in the rank direction; across: extent within a rank
	along := func(s domain.Size) float64 {
		if horizontal {
			return s.Width
		}
		return s.Height
	}
	across := func(s domain.Size) float64 {
		if horizontal {
			return s.Height
		}
		return s.Width
	}

	rowDepth := make([]float64, len(rows))
	rowSpan := make([]float64, len(rows))
	widest := 0.0
	for r, row := range rows {
		for i, id := range row {
			s := g.size[id]
			rowDepth[r] = math.Max(rowDepth[r], along(s))
			rowSpan[r] += across(s)
			if i > 0 {
				rowSpan[r] += NodeSep
			}
		}
		widest = math.Max(widest, rowSpan[r])
	}

	out := make(map[string]domain.Position, len(g.ids))
	start := Margin
	for r, row := range rows {
		cursor := Margin + (widest-rowSpan[r])/2
		for _, id := range row {
			s := g.size[id]
			a := start + (rowDepth[r]-along(s))/2
			if horizontal {
				out[id] = domain.Position{X: a, Y: cursor}
			} else {
				out[id] = domain.Position{X: cursor, Y: a}
			}
			cursor += across(s) + NodeSep
		}
		start += rowDepth[r] + RankSep
	}
	return out
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
