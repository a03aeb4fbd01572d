package domain

const EdgeTypeDefault = "default"

// EdgeStyle is purely presentational and never replicated.
type EdgeStyle struct {
	Stroke          string  `json:"stroke,omitempty"`
	StrokeWidth     float64 `json:"strokeWidth,omitempty"`
	StrokeDasharray string  `json:"strokeDasharray,omitempty"`
}

type Edge struct {
	ID       string     `json:"id"`
	Source   string     `json:"source"`
	Target   string     `json:"target"`
	Type     string     `json:"type,omitempty"`
	Style    *EdgeStyle `json:"style,omitempty"`
	Animated bool       `json:"animated,omitempty"`
	Selected bool       `json:"selected,omitempty"`
}

// DefaultEdgeStyle is applied to edges created locally.
var DefaultEdgeStyle = EdgeStyle{Stroke: "#D0D5DD", StrokeWidth: 1.5}

func CloneEdges(edges []Edge) []Edge {
	if edges == nil {
		return nil
	}
	out := make([]Edge, len(edges))
	for i, e := range edges {
		out[i] = e
		if e.Style != nil {
			s := *e.Style
			out[i].Style = &s
		}
	}
	return out
}

// PruneEdges drops edges whose endpoints are not present in nodes.
func PruneEdges(edges []Edge, nodes []Node) []Edge {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		_, okS := ids[e.Source]
		_, okT := ids[e.Target]
		if okS && okT {
			out = append(out, e)
		}
	}
	return out
}

// HasEdge reports whether a source→target edge already exists.
func HasEdge(edges []Edge, source, target string) bool {
	for _, e := range edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}
