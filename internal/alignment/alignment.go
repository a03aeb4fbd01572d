// Package alignment computes drag-time snapping against the other nodes on
// a canvas.
//
// For the dragged node's absolute rectangle A and every other node's
// rectangle B, four x comparisons (left-left, right-right, left-right,
// right-left) and four y comparisons (top-top, bottom-top, bottom-bottom,
// top-bottom) are evaluated. Per axis the closest match strictly under the
// threshold wins; equal distances keep the first match in iteration order.
package alignment

import (
	"math"

	"canvas/internal/domain"
	"canvas/internal/geometry"
)

const DefaultThreshold = 10.0

// Match names the comparison that produced a snap.
type Match string

const (
	LeftLeft     Match = "left-left"
	RightRight   Match = "right-right"
	LeftRight    Match = "left-right"
	RightLeft    Match = "right-left"
	TopTop       Match = "top-top"
	BottomTop    Match = "bottom-top"
	BottomBottom Match = "bottom-bottom"
	TopBottom    Match = "top-bottom"
)

// Result holds the per-axis outcome of a drag. Nil snap values mean the axis
// did not snap. Snaps are relative to the dragged node's parent; guides are
// absolute canvas coordinates.
type Result struct {
	SnapX  *float64 `json:"snapX,omitempty"`
	SnapY  *float64 `json:"snapY,omitempty"`
	GuideX *float64 `json:"guideX,omitempty"`
	GuideY *float64 `json:"guideY,omitempty"`

	MatchX  Match  `json:"matchX,omitempty"`
	MatchY  Match  `json:"matchY,omitempty"`
	TargetX string `json:"targetX,omitempty"`
	TargetY string `json:"targetY,omitempty"`
}

// Snapped reports whether either axis snapped.
func (r Result) Snapped() bool { return r.SnapX != nil || r.SnapY != nil }

type candidate struct {
	match Match
	dist  float64
	snap  float64
	guide float64
}

// Compute evaluates a position change for the node it names. The change's
// Position is the proposed relative position. Unknown nodes and changes
// without a position yield an empty result.
func Compute(change domain.NodeChange, nodes []domain.Node, threshold float64) Result {
	var res Result
	if change.Position == nil {
		return res
	}
	r := geometry.NewResolver(nodes)
	dragged, ok := r.Node(change.ID)
	if !ok {
		return res
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	offset := r.ParentOffset(dragged)
	size := geometry.NodeSize(dragged)
	a := geometry.Rect{
		X:      change.Position.X + offset.X,
		Y:      change.Position.Y + offset.Y,
		Width:  size.Width,
		Height: size.Height,
	}

	bestX, bestY := threshold, threshold
	for _, other := range nodes {
		if other.ID == dragged.ID {
			continue
		}
		b := r.Rect(other)

		for _, c := range xCandidates(a, b, offset.X) {
			if c.dist < bestX {
				bestX = c.dist
				res.SnapX, res.GuideX = ptr(c.snap), ptr(c.guide)
				res.MatchX, res.TargetX = c.match, other.ID
			}
		}
		for _, c := range yCandidates(a, b, offset.Y) {
			if c.dist < bestY {
				bestY = c.dist
				res.SnapY, res.GuideY = ptr(c.snap), ptr(c.guide)
				res.MatchY, res.TargetY = c.match, other.ID
			}
		}
	}
	return res
}

// Apply rewrites the position of a single-node drag to its snapped value.
// Any batch that is not exactly one position change passes through
// untouched, with an empty result.
func Apply(changes []domain.NodeChange, nodes []domain.Node, threshold float64) ([]domain.NodeChange, Result) {
	if len(changes) != 1 || changes[0].Type != domain.ChangePosition || changes[0].Position == nil {
		return changes, Result{}
	}
	res := Compute(changes[0], nodes, threshold)
	if !res.Snapped() {
		return changes, res
	}
	c := changes[0]
	pos := *c.Position
	if res.SnapX != nil {
		pos.X = *res.SnapX
	}
	if res.SnapY != nil {
		pos.Y = *res.SnapY
	}
	c.Position = &pos
	return []domain.NodeChange{c}, res
}

// ── helpers ──────────────────────────────────────────────────

func xCandidates(a, b geometry.Rect, px float64) [4]candidate {
	return [4]candidate{
		{LeftLeft, math.Abs(a.Left() - b.Left()), b.Left() - px, b.Left()},
		{RightRight, math.Abs(a.Right() - b.Right()), b.Right() - a.Width - px, b.Right()},
		{LeftRight, math.Abs(a.Left() - b.Right()), b.Right() - px, b.Right()},
		{RightLeft, math.Abs(a.Right() - b.Left()), b.Left() - a.Width - px, b.Left()},
	}
}

func yCandidates(a, b geometry.Rect, py float64) [4]candidate {
	return [4]candidate{
		{TopTop, math.Abs(a.Top() - b.Top()), b.Top() - py, b.Top()},
		{BottomTop, math.Abs(a.Bottom() - b.Top()), b.Top() - a.Height - py, b.Top()},
		{BottomBottom, math.Abs(a.Bottom() - b.Bottom()), b.Bottom() - a.Height - py, b.Bottom()},
		{TopBottom, math.Abs(a.Top() - b.Bottom()), b.Bottom() - py, b.Bottom()},
	}
}

func ptr(v float64) *float64 { return &v }
