package layout

import (
	"math"
	"testing"
	"time"

	"canvas/internal/domain"
	"canvas/internal/geometry"
)

func sized(id string, x, y, w, h float64) domain.Node {
	return domain.Node{
		ID:       id,
		Type:     domain.NodeTypeDocument,
		Position: domain.Position{X: x, Y: y},
		Measured: &domain.Size{Width: w, Height: h},
	}
}

func edge(src, tgt string) domain.Edge {
	return domain.Edge{ID: src + "-" + tgt, Source: src, Target: tgt}
}

func byID(t *testing.T, nodes []domain.Node, id string) domain.Node {
	t.Helper()
	i := domain.FindNode(nodes, id)
	if i < 0 {
		t.Fatalf("node %q missing", id)
	}
	return nodes[i]
}

// ── grid ─────────────────────────────────────────────────────

func TestNextPosition_EmptyCanvas(t *testing.T) {
	g := NewGrid()
	p := g.NextPosition(nil, domain.Size{Width: 480, Height: 360})
	if p.X != 0 || p.Y != 0 {
		t.Errorf("expected (0, 0) for empty canvas, got (%.0f, %.0f)", p.X, p.Y)
	}
}

func TestNextPosition_MultipleNodes(t *testing.T) {
	g := NewGrid()
	existing := []domain.Node{
		sized("a", 0, 0, 480, 360),
		sized("b", 540, 0, 480, 360),
	}
	p := g.NextPosition(existing, domain.Size{Width: 480, Height: 360})

	r := geometry.Rect{X: p.X, Y: p.Y, Width: 480, Height: 360}
	for _, n := range existing {
		padded := geometry.Rect{X: n.Position.X, Y: n.Position.Y, Width: 480, Height: 360}.Expand(Padding)
		if r.Overlaps(padded) {
			t.Errorf("position (%.0f, %.0f) overlaps node at (%.0f, %.0f)", p.X, p.Y, n.Position.X, n.Position.Y)
		}
	}
}

func TestArrangeGrid(t *testing.T) {
	g := NewGrid()
	nodes := []domain.Node{
		sized("1", 0, 0, 300, 200),
		sized("2", 0, 0, 300, 200),
		sized("3", 0, 0, 300, 200),
		sized("untouched", 7, 7, 10, 10),
	}

	arranged := g.ArrangeGrid(nodes, []string{"1", "2", "3"}, domain.Position{})

	if got := byID(t, arranged, "untouched").Position; got != (domain.Position{X: 7, Y: 7}) {
		t.Errorf("untouched node moved to %+v", got)
	}
	if pairs := Overlapping(arranged[:3]); len(pairs) != 0 {
		t.Errorf("arranged nodes overlap: %v", pairs)
	}
}

func TestSnap(t *testing.T) {
	g := NewGrid()
	tests := []struct {
		input, want float64
	}{
		{0, 0},
		{15, 30},
		{29, 30},
		{30, 30},
		{45, 60},
		{100, 90},
	}
	for _, tt := range tests {
		if got := g.snap(tt.input); got != tt.want {
			t.Errorf("snap(%.0f) = %.0f, want %.0f", tt.input, got, tt.want)
		}
	}
}

// ── layered ──────────────────────────────────────────────────

func TestLayered_ChainTB(t *testing.T) {
	nodes := []domain.Node{sized("a", 900, 900, 288, 320), sized("b", 0, 0, 288, 320), sized("c", 5, 5, 288, 320)}
	edges := []domain.Edge{edge("a", "b"), edge("b", "c")}

	out := Layered(nodes, edges, domain.DirectionTB)

	a, b, c := byID(t, out, "a"), byID(t, out, "b"), byID(t, out, "c")
	if a.Position != (domain.Position{X: Margin, Y: Margin}) {
		t.Errorf("a = %+v, want margin-anchored", a.Position)
	}
	if b.Position.Y != a.Position.Y+320+RankSep || c.Position.Y != b.Position.Y+320+RankSep {
		t.Errorf("ranks not separated: a=%v b=%v c=%v", a.Position.Y, b.Position.Y, c.Position.Y)
	}
	if a.Position.X != b.Position.X || b.Position.X != c.Position.X {
		t.Error("single-node ranks should share x")
	}
}

func TestLayered_LR(t *testing.T) {
	nodes := []domain.Node{sized("a", 0, 0, 100, 50), sized("b", 0, 0, 100, 50), sized("c", 0, 0, 100, 50)}
	edges := []domain.Edge{edge("a", "b"), edge("a", "c")}

	out := Layered(nodes, edges, domain.DirectionLR)

	a, b, c := byID(t, out, "a"), byID(t, out, "b"), byID(t, out, "c")
	if b.Position.X != a.Position.X+100+RankSep || c.Position.X != b.Position.X {
		t.Errorf("unexpected columns: a=%v b=%v c=%v", a.Position, b.Position, c.Position)
	}
	if math.Abs(c.Position.Y-b.Position.Y) != 50+NodeSep {
		t.Errorf("siblings should be NodeSep apart, got %v and %v", b.Position.Y, c.Position.Y)
	}
	if len(Overlapping(out)) != 0 {
		t.Error("layered output overlaps")
	}
}

func TestLayered_CycleTerminates(t *testing.T) {
	nodes := []domain.Node{sized("a", 0, 0, 100, 100), sized("b", 0, 0, 100, 100)}
	edges := []domain.Edge{edge("a", "b"), edge("b", "a")}

	out := Layered(nodes, edges, domain.DirectionTB)

	if byID(t, out, "a").Position == byID(t, out, "b").Position {
		t.Error("cyclic pair collapsed onto one position")
	}
}

func TestLayered_ChildrenKeepOffset(t *testing.T) {
	group := domain.Node{ID: "g", Type: domain.NodeTypeGroup, Position: domain.Position{X: 500, Y: 500},
		Style: &domain.NodeStyle{Width: 400, Height: 400}}
	child := sized("c", 20, 30, 100, 100)
	child.ParentID = "g"

	out := Layered([]domain.Node{group, child}, nil, domain.DirectionTB)

	if got := byID(t, out, "c").Position; got != (domain.Position{X: 20, Y: 30}) {
		t.Errorf("child relative position changed to %+v", got)
	}
	if byID(t, out, "g").Position == group.Position {
		t.Error("group should have been laid out")
	}
}

// ── overlap ──────────────────────────────────────────────────

func TestResolveOverlaps_Fixture(t *testing.T) {
	nodes := []domain.Node{
		sized("a", 0, 0, 100, 100),
		sized("b", 50, 10, 100, 100),
		sized("c", 20, 60, 100, 100),
	}
	if len(Overlapping(nodes)) == 0 {
		t.Fatal("fixture should start overlapping")
	}

	out, report := ResolveOverlaps(nodes, OverlapOptions{Padding: DefaultOverlapPadding})

	if pairs := Overlapping(out); len(pairs) != 0 {
		t.Errorf("still overlapping after %d iterations: %v", report.Iterations, pairs)
	}
	if !report.Converged || report.Iterations > MaxOverlapIterations {
		t.Errorf("report = %+v", report)
	}
	if got := byID(t, out, "b").Position; got != (domain.Position{X: 120, Y: 10}) {
		t.Errorf("b pushed to %+v, want right by penetration+padding", got)
	}
	if got := byID(t, out, "c").Position; got != (domain.Position{X: 20, Y: 120}) {
		t.Errorf("c pushed to %+v, want down by penetration+padding", got)
	}
	if byID(t, nodes, "b").Position.X != 50 {
		t.Error("input slice was mutated")
	}
}

func TestResolveOverlaps_SkipsParentChild(t *testing.T) {
	group := domain.Node{ID: "g", Type: domain.NodeTypeGroup, Style: &domain.NodeStyle{Width: 500, Height: 500}}
	child := sized("c", 10, 10, 100, 100)
	child.ParentID = "g"

	out, report := ResolveOverlaps([]domain.Node{group, child}, OverlapOptions{})

	if report.Moves != 0 || !report.Converged {
		t.Errorf("report = %+v, want no moves", report)
	}
	if byID(t, out, "c").Position != child.Position {
		t.Error("child was pushed out of its own group")
	}
}

func TestResolveOverlaps_GroupsBeforeNodes(t *testing.T) {
	g1 := domain.Node{ID: "g1", Type: domain.NodeTypeGroup, Style: &domain.NodeStyle{Width: 200, Height: 200}}
	g2 := domain.Node{ID: "g2", Type: domain.NodeTypeGroup, Position: domain.Position{X: 150},
		Style: &domain.NodeStyle{Width: 200, Height: 200}}
	loose := sized("n", 300, 10, 20, 20)

	out, report := ResolveOverlaps([]domain.Node{g1, g2, loose}, OverlapOptions{Padding: 10})

	if !report.Converged {
		t.Fatalf("report = %+v", report)
	}
	// g2 moves first: right by 50 + 10
	if got := byID(t, out, "g2").Position.X; got != 210 {
		t.Errorf("g2.X = %v, want 210", got)
	}
	// then the loose node is pushed out of the moved group, upwards
	if got := byID(t, out, "n").Position; got != (domain.Position{X: 300, Y: -30}) {
		t.Errorf("n = %+v, want (300, -30)", got)
	}
}

// ── group-local ──────────────────────────────────────────────

func TestLayoutGroup_CentersChildren(t *testing.T) {
	group := domain.Node{ID: "g", Type: domain.NodeTypeGroup, Position: domain.Position{X: 10, Y: 10},
		Style: &domain.NodeStyle{Width: 1000, Height: 1000}}
	a := sized("a", 0, 0, 100, 100)
	a.ParentID = "g"
	b := sized("b", 0, 0, 100, 100)
	b.ParentID = "g"
	outside := sized("x", 5000, 5000, 100, 100)

	out := LayoutGroup("g", []domain.Node{group, a, b, outside},
		[]domain.Edge{edge("a", "b"), edge("x", "a")}, domain.DirectionTB)

	pa, pb := byID(t, out, "a").Position, byID(t, out, "b").Position
	if pa != (domain.Position{X: 450, Y: 360}) || pb != (domain.Position{X: 450, Y: 540}) {
		t.Errorf("a=%+v b=%+v", pa, pb)
	}
	if byID(t, out, "x").Position != outside.Position || byID(t, out, "g").Position != group.Position {
		t.Error("nodes outside the group moved")
	}
}

func TestLayoutGroup_FitsUnsizedGroup(t *testing.T) {
	group := domain.Node{ID: "g", Type: domain.NodeTypeGroup}
	a := sized("a", 0, 0, 100, 100)
	a.ParentID = "g"

	out := LayoutGroup("g", []domain.Node{group, a}, nil, domain.DirectionTB)

	size := byID(t, out, "g").DeclaredSize()
	if size != (domain.Size{Width: 140, Height: 140}) {
		t.Errorf("group size = %+v", size)
	}
	if got := byID(t, out, "a").Position; got != (domain.Position{X: GroupPadding, Y: GroupPadding}) {
		t.Errorf("child = %+v", got)
	}
}

func TestLayoutGroup_Unknown(t *testing.T) {
	nodes := []domain.Node{sized("a", 1, 2, 3, 4)}
	out := LayoutGroup("missing", nodes, nil, domain.DirectionTB)
	if out[0].Position != nodes[0].Position {
		t.Error("unknown group should be a no-op")
	}
}

// ── placement ────────────────────────────────────────────────

func TestCalculatePosition(t *testing.T) {
	explicit := domain.Position{X: 7, Y: 8}
	tall := sized("root", 0, 0, 288, 200)

	tests := []struct {
		name string
		in   PlacementInput
		want domain.Position
	}{
		{"explicit", PlacementInput{Nodes: []domain.Node{tall}, Position: &explicit}, explicit},
		{"empty canvas", PlacementInput{}, domain.Position{X: 100, Y: 300}},
		{"source without targets", PlacementInput{
			Nodes:     []domain.Node{sized("s", 10, 20, 288, 320)},
			SourceIDs: []string{"s"},
		}, domain.Position{X: 410, Y: 20}},
		{"below existing target", PlacementInput{
			Nodes:     []domain.Node{sized("s", 0, 0, 288, 320), sized("t", 400, 0, 288, 320)},
			Edges:     []domain.Edge{edge("s", "t")},
			SourceIDs: []string{"s"},
		}, domain.Position{X: 400, Y: 350}},
		{"gap between roots", PlacementInput{
			Nodes: []domain.Node{sized("a", 0, 0, 288, 320), sized("b", 0, 100, 288, 320)},
		}, domain.Position{X: 0, Y: 50}},
		{"below last root", PlacementInput{Nodes: []domain.Node{tall}}, domain.Position{X: 0, Y: 230}},
		{"auto layout empty column", PlacementInput{
			Nodes:      []domain.Node{sized("s", 0, 0, 288, 320)},
			SourceIDs:  []string{"s"},
			AutoLayout: true,
		}, domain.Position{X: 400, Y: 0}},
		{"unknown source ignored", PlacementInput{
			Nodes:     []domain.Node{tall},
			SourceIDs: []string{"ghost"},
		}, domain.Position{X: 0, Y: 230}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculatePosition(tt.in); got != tt.want {
				t.Errorf("CalculatePosition() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCalculatePosition_AutoLayoutAvoidsColumn(t *testing.T) {
	in := PlacementInput{
		Nodes:      []domain.Node{sized("s", 0, 0, 288, 320), sized("n", 400, 0, 288, 320)},
		SourceIDs:  []string{"s"},
		AutoLayout: true,
	}
	got := CalculatePosition(in)
	if got.X != 400 {
		t.Errorf("x = %v, want 400", got.X)
	}
	if math.Abs(got.Y) < 320 {
		t.Errorf("y = %v sits on top of the existing node", got.Y)
	}
}

func TestCalculatePosition_ZeroVerticalSpacingTerminates(t *testing.T) {
	in := PlacementInput{
		Nodes:      []domain.Node{sized("s", 0, 0, 288, 320), sized("n", 400, 0, 288, 320)},
		SourceIDs:  []string{"s"},
		AutoLayout: true,
		Spacing:    Spacing{X: 400, InitialX: 100, InitialY: 300},
	}
	done := make(chan domain.Position, 1)
	go func() { done <- CalculatePosition(in) }()
	select {
	case got := <-done:
		if got.X != 400 {
			t.Errorf("x = %v, want 400", got.X)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CalculatePosition did not return with zero vertical spacing")
	}
}

// ── branch ───────────────────────────────────────────────────

func TestLayoutBranch(t *testing.T) {
	nodes := []domain.Node{
		sized("s", 0, 0, 288, 320),
		sized("a", 1000, 500, 288, 320),
		sized("b", 1000, 0, 288, 320),
		sized("c", 3000, 3000, 288, 320),
	}
	edges := []domain.Edge{edge("s", "a"), edge("s", "b"), edge("a", "c")}

	out := LayoutBranch([]string{"s"}, nodes, edges, Spacing{})

	if byID(t, out, "s").Position != nodes[0].Position {
		t.Error("start node moved")
	}
	a, b, c := byID(t, out, "a").Position, byID(t, out, "b").Position, byID(t, out, "c").Position
	if a.X != 400 || b.X != 400 || c.X != 800 {
		t.Errorf("columns: a=%v b=%v c=%v", a.X, b.X, c.X)
	}
	if b.Y != -175 || a.Y != 175 {
		t.Errorf("stacking: b=%v a=%v, want -175 / 175", b.Y, a.Y)
	}
	if a.Y-b.Y < 320+DefaultSpacing.Y {
		t.Errorf("column nodes closer than spacing: %v", a.Y-b.Y)
	}
}

func TestLayoutBranch_Cycle(t *testing.T) {
	nodes := []domain.Node{sized("a", 0, 0, 100, 100), sized("b", 0, 0, 100, 100)}
	edges := []domain.Edge{edge("a", "b"), edge("b", "a")}

	out := LayoutBranch([]string{"a"}, nodes, edges, Spacing{})

	if byID(t, out, "a").Position != (domain.Position{}) {
		t.Error("start node moved")
	}
	if byID(t, out, "b").Position.X != 400 {
		t.Errorf("b.X = %v", byID(t, out, "b").Position.X)
	}
}
