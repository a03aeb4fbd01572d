package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"canvas/internal/alignment"
	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	"canvas/internal/graph"
	"canvas/internal/layout"
	"canvas/internal/replica"
	"canvas/internal/service"
)

func newCanvas(t *testing.T, nodes ...domain.Node) (*service.CanvasService, *graph.Store, *service.MockEmitter) {
	t.Helper()
	store := graph.New("c1")
	if len(nodes) > 0 {
		store.SetNodes(nodes)
	}
	em := &service.MockEmitter{}
	svc := service.NewCanvasService(store, em, service.CanvasOptions{EdgeCommitDelay: 100 * time.Millisecond})
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc, store, em
}

func box(id string, x, y float64) domain.Node {
	return domain.Node{
		ID:       id,
		Type:     domain.NodeTypeDocument,
		Position: domain.Position{X: x, Y: y},
		Measured: &domain.Size{Width: 100, Height: 100},
		Data:     domain.NodeData{Title: id, EntityID: "e-" + id},
	}
}

func nodeByID(t *testing.T, store *graph.Store, id string) domain.Node {
	t.Helper()
	nodes := store.Nodes()
	i := domain.FindNode(nodes, id)
	if i < 0 {
		t.Fatalf("node %s not found", id)
	}
	return nodes[i]
}

// ─────────────────────────────────────────────────────────────
// AddNode
// ─────────────────────────────────────────────────────────────

func TestAddNode_RejectsInvalidInput(t *testing.T) {
	svc, store, _ := newCanvas(t)
	ctx := context.Background()

	_, err := svc.AddNode(ctx, service.NodeSpec{Type: domain.NodeTypeDocument}, service.AddNodeOptions{})
	if !cerrors.Is(err, cerrors.ErrCodeInvalidInput) {
		t.Errorf("missing data: expected INVALID_INPUT, got %v", err)
	}
	_, err = svc.AddNode(ctx, service.NodeSpec{Type: "spreadsheet", Data: &domain.NodeData{}}, service.AddNodeOptions{})
	if !cerrors.Is(err, cerrors.ErrCodeInvalidInput) {
		t.Errorf("bad type: expected INVALID_INPUT, got %v", err)
	}
	if len(store.Nodes()) != 0 {
		t.Errorf("rejected adds must not mutate the canvas, got %d nodes", len(store.Nodes()))
	}
}

func TestAddNode_EmptyCanvas(t *testing.T) {
	svc, store, em := newCanvas(t)
	pos, err := svc.AddNode(context.Background(), service.NodeSpec{
		ID:   "n1",
		Type: domain.NodeTypeMemo,
		Data: &domain.NodeData{Title: "Memo", EntityID: "m1"},
	}, service.AddNodeOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if pos != (domain.Position{X: 100, Y: 300}) {
		t.Errorf("expected initial position (100,300), got %+v", pos)
	}
	n := nodeByID(t, store, "n1")
	if !n.Selected || !n.Draggable {
		t.Errorf("new node should be selected and draggable: %+v", n)
	}
	if n.Data.Metadata[domain.MetaSizeMode] != service.DefaultSizeMode {
		t.Errorf("expected default sizeMode, got %v", n.Data.Metadata[domain.MetaSizeMode])
	}
	if n.Data.CreatedAt == "" {
		t.Error("expected createdAt to be set")
	}
	if len(em.Named(service.EventNodeAdded)) != 1 {
		t.Errorf("expected one node-added event, got %d", len(em.Named(service.EventNodeAdded)))
	}
}

func TestAddNode_IdempotentByEntity(t *testing.T) {
	svc, store, em := newCanvas(t, box("a", 40, 60), box("b", 400, 60))
	ctx := context.Background()
	spec := service.NodeSpec{Type: domain.NodeTypeDocument, Data: &domain.NodeData{EntityID: "e-a"}}

	pos, err := svc.AddNode(ctx, spec, service.AddNodeOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if pos != (domain.Position{X: 40, Y: 60}) {
		t.Errorf("expected existing position, got %+v", pos)
	}
	if len(store.Nodes()) != 2 {
		t.Fatalf("expected no new node, got %d nodes", len(store.Nodes()))
	}
	if !nodeByID(t, store, "a").Selected || nodeByID(t, store, "b").Selected {
		t.Error("expected only the existing node to be selected")
	}
	centers := em.Named(service.EventCenterNode)
	if len(centers) != 1 || centers[0].Data != "a" {
		t.Errorf("expected a center request for a, got %+v", centers)
	}
}

func TestAddNode_DeselectsOthersAndDedupesByID(t *testing.T) {
	a := box("a", 0, 0)
	a.Selected = true
	svc, store, _ := newCanvas(t, a)

	_, err := svc.AddNode(context.Background(), service.NodeSpec{
		ID: "a", Type: domain.NodeTypeMemo, Data: &domain.NodeData{Title: "again"},
	}, service.AddNodeOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	nodes := store.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("expected the node to be replaced by id, got %d nodes", len(nodes))
	}
	if nodes[0].Type != domain.NodeTypeMemo || !nodes[0].Selected {
		t.Errorf("unexpected node: %+v", nodes[0])
	}
}

func TestAddNode_CommitsEdgesAfterDelay(t *testing.T) {
	svc, store, _ := newCanvas(t, box("a", 0, 0))
	ctx := context.Background()

	_, err := svc.AddNode(ctx, service.NodeSpec{
		ID:   "b",
		Type: domain.NodeTypeSkillResponse,
		Data: &domain.NodeData{EntityID: "r1"},
	}, service.AddNodeOptions{ConnectTo: []domain.NodeFilter{
		{Type: domain.NodeTypeDocument, EntityID: "e-a"},
		{Type: domain.NodeTypeDocument, EntityID: "e-a"},
		{Type: domain.NodeTypeDocument, EntityID: "missing"},
	}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(store.Edges()) != 0 {
		t.Fatalf("edges must be committed after the node, got %d right away", len(store.Edges()))
	}

	svc.Drain(ctx)
	edges := store.Edges()
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	e := edges[0]
	if e.Source != "a" || e.Target != "b" || !strings.HasPrefix(e.ID, "edge-") {
		t.Errorf("unexpected edge: %+v", e)
	}
	if e.Style == nil || e.Style.Stroke != domain.DefaultEdgeStyle.Stroke {
		t.Errorf("expected default edge style, got %+v", e.Style)
	}
}

func TestAddNode_PlacesNextToSource(t *testing.T) {
	svc, _, _ := newCanvas(t, box("a", 100, 300))
	pos, err := svc.AddNode(context.Background(), service.NodeSpec{
		Type: domain.NodeTypeSkillResponse,
		Data: &domain.NodeData{EntityID: "r1"},
	}, service.AddNodeOptions{ConnectTo: []domain.NodeFilter{{Type: domain.NodeTypeDocument, EntityID: "e-a"}}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if pos.X <= 200 {
		t.Errorf("expected the node to the right of its source, got %+v", pos)
	}
}

func TestAddNode_Preview(t *testing.T) {
	svc, store, _ := newCanvas(t)
	ctx := context.Background()

	if _, err := svc.AddNode(ctx, service.NodeSpec{ID: "d", Type: domain.NodeTypeDocument, Data: &domain.NodeData{EntityID: "d"}},
		service.AddNodeOptions{Preview: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddNode(ctx, service.NodeSpec{ID: "m", Type: domain.NodeTypeMemo, Data: &domain.NodeData{EntityID: "m"}},
		service.AddNodeOptions{Preview: true}); err != nil {
		t.Fatal(err)
	}
	previews := store.Previews()
	if len(previews) != 1 || previews[0].ID != "d" {
		t.Errorf("expected only the document to be previewed, got %+v", previews)
	}
}

func TestAddNode_PurgesContextItems(t *testing.T) {
	svc, store, _ := newCanvas(t)
	items := make([]any, 60)
	for i := range items {
		items[i] = map[string]any{"type": "document", "entityId": "x", "_internal": true}
	}
	_, err := svc.AddNode(context.Background(), service.NodeSpec{
		ID:   "s",
		Type: domain.NodeTypeSkill,
		Data: &domain.NodeData{Metadata: map[string]any{domain.MetaContextItems: items}},
	}, service.AddNodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := nodeByID(t, store, "s").Data.Metadata[domain.MetaContextItems].([]any)
	if len(got) != replica.MaxContextItems {
		t.Fatalf("expected %d context items, got %d", replica.MaxContextItems, len(got))
	}
	if _, leaked := got[0].(map[string]any)["_internal"]; leaked {
		t.Error("unknown context item fields should be dropped")
	}
}

// ─────────────────────────────────────────────────────────────
// DeleteNode / data
// ─────────────────────────────────────────────────────────────

func TestDeleteNode_ReleasesChildren(t *testing.T) {
	g := domain.Node{ID: "g", Type: domain.NodeTypeGroup, Position: domain.Position{X: 100, Y: 100}}
	c := box("c", 10, 20)
	c.ParentID = "g"
	x := box("x", 500, 0)
	svc, store, em := newCanvas(t, g, c, x)
	store.SetEdges([]domain.Edge{{ID: "e1", Source: "g", Target: "x"}, {ID: "e2", Source: "c", Target: "x"}})

	if err := svc.DeleteNode(context.Background(), "g"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	child := nodeByID(t, store, "c")
	if child.ParentID != "" || child.Position != (domain.Position{X: 110, Y: 120}) {
		t.Errorf("expected child released at (110,120), got %+v", child)
	}
	edges := store.Edges()
	if len(edges) != 1 || edges[0].ID != "e2" {
		t.Errorf("expected only e2 to survive, got %+v", edges)
	}
	if len(em.Named(service.EventNodeDeleted)) != 1 {
		t.Error("expected a node-deleted event")
	}

	err := svc.DeleteNode(context.Background(), "g")
	if !cerrors.Is(err, cerrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSetNodeDataByEntity(t *testing.T) {
	a := box("a", 0, 0)
	a.Data.Metadata = map[string]any{"status": "waiting", "keep": 1.0}
	svc, store, _ := newCanvas(t, a)
	ctx := context.Background()

	title := "Done"
	err := svc.SetNodeDataByEntity(ctx, domain.NodeFilter{Type: domain.NodeTypeDocument, EntityID: "e-a"},
		domain.NodeDataPatch{Title: &title, Metadata: map[string]any{"status": "finish"}})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	n := nodeByID(t, store, "a")
	if n.Data.Title != "Done" || n.Data.Metadata["status"] != "finish" || n.Data.Metadata["keep"] != 1.0 {
		t.Errorf("metadata should be merged: %+v", n.Data)
	}

	err = svc.SetNodeDataByEntity(ctx, domain.NodeFilter{Type: domain.NodeTypeMemo, EntityID: "e-a"}, domain.NodeDataPatch{})
	if !cerrors.Is(err, cerrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND for a type mismatch, got %v", err)
	}
	if err := svc.SetNodeData(ctx, "nope", domain.NodeDataPatch{}); !cerrors.Is(err, cerrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSetSelectedNode(t *testing.T) {
	svc, store, _ := newCanvas(t, box("a", 0, 0), box("b", 200, 0))
	svc.SetSelectedNode("b")
	if nodeByID(t, store, "a").Selected || !nodeByID(t, store, "b").Selected {
		t.Error("expected only b selected")
	}
	svc.SetSelectedNode("")
	if nodeByID(t, store, "b").Selected {
		t.Error("expected selection cleared")
	}
}

// ─────────────────────────────────────────────────────────────
// Change batches
// ─────────────────────────────────────────────────────────────

func TestOnNodesChange_SnapsSingleDrag(t *testing.T) {
	svc, store, em := newCanvas(t, box("a", 0, 0), box("b", 108, 0))

	res := svc.OnNodesChange(context.Background(), []domain.NodeChange{
		{Type: domain.ChangePosition, ID: "a", Position: &domain.Position{X: 106, Y: 0}, Dragging: true},
	})
	if res.MatchX != alignment.LeftLeft || res.GuideX == nil || *res.GuideX != 108 {
		t.Fatalf("expected left-left snap with guide 108, got %+v", res)
	}
	if got := nodeByID(t, store, "a").Position; got != (domain.Position{X: 108, Y: 0}) {
		t.Errorf("expected snapped position (108,0), got %+v", got)
	}
	if len(em.Named(service.EventGuides)) != 1 {
		t.Error("expected a guides event")
	}
}

func TestOnNodesChange_Batch(t *testing.T) {
	svc, store, _ := newCanvas(t, box("a", 0, 0), box("b", 500, 500), box("c", 1000, 0))
	store.SetEdges([]domain.Edge{{ID: "ab", Source: "a", Target: "b"}, {ID: "bc", Source: "b", Target: "c"}})
	added := box("d", 0, 900)

	svc.OnNodesChange(context.Background(), []domain.NodeChange{
		{Type: domain.ChangeSelect, ID: "a", Selected: true},
		{Type: domain.ChangeDimensions, ID: "c", Dimensions: &domain.Size{Width: 320, Height: 80}},
		{Type: domain.ChangeRemove, ID: "b"},
		{Type: domain.ChangeAdd, ID: "d", Item: &added},
		{Type: domain.ChangePosition, ID: "ghost", Position: &domain.Position{}},
	})

	nodes := store.Nodes()
	if len(nodes) != 3 || domain.FindNode(nodes, "b") >= 0 || domain.FindNode(nodes, "d") < 0 {
		t.Fatalf("unexpected nodes after batch: %+v", nodes)
	}
	if !nodeByID(t, store, "a").Selected {
		t.Error("expected a selected")
	}
	if m := nodeByID(t, store, "c").Measured; m == nil || m.Width != 320 {
		t.Errorf("expected measured width 320, got %+v", m)
	}
	if len(store.Edges()) != 0 {
		t.Errorf("removal must cascade to edges, got %+v", store.Edges())
	}
}

func TestOnEdgesChange(t *testing.T) {
	svc, store, _ := newCanvas(t, box("a", 0, 0), box("b", 200, 0))
	store.SetEdges([]domain.Edge{{ID: "e1", Source: "a", Target: "b"}})

	svc.OnEdgesChange(context.Background(), []domain.EdgeChange{
		{Type: domain.ChangeSelect, ID: "e1", Selected: true},
		{Type: domain.ChangeAdd, ID: "e2", Item: &domain.Edge{ID: "e2", Source: "b", Target: "a"}},
		{Type: domain.ChangeAdd, ID: "e3", Item: &domain.Edge{ID: "e3", Source: "b", Target: "ghost"}},
	})
	edges := store.Edges()
	if len(edges) != 2 || !edges[0].Selected || edges[1].ID != "e2" {
		t.Fatalf("unexpected edges: %+v", edges)
	}

	svc.OnEdgesChange(context.Background(), []domain.EdgeChange{{Type: domain.ChangeRemove, ID: "e1"}})
	if edges := store.Edges(); len(edges) != 1 || edges[0].ID != "e2" {
		t.Errorf("expected only e2 left, got %+v", edges)
	}
}

func TestOnConnect(t *testing.T) {
	svc, store, _ := newCanvas(t, box("a", 0, 0), box("b", 200, 0))
	ctx := context.Background()

	if _, err := svc.OnConnect(ctx, "a", "ghost"); !cerrors.Is(err, cerrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for a missing endpoint, got %v", err)
	}
	if _, err := svc.OnConnect(ctx, "", "b"); !cerrors.Is(err, cerrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for an empty source, got %v", err)
	}

	first, err := svc.OnConnect(ctx, "a", "b")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	second, err := svc.OnConnect(ctx, "a", "b")
	if err != nil {
		t.Fatalf("connect again: %v", err)
	}
	if first.ID != second.ID || len(store.Edges()) != 1 {
		t.Errorf("expected connect to be idempotent, got %s / %s with %d edges", first.ID, second.ID, len(store.Edges()))
	}
}

// ─────────────────────────────────────────────────────────────
// Layout / groups
// ─────────────────────────────────────────────────────────────

func TestOnLayout(t *testing.T) {
	svc, store, em := newCanvas(t, box("a", 0, 0), box("b", 10, 10), box("c", 20, 20))
	store.SetEdges([]domain.Edge{{ID: "ab", Source: "a", Target: "b"}, {ID: "ac", Source: "a", Target: "c"}})
	ctx := context.Background()

	if _, err := svc.OnLayout(ctx, "diagonal"); !cerrors.Is(err, cerrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
	report, err := svc.OnLayout(ctx, domain.DirectionLR)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	if !report.Converged {
		t.Errorf("expected a converged layout, got %+v", report)
	}
	if pairs := layout.Overlapping(store.Nodes()); len(pairs) != 0 {
		t.Errorf("expected no overlaps, got %v", pairs)
	}
	a, b := nodeByID(t, store, "a"), nodeByID(t, store, "b")
	if b.Position.X <= a.Position.X {
		t.Errorf("LR layout should put b right of a: a=%+v b=%+v", a.Position, b.Position)
	}
	if len(em.Named(service.EventLayout)) != 1 {
		t.Error("expected a layout event")
	}
}

func TestOnLayout_OverlapPadding(t *testing.T) {
	zero, five := 0.0, 5.0
	tests := []struct {
		name    string
		padding *float64
		want    float64
	}{
		{"unset uses default", nil, 100 + layout.DefaultOverlapPadding},
		{"zero is honoured", &zero, 100},
		{"explicit", &five, 105},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := graph.New("c1")
			// a and b keep their overlapping offsets inside g through the layered pass
			a, b := box("a", 0, 0), box("b", 50, 0)
			a.ParentID, b.ParentID = "g", "g"
			store.SetNodes([]domain.Node{{ID: "g", Type: domain.NodeTypeGroup}, a, b})
			svc := service.NewCanvasService(store, nil, service.CanvasOptions{OverlapPadding: tt.padding})
			defer svc.Close(context.Background())

			report, err := svc.OnLayout(context.Background(), domain.DirectionTB)
			if err != nil {
				t.Fatalf("layout: %v", err)
			}
			if !report.Converged || report.Moves != 1 {
				t.Errorf("report = %+v, want one move", report)
			}
			gap := nodeByID(t, store, "b").Position.X - nodeByID(t, store, "a").Position.X
			if gap != tt.want {
				t.Errorf("b - a = %v, want %v", gap, tt.want)
			}
		})
	}
}

func TestOnLayoutWithGroup_NotFound(t *testing.T) {
	svc, _, _ := newCanvas(t, box("a", 0, 0))
	err := svc.OnLayoutWithGroup(context.Background(), "a", domain.DirectionTB)
	if !cerrors.Is(err, cerrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND for a non-group, got %v", err)
	}
}

func TestGroupNodes_RoundTrip(t *testing.T) {
	svc, store, _ := newCanvas(t, box("a", 0, 0), box("b", 300, 50))

	g, ok := svc.GroupNodes([]string{"a", "b"})
	if !ok {
		t.Fatal("expected a group")
	}
	if nodeByID(t, store, "a").ParentID != g.ID {
		t.Error("expected a to be adopted by the group")
	}
	if err := svc.OnLayoutWithGroup(context.Background(), g.ID, ""); err != nil {
		t.Fatalf("layout group: %v", err)
	}
	if !svc.Ungroup(g.ID) {
		t.Fatal("expected ungroup to succeed")
	}
	if domain.FindNode(store.Nodes(), g.ID) >= 0 {
		t.Error("expected the group to be removed")
	}
	for _, id := range []string{"a", "b"} {
		if nodeByID(t, store, id).ParentID != "" {
			t.Errorf("%s should be top-level after ungroup", id)
		}
	}
}

// ─────────────────────────────────────────────────────────────
// Canvas level
// ─────────────────────────────────────────────────────────────

func TestUndoRedo(t *testing.T) {
	store := graph.New("c1")
	h := replica.NewHistory(store, replica.HistoryOptions{})
	h.Attach()
	defer h.Detach()
	svc := service.NewCanvasService(store, nil, service.CanvasOptions{History: h})
	defer svc.Close(context.Background())

	svc.SetTitle("Draft")
	if !svc.Undo() {
		t.Fatal("expected undo to succeed")
	}
	if store.Title() != "" {
		t.Errorf("expected empty title after undo, got %q", store.Title())
	}
	if !svc.Redo() {
		t.Fatal("expected redo to succeed")
	}
	if store.Title() != "Draft" {
		t.Errorf("expected title restored, got %q", store.Title())
	}
	if svc.Redo() {
		t.Error("expected nothing left to redo")
	}
}

func TestUndo_WithoutHistory(t *testing.T) {
	svc, _, _ := newCanvas(t)
	if svc.Undo() || svc.Redo() {
		t.Error("undo and redo should report false without history")
	}
}

func TestSetMode(t *testing.T) {
	svc, store, _ := newCanvas(t)
	if err := svc.SetMode(domain.ModeHand); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if store.Mode() != domain.ModeHand {
		t.Errorf("expected hand mode, got %q", store.Mode())
	}
	if err := svc.SetMode("lasso"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

func TestImport(t *testing.T) {
	svc, store, _ := newCanvas(t, box("a", 0, 0))
	doc := domain.Document{
		Title: "Imported",
		Nodes: []domain.Node{box("a", 999, 999), box("b", 200, 0)},
		Edges: []domain.Edge{{ID: "ab", Source: "a", Target: "b"}, {ID: "bz", Source: "b", Target: "z"}},
	}
	added, err := svc.Import(context.Background(), doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if added != 1 {
		t.Errorf("expected 1 node added, got %d", added)
	}
	if nodeByID(t, store, "a").Position.X != 0 {
		t.Error("existing nodes must not be overwritten")
	}
	if edges := store.Edges(); len(edges) != 1 || edges[0].ID != "ab" {
		t.Errorf("expected only ab, got %+v", edges)
	}
	if store.Title() != "Imported" {
		t.Errorf("expected title from the import, got %q", store.Title())
	}

	_, err = svc.Import(context.Background(), domain.Document{Nodes: []domain.Node{{ID: "bad", Type: "nope"}}})
	if !cerrors.Is(err, cerrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestStoreChangesAreEmitted(t *testing.T) {
	svc, _, em := newCanvas(t)
	svc.SetTitle("x")
	changes := em.Named(service.EventChanged)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change event, got %d", len(changes))
	}
	c, ok := changes[0].Data.(graph.Change)
	if !ok || !c.Has(graph.FieldTitle) {
		t.Errorf("unexpected change payload: %+v", changes[0].Data)
	}
}
