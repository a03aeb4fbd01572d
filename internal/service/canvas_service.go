package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"canvas/internal/alignment"
	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	"canvas/internal/geometry"
	"canvas/internal/graph"
	"canvas/internal/layout"
	"canvas/internal/replica"
	"canvas/internal/selection"
)

// DefaultEdgeCommitDelay is how long AddNode waits before connecting a new
// node, so the host has indexed it before edges reference it.
const DefaultEdgeCommitDelay = 10 * time.Millisecond

// DefaultSizeMode is written to new nodes that don't declare one.
const DefaultSizeMode = "adaptive"

type CanvasOptions struct {
	SnapThreshold   float64
	EdgeCommitDelay time.Duration
	AutoLayout      bool
	Spacing         layout.Spacing
	History         *replica.History
	Logger          *log.Logger

	// OverlapPadding is the gap left between nodes pushed apart by OnLayout.
	// Nil means layout.DefaultOverlapPadding; zero is honoured.
	OverlapPadding *float64
}

// NodeSpec describes a node to create. Data is required; ID is generated
// when empty.
type NodeSpec struct {
	ID       string           `json:"id,omitempty"`
	Type     domain.NodeType  `json:"type"`
	Data     *domain.NodeData `json:"data"`
	Position *domain.Position `json:"position,omitempty"`
}

type AddNodeOptions struct {
	// ConnectTo names the nodes the new node is connected from.
	ConnectTo      []domain.NodeFilter
	Preview        bool
	CenterOnCreate bool
}

// CanvasService is the mutation façade of one canvas. Every mutation runs
// under one mutex, reads the store, and writes the result back in a single
// store call.
type CanvasService struct {
	mu      sync.Mutex
	store   *graph.Store
	sel     *selection.Manager
	history *replica.History
	emitter EventEmitter
	logger  *log.Logger
	opts    CanvasOptions
	padding float64

	pending     runningJobsGuard
	unsubscribe func()
}

func NewCanvasService(store *graph.Store, emitter EventEmitter, opts CanvasOptions) *CanvasService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if opts.SnapThreshold <= 0 {
		opts.SnapThreshold = alignment.DefaultThreshold
	}
	padding := layout.DefaultOverlapPadding
	if opts.OverlapPadding != nil && *opts.OverlapPadding >= 0 {
		padding = *opts.OverlapPadding
	}
	if opts.EdgeCommitDelay <= 0 {
		opts.EdgeCommitDelay = DefaultEdgeCommitDelay
	}
	s := &CanvasService{
		store:   store,
		sel:     selection.New(store),
		history: opts.History,
		emitter: emitter,
		logger:  opts.Logger.WithPrefix("canvas"),
		opts:    opts,
		padding: padding,
	}
	s.unsubscribe = store.Subscribe(func(c graph.Change) {
		s.emitter.Emit(context.Background(), EventChanged, c)
	})
	return s
}

// Close stops forwarding store changes and waits for deferred edge commits.
func (s *CanvasService) Close(ctx context.Context) {
	s.pending.WaitAll(ctx)
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Drain waits until every deferred edge commit has run.
func (s *CanvasService) Drain(ctx context.Context) { s.pending.WaitAll(ctx) }

func (s *CanvasService) Store() *graph.Store { return s.store }

func (s *CanvasService) Snapshot() domain.Canvas { return s.store.Snapshot() }

// ─────────────────────────────────────────────────────────────
// Node lifecycle
// ─────────────────────────────────────────────────────────────

// AddNode creates a node and returns its absolute position. A node already
// representing the same (type, entityId) is selected and centered instead,
// and its position returned.
func (s *CanvasService) AddNode(ctx context.Context, spec NodeSpec, opts AddNodeOptions) (domain.Position, error) {
	if spec.Type == "" || !spec.Type.Valid() {
		return domain.Position{}, cerrors.New(cerrors.ErrCodeInvalidInput, "node type %q is invalid", spec.Type)
	}
	if spec.Data == nil {
		return domain.Position{}, cerrors.New(cerrors.ErrCodeInvalidInput, "node data is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	edges := s.store.Edges()

	filter := domain.NodeFilter{Type: spec.Type, EntityID: spec.Data.EntityID}
	if existing, ok := domain.FindByFilter(nodes, filter); ok {
		s.sel.SetSelectedNode(existing.ID)
		s.emitter.Emit(ctx, EventCenterNode, existing.ID)
		pos := geometry.AbsolutePosition(existing, nodes)
		s.logger.Debug("node exists, selecting", "id", existing.ID, "entity", filter.EntityID)
		return pos, nil
	}

	var sourceIDs []string
	seen := make(map[string]struct{})
	for _, f := range opts.ConnectTo {
		src, ok := domain.FindByFilter(nodes, f)
		if !ok {
			continue
		}
		if _, dup := seen[src.ID]; dup {
			continue
		}
		seen[src.ID] = struct{}{}
		sourceIDs = append(sourceIDs, src.ID)
	}

	pos := layout.CalculatePosition(layout.PlacementInput{
		Nodes:      nodes,
		Edges:      edges,
		SourceIDs:  sourceIDs,
		Position:   spec.Position,
		AutoLayout: s.opts.AutoLayout,
		Spacing:    s.opts.Spacing,
	})

	node := domain.Node{
		ID:        spec.ID,
		Type:      spec.Type,
		Position:  pos,
		Data:      prepareData(*spec.Data),
		Selected:  true,
		Draggable: true,
	}
	if node.ID == "" {
		node.ID = "node-" + uuid.NewString()
	}

	updated := make([]domain.Node, 0, len(nodes)+1)
	for _, n := range nodes {
		if n.ID == node.ID {
			continue
		}
		n.Selected = false
		updated = append(updated, n)
	}
	updated = append(updated, node)
	s.store.SetNodes(updated)

	if len(sourceIDs) > 0 {
		s.scheduleEdges(node.ID, sourceIDs)
	}
	if opts.Preview && spec.Type.Previewable() {
		s.store.AddNodePreview(graph.PreviewOf(node))
	}
	if opts.CenterOnCreate {
		s.emitter.Emit(ctx, EventCenterNode, node.ID)
	}
	s.emitter.Emit(ctx, EventNodeAdded, node)
	s.logger.Debug("node added", "id", node.ID, "type", node.Type, "x", pos.X, "y", pos.Y)
	return pos, nil
}

// scheduleEdges commits source→node edges after the edge commit delay. The
// guard tracks the commit so Drain and Close can wait for it.
func (s *CanvasService) scheduleEdges(nodeID string, sourceIDs []string) {
	key := "edges:" + nodeID
	if !s.pending.TryLock(key) {
		// a commit for this node is already queued; connect right away
		s.connectLocked(nodeID, sourceIDs)
		return
	}
	time.AfterFunc(s.opts.EdgeCommitDelay, func() {
		defer s.pending.Unlock(key)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.connectLocked(nodeID, sourceIDs)
	})
}

func (s *CanvasService) connectLocked(nodeID string, sourceIDs []string) {
	nodes := s.store.Nodes()
	if domain.FindNode(nodes, nodeID) < 0 {
		s.logger.Debug("node gone before edges were committed", "id", nodeID)
		return
	}
	edges := s.store.Edges()
	added := 0
	for _, src := range sourceIDs {
		if domain.FindNode(nodes, src) < 0 || domain.HasEdge(edges, src, nodeID) {
			continue
		}
		edges = append(edges, newEdge(src, nodeID))
		added++
	}
	if added > 0 {
		s.store.SetEdges(edges)
	}
}

// DeleteNode removes a node and its edges. Children of a deleted group are
// released at their absolute position.
func (s *CanvasService) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	i := domain.FindNode(nodes, id)
	if i < 0 {
		return cerrors.New(cerrors.ErrCodeNotFound, "node %s not found", id)
	}
	s.logger.Debug("deleting node", "node", describe(nodes[i]))
	nodes = removeNodes(nodes, map[string]struct{}{id: {}})
	s.store.SetGraph(nodes, domain.PruneEdges(s.store.Edges(), nodes))
	s.store.RemoveNodePreview(id)
	s.emitter.Emit(ctx, EventNodeDeleted, id)
	return nil
}

func (s *CanvasService) SetNodeData(ctx context.Context, id string, patch domain.NodeDataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	i := domain.FindNode(nodes, id)
	if i < 0 {
		return cerrors.New(cerrors.ErrCodeNotFound, "node %s not found", id)
	}
	s.patchLocked(nodes, i, patch)
	return nil
}

// SetNodeDataByEntity patches the node representing f. The skill pipeline
// streams results through here.
func (s *CanvasService) SetNodeDataByEntity(ctx context.Context, f domain.NodeFilter, patch domain.NodeDataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	for i := range nodes {
		if nodes[i].Matches(f) {
			s.patchLocked(nodes, i, patch)
			return nil
		}
	}
	return cerrors.New(cerrors.ErrCodeNotFound, "no %s node for entity %s", f.Type, f.EntityID)
}

func (s *CanvasService) patchLocked(nodes []domain.Node, i int, patch domain.NodeDataPatch) {
	data := patch.Apply(nodes[i].Data)
	if items, ok := data.Metadata[domain.MetaContextItems]; ok {
		data.Metadata[domain.MetaContextItems] = replica.PurgeContextItems(items)
	}
	nodes[i].Data = data
	s.store.SetNodes(nodes)
}

func (s *CanvasService) SetSelectedNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.SetSelectedNode(id)
}

// OnSelectionChange keeps the temporary group in step with a host
// multi-selection.
func (s *CanvasService) OnSelectionChange(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.HandleSelectionChange(ids)
}

// ─────────────────────────────────────────────────────────────
// Host change batches
// ─────────────────────────────────────────────────────────────

// OnNodesChange applies a change batch from the host. A single position
// change is snapped first; the returned result carries the guides to draw.
func (s *CanvasService) OnNodesChange(ctx context.Context, changes []domain.NodeChange) alignment.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	changes, res := alignment.Apply(changes, nodes, s.opts.SnapThreshold)

	removed := make(map[string]struct{})
	for _, c := range changes {
		if c.Type == domain.ChangeAdd {
			if c.Item != nil && domain.FindNode(nodes, c.Item.ID) < 0 {
				nodes = append(nodes, c.Item.Clone())
			}
			continue
		}
		i := domain.FindNode(nodes, c.ID)
		if i < 0 {
			continue
		}
		switch c.Type {
		case domain.ChangePosition:
			if c.Position != nil {
				nodes[i].Position = *c.Position
			}
		case domain.ChangeSelect:
			nodes[i].Selected = c.Selected
		case domain.ChangeDimensions:
			if c.Dimensions != nil {
				d := *c.Dimensions
				nodes[i].Measured = &d
			}
		case domain.ChangeReplace:
			if c.Item != nil {
				nodes[i] = c.Item.Clone()
			}
		case domain.ChangeRemove:
			removed[c.ID] = struct{}{}
		}
	}

	if len(removed) > 0 {
		nodes = removeNodes(nodes, removed)
		s.store.SetGraph(nodes, domain.PruneEdges(s.store.Edges(), nodes))
		for id := range removed {
			s.store.RemoveNodePreview(id)
			s.emitter.Emit(ctx, EventNodeDeleted, id)
		}
	} else {
		s.store.SetNodes(nodes)
	}
	if res.GuideX != nil || res.GuideY != nil {
		s.emitter.Emit(ctx, EventGuides, res)
	}
	return res
}

func (s *CanvasService) OnEdgesChange(ctx context.Context, changes []domain.EdgeChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges := s.store.Edges()
	removed := make(map[string]struct{})
	for _, c := range changes {
		i := edgeIndex(edges, c.ID)
		switch c.Type {
		case domain.ChangeAdd:
			if c.Item != nil && edgeIndex(edges, c.Item.ID) < 0 {
				edges = append(edges, *c.Item)
			}
		case domain.ChangeSelect:
			if i >= 0 {
				edges[i].Selected = c.Selected
			}
		case domain.ChangeReplace:
			if i >= 0 && c.Item != nil {
				edges[i] = *c.Item
			}
		case domain.ChangeRemove:
			removed[c.ID] = struct{}{}
		}
	}
	out := edges[:0]
	for _, e := range edges {
		if _, gone := removed[e.ID]; !gone {
			out = append(out, e)
		}
	}
	s.store.SetEdges(domain.PruneEdges(out, s.store.Nodes()))
}

// OnConnect adds a source→target edge, or returns the existing one.
func (s *CanvasService) OnConnect(ctx context.Context, source, target string) (domain.Edge, error) {
	if source == "" || target == "" {
		return domain.Edge{}, cerrors.New(cerrors.ErrCodeInvalidInput, "connection needs a source and a target")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	for _, id := range []string{source, target} {
		if domain.FindNode(nodes, id) < 0 {
			return domain.Edge{}, cerrors.New(cerrors.ErrCodeInvalidInput, "node %s does not exist", id)
		}
	}
	edges := s.store.Edges()
	for _, e := range edges {
		if e.Source == source && e.Target == target {
			return e, nil
		}
	}
	e := newEdge(source, target)
	s.store.SetEdges(append(edges, e))
	return e, nil
}

// ─────────────────────────────────────────────────────────────
// Layout
// ─────────────────────────────────────────────────────────────

// OnLayout runs the layered layout over the whole canvas, then pushes
// remaining overlaps apart.
func (s *CanvasService) OnLayout(ctx context.Context, dir domain.Direction) (layout.OverlapReport, error) {
	if !dir.Valid() {
		return layout.OverlapReport{}, cerrors.New(cerrors.ErrCodeInvalidInput, "layout direction %q is invalid", dir)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := layout.Layered(s.store.Nodes(), s.store.Edges(), dir)
	nodes, report := layout.ResolveOverlaps(nodes, layout.OverlapOptions{Padding: s.padding})
	if !report.Converged {
		s.logger.Warn("overlaps remain after layout", "canvas", s.store.ID(), "iterations", report.Iterations)
	}
	s.store.SetNodes(nodes)
	s.emitter.Emit(ctx, EventLayout, report)
	return report, nil
}

func (s *CanvasService) OnLayoutWithGroup(ctx context.Context, groupID string, dir domain.Direction) error {
	if dir == "" {
		dir = domain.DirectionLR
	}
	if !dir.Valid() {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "layout direction %q is invalid", dir)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	i := domain.FindNode(nodes, groupID)
	if i < 0 || !nodes[i].IsGroup() {
		return cerrors.New(cerrors.ErrCodeNotFound, "group %s not found", groupID)
	}
	s.store.SetNodes(layout.LayoutGroup(groupID, nodes, s.store.Edges(), dir))
	s.emitter.Emit(ctx, EventLayout, groupID)
	return nil
}

// ArrangeGrid lays out ids in snapped rows starting at the canvas origin.
func (s *CanvasService) ArrangeGrid(ctx context.Context, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.opts.Spacing
	if sp == (layout.Spacing{}) {
		sp = layout.DefaultSpacing
	}
	start := domain.Position{X: sp.InitialX, Y: sp.InitialY}
	s.store.SetNodes(layout.NewGrid().ArrangeGrid(s.store.Nodes(), ids, start))
}

// ─────────────────────────────────────────────────────────────
// Groups
// ─────────────────────────────────────────────────────────────

func (s *CanvasService) GroupSelected() (domain.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.CreateGroupFromSelectedNodes()
}

// GroupNodes selects ids and groups them.
func (s *CanvasService) GroupNodes(ids []string) (domain.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.SetSelectedNodes(ids)
	return s.sel.CreateGroupFromSelectedNodes()
}

func (s *CanvasService) Ungroup(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.UngroupNodes(groupID)
}

func (s *CanvasService) SelectCluster(seeds ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.SelectNodeCluster(seeds...)
}

func (s *CanvasService) LayoutCluster(seeds ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.LayoutNodeCluster(seeds...)
}

// ─────────────────────────────────────────────────────────────
// Canvas
// ─────────────────────────────────────────────────────────────

func (s *CanvasService) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.SetTitle(title)
}

func (s *CanvasService) SetMode(mode domain.InteractionMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SetMode(mode)
}

// Undo reports false when there is nothing to undo or no history attached.
func (s *CanvasService) Undo() bool {
	if s.history == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Undo()
}

func (s *CanvasService) Redo() bool {
	if s.history == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Redo()
}

// Import merges doc into the canvas. Nodes whose id already exists are
// skipped; edges are kept only when both endpoints end up present. The
// title is taken only when the canvas has none. It returns how many nodes
// were added.
func (s *CanvasService) Import(ctx context.Context, doc domain.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.store.Nodes()
	added := 0
	for _, n := range selection.SortNodes(doc.Nodes) {
		if n.ID == "" || !n.Type.Valid() {
			return 0, cerrors.New(cerrors.ErrCodeInvalidInput, "imported node %q is invalid", n.ID)
		}
		if domain.FindNode(nodes, n.ID) >= 0 {
			continue
		}
		n.Data = prepareData(n.Data)
		n.Selected = false
		nodes = append(nodes, n)
		added++
	}
	edges := s.store.Edges()
	for _, e := range doc.Edges {
		if edgeIndex(edges, e.ID) >= 0 || domain.HasEdge(edges, e.Source, e.Target) {
			continue
		}
		edges = append(edges, e)
	}
	s.store.SetGraph(nodes, domain.PruneEdges(edges, nodes))
	if s.store.Title() == "" && doc.Title != "" {
		s.store.SetTitle(doc.Title)
	}
	s.logger.Info("imported document", "canvas", s.store.ID(), "nodes", added)
	return added, nil
}

// ── helpers ──────────────────────────────────────────────────

func prepareData(d domain.NodeData) domain.NodeData {
	meta := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	if items, ok := meta[domain.MetaContextItems]; ok {
		meta[domain.MetaContextItems] = replica.PurgeContextItems(items)
	}
	if _, ok := meta[domain.MetaSizeMode]; !ok {
		meta[domain.MetaSizeMode] = DefaultSizeMode
	}
	d.Metadata = meta
	if d.CreatedAt == "" {
		d.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return d
}

func newEdge(source, target string) domain.Edge {
	style := domain.DefaultEdgeStyle
	return domain.Edge{
		ID:     "edge-" + uuid.NewString(),
		Source: source,
		Target: target,
		Type:   domain.EdgeTypeDefault,
		Style:  &style,
	}
}

func edgeIndex(edges []domain.Edge, id string) int {
	for i := range edges {
		if edges[i].ID == id {
			return i
		}
	}
	return -1
}

// removeNodes drops the nodes in ids. Surviving children of a dropped node
// become top-level at their absolute position.
func removeNodes(nodes []domain.Node, ids map[string]struct{}) []domain.Node {
	r := geometry.NewResolver(nodes)
	out := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, gone := ids[n.ID]; gone {
			continue
		}
		if _, orphan := ids[n.ParentID]; orphan && n.ParentID != "" {
			n.Position = r.Absolute(n)
			n.ParentID = ""
		}
		out = append(out, n)
	}
	return out
}

func describe(n domain.Node) string {
	if n.Data.Title != "" {
		return fmt.Sprintf("%s %q (%s)", n.Type, n.Data.Title, n.ID)
	}
	return fmt.Sprintf("%s (%s)", n.Type, n.ID)
}
