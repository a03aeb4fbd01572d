// Package graph holds the canonical node/edge state of a canvas.
//
// A Store is the single mutation path for one canvas: every setter replaces
// the affected collection wholesale and then notifies subscribers, so a
// reader always sees one consistent view. Stores are owned per session via
// a Registry; there is no package-level state.
package graph

import (
	"slices"
	"sort"
	"sync"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
)

// Origin tells subscribers whether a change was made locally or merged in
// from the replicated document.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Field names a collection of the canvas.
type Field string

const (
	FieldTitle    Field = "title"
	FieldNodes    Field = "nodes"
	FieldEdges    Field = "edges"
	FieldMode     Field = "mode"
	FieldPreviews Field = "previews"
)

// Replicated reports whether f is part of the replicated document.
func (f Field) Replicated() bool {
	return f == FieldTitle || f == FieldNodes || f == FieldEdges
}

// Change is delivered to subscribers after every write.
type Change struct {
	CanvasID string
	Fields   []Field
	Origin   Origin
	Version  uint64
}

// Has reports whether the change touched f.
func (c Change) Has(f Field) bool { return slices.Contains(c.Fields, f) }

// Replicated reports whether any replicated field changed.
func (c Change) Replicated() bool {
	for _, f := range c.Fields {
		if f.Replicated() {
			return true
		}
	}
	return false
}

type Listener func(Change)

// Store is the canonical state of one canvas.
type Store struct {
	mu      sync.RWMutex
	canvas  domain.Canvas
	version uint64

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(canvasID string) *Store {
	return &Store{
		canvas: domain.Canvas{
			ID:    canvasID,
			Mode:  domain.ModePointer,
			Nodes: []domain.Node{},
			Edges: []domain.Edge{},
		},
		listeners: make(map[int]Listener),
	}
}

func (s *Store) ID() string { return s.canvas.ID }

// Snapshot returns a deep copy of the canvas.
func (s *Store) Snapshot() domain.Canvas {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.canvas
	c.Nodes = domain.CloneNodes(s.canvas.Nodes)
	c.Edges = domain.CloneEdges(s.canvas.Edges)
	c.Previews = slices.Clone(s.canvas.Previews)
	return c
}

// Document returns the replicated projection of the canvas.
func (s *Store) Document() domain.Document { return s.Snapshot().Document() }

func (s *Store) Nodes() []domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneNodes(s.canvas.Nodes)
}

func (s *Store) Edges() []domain.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneEdges(s.canvas.Edges)
}

func (s *Store) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canvas.Title
}

func (s *Store) Mode() domain.InteractionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canvas.Mode
}

func (s *Store) Previews() []domain.NodePreview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.canvas.Previews)
}

// Version increases by one with every write.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ─────────────────────────────────────────────────────────────
// Setters
// ─────────────────────────────────────────────────────────────

func (s *Store) SetNodes(nodes []domain.Node) {
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		c.Nodes = nonNil(domain.CloneNodes(nodes))
		return []Field{FieldNodes}
	})
}

func (s *Store) SetEdges(edges []domain.Edge) {
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		c.Edges = nonNilEdges(domain.CloneEdges(edges))
		return []Field{FieldEdges}
	})
}

// SetGraph replaces nodes and edges together under one notification.
func (s *Store) SetGraph(nodes []domain.Node, edges []domain.Edge) {
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		c.Nodes = nonNil(domain.CloneNodes(nodes))
		c.Edges = nonNilEdges(domain.CloneEdges(edges))
		return []Field{FieldNodes, FieldEdges}
	})
}

func (s *Store) SetTitle(title string) {
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		c.Title = title
		return []Field{FieldTitle}
	})
}

func (s *Store) SetMode(mode domain.InteractionMode) error {
	if !mode.Valid() {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "unknown interaction mode %q", mode)
	}
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		c.Mode = mode
		return []Field{FieldMode}
	})
	return nil
}

// AddNodePreview opens p in the preview panel. An existing entry for the
// same node is replaced in place, keeping its pin.
func (s *Store) AddNodePreview(p domain.NodePreview) {
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		previews := slices.Clone(c.Previews)
		if i := previewIndex(previews, p.ID); i >= 0 {
			p.IsPinned = p.IsPinned || previews[i].IsPinned
			previews[i] = p
		} else {
			previews = append(previews, p)
		}
		c.Previews = previews
		return []Field{FieldPreviews}
	})
}

// RemoveNodePreview closes a node's preview. Unknown ids are a no-op.
func (s *Store) RemoveNodePreview(nodeID string) {
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		if previewIndex(c.Previews, nodeID) < 0 {
			return nil
		}
		c.Previews = slices.DeleteFunc(slices.Clone(c.Previews), func(p domain.NodePreview) bool {
			return p.ID == nodeID
		})
		return []Field{FieldPreviews}
	})
}

// PinNode pins a node's preview, opening it first if needed.
func (s *Store) PinNode(nodeID string) error { return s.setPinned(nodeID, true) }

func (s *Store) UnpinNode(nodeID string) error { return s.setPinned(nodeID, false) }

func (s *Store) setPinned(nodeID string, pinned bool) error {
	var err error
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		previews := slices.Clone(c.Previews)
		if i := previewIndex(previews, nodeID); i >= 0 {
			if previews[i].IsPinned == pinned {
				return nil
			}
			previews[i].IsPinned = pinned
			c.Previews = previews
			return []Field{FieldPreviews}
		}
		if !pinned {
			return nil
		}
		i := domain.FindNode(c.Nodes, nodeID)
		if i < 0 {
			err = cerrors.New(cerrors.ErrCodeNotFound, "node %s not found", nodeID)
			return nil
		}
		c.Previews = append(previews, previewOf(c.Nodes[i], true))
		return []Field{FieldPreviews}
	})
	return err
}

// SetDocument replaces title, nodes and edges together as a local write.
// History uses it to restore a recorded state.
func (s *Store) SetDocument(doc domain.Document) {
	s.write(OriginLocal, func(c *domain.Canvas) []Field {
		c.Title = doc.Title
		c.Nodes = nonNil(domain.CloneNodes(doc.Nodes))
		c.Edges = nonNilEdges(domain.CloneEdges(doc.Edges))
		return []Field{FieldTitle, FieldNodes, FieldEdges}
	})
}

// ApplyRemote replaces the replicated fields with an inbound document.
// Subscribers see OriginRemote so the change is not pushed back.
func (s *Store) ApplyRemote(doc domain.Document) {
	s.write(OriginRemote, func(c *domain.Canvas) []Field {
		var fields []Field
		if c.Title != doc.Title {
			c.Title = doc.Title
			fields = append(fields, FieldTitle)
		}
		c.Nodes = nonNil(domain.CloneNodes(doc.Nodes))
		c.Edges = nonNilEdges(domain.CloneEdges(doc.Edges))
		return append(fields, FieldNodes, FieldEdges)
	})
}

// Subscribe registers l for every subsequent change and returns a function
// that removes it. Listeners run synchronously after the write, outside the
// store lock, in registration order.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

// ── helpers ──────────────────────────────────────────────────

// write applies fn under the lock and notifies listeners if it reported
// any changed fields.
func (s *Store) write(origin Origin, fn func(c *domain.Canvas) []Field) {
	s.mu.Lock()
	fields := fn(&s.canvas)
	if len(fields) == 0 {
		s.mu.Unlock()
		return
	}
	s.version++
	ch := Change{CanvasID: s.canvas.ID, Fields: fields, Origin: origin, Version: s.version}
	s.mu.Unlock()

	s.notify(ch)
}

func (s *Store) notify(ch Change) {
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, l := range ls {
		l(ch)
	}
}

func previewIndex(previews []domain.NodePreview, id string) int {
	return slices.IndexFunc(previews, func(p domain.NodePreview) bool { return p.ID == id })
}

func previewOf(n domain.Node, pinned bool) domain.NodePreview {
	return domain.NodePreview{
		ID:       n.ID,
		Type:     n.Type,
		EntityID: n.Data.EntityID,
		Title:    n.Data.Title,
		IsPinned: pinned,
	}
}

// PreviewOf builds the preview entry for n.
func PreviewOf(n domain.Node) domain.NodePreview { return previewOf(n, false) }

func nonNil(nodes []domain.Node) []domain.Node {
	if nodes == nil {
		return []domain.Node{}
	}
	return nodes
}

func nonNilEdges(edges []domain.Edge) []domain.Edge {
	if edges == nil {
		return []domain.Edge{}
	}
	return edges
}
