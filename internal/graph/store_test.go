package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
)

func doc(id, title string) domain.Node {
	return domain.Node{ID: id, Type: domain.NodeTypeDocument, Data: domain.NodeData{Title: title, EntityID: "e-" + id}}
}

func TestStore_SettersReplaceWholesale(t *testing.T) {
	s := New("c1")
	s.SetNodes([]domain.Node{doc("a", "A"), doc("b", "B")})
	s.SetNodes([]domain.Node{doc("c", "C")})

	nodes := s.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "c", nodes[0].ID)
	assert.Equal(t, uint64(2), s.Version())
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := New("c1")
	n := doc("a", "A")
	n.Data.Metadata = map[string]any{"k": "v"}
	s.SetNodes([]domain.Node{n})

	// mutating the input after the write must not leak in
	n.Data.Metadata["k"] = "changed"
	snap := s.Snapshot()
	snap.Nodes[0].Data.Title = "mutated"

	got := s.Nodes()[0]
	assert.Equal(t, "A", got.Data.Title)
	assert.Equal(t, "v", got.Data.Metadata["k"])
}

func TestStore_NotifiesSubscribers(t *testing.T) {
	s := New("c1")
	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.SetTitle("hello")
	s.SetGraph([]domain.Node{doc("a", "A")}, nil)
	require.NoError(t, s.SetMode(domain.ModeHand))

	require.Len(t, changes, 3)
	assert.True(t, changes[0].Has(FieldTitle))
	assert.True(t, changes[1].Has(FieldNodes) && changes[1].Has(FieldEdges))
	assert.False(t, changes[2].Replicated())
	assert.Equal(t, OriginLocal, changes[0].Origin)

	unsubscribe()
	s.SetTitle("again")
	assert.Len(t, changes, 3)
}

func TestStore_SetModeRejectsUnknown(t *testing.T) {
	s := New("c1")
	err := s.SetMode("zoom")
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrCodeInvalidInput))
	assert.Equal(t, domain.ModePointer, s.Mode())
}

func TestStore_ApplyRemote(t *testing.T) {
	s := New("c1")
	var got Change
	s.Subscribe(func(c Change) { got = c })

	s.ApplyRemote(domain.Document{
		Title: "remote",
		Nodes: []domain.Node{doc("a", "A")},
		Edges: []domain.Edge{{ID: "e1", Source: "a", Target: "a"}},
	})

	assert.Equal(t, OriginRemote, got.Origin)
	assert.True(t, got.Has(FieldTitle))
	assert.Equal(t, "remote", s.Title())
	assert.Len(t, s.Edges(), 1)
}

func TestStore_PreviewsAndPins(t *testing.T) {
	s := New("c1")
	s.SetNodes([]domain.Node{doc("a", "A"), doc("b", "B")})

	s.AddNodePreview(PreviewOf(s.Nodes()[0]))
	s.AddNodePreview(PreviewOf(s.Nodes()[0]))
	require.Len(t, s.Previews(), 1)

	require.NoError(t, s.PinNode("b"))
	previews := s.Previews()
	require.Len(t, previews, 2)
	assert.True(t, previews[1].IsPinned)

	// re-adding a pinned preview keeps the pin
	s.AddNodePreview(PreviewOf(s.Nodes()[1]))
	assert.True(t, s.Previews()[1].IsPinned)

	require.NoError(t, s.UnpinNode("b"))
	assert.False(t, s.Previews()[1].IsPinned)

	s.RemoveNodePreview("a")
	assert.Len(t, s.Previews(), 1)

	err := s.PinNode("missing")
	assert.True(t, cerrors.Is(err, cerrors.ErrCodeNotFound))
}

func TestStore_NoOpWritesDoNotNotify(t *testing.T) {
	s := New("c1")
	calls := 0
	s.Subscribe(func(Change) { calls++ })

	s.RemoveNodePreview("nothing")
	require.NoError(t, s.UnpinNode("nothing"))

	assert.Zero(t, calls)
	assert.Zero(t, s.Version())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Get("b-canvas")
	assert.Same(t, a, r.Get("b-canvas"))
	r.Get("a-canvas")

	assert.Equal(t, []string{"a-canvas", "b-canvas"}, r.IDs())

	r.Remove("a-canvas")
	_, ok := r.Lookup("a-canvas")
	assert.False(t, ok)
}
