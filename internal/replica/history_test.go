package replica

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas/internal/domain"
	"canvas/internal/graph"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func attach(h *History, c *fakeClock) *History {
	h.now = c.now
	h.Attach()
	return h
}

type recordingStore struct {
	saved   []Entry
	current string
}

func (r *recordingStore) SaveEntry(_ context.Context, _ string, e Entry) error {
	r.saved = append(r.saved, e)
	return nil
}

func (r *recordingStore) SetCurrent(_ context.Context, _ string, id string) error {
	r.current = id
	return nil
}

func TestHistory_CoalescesWithinWindow(t *testing.T) {
	s := graph.New("c1")
	clock := newClock()
	h := attach(NewHistory(s, HistoryOptions{Window: 500 * time.Millisecond}), clock)
	defer h.Detach()

	s.SetTitle("a")
	clock.advance(100 * time.Millisecond)
	s.SetTitle("ab")
	assert.Equal(t, 2, h.Len())

	clock.advance(time.Second)
	s.SetTitle("abc")
	assert.Equal(t, 3, h.Len())

	require.True(t, h.Undo())
	assert.Equal(t, "ab", s.Title())
	require.True(t, h.Undo())
	assert.Equal(t, "", s.Title())
	assert.False(t, h.CanUndo())
	assert.False(t, h.Undo())

	require.True(t, h.Redo())
	assert.Equal(t, "ab", s.Title())
	assert.True(t, h.CanRedo())
}

func TestHistory_NewChangeDropsRedo(t *testing.T) {
	s := graph.New("c1")
	clock := newClock()
	h := attach(NewHistory(s, HistoryOptions{}), clock)
	defer h.Detach()

	s.SetTitle("a")
	clock.advance(time.Second)
	s.SetTitle("b")
	require.True(t, h.Undo())

	// a change right after undo is a new step, not coalesced into "a"
	clock.advance(10 * time.Millisecond)
	s.SetTitle("x")
	assert.False(t, h.CanRedo())
	assert.Equal(t, 3, h.Len())

	require.True(t, h.Undo())
	assert.Equal(t, "a", s.Title())
}

func TestHistory_SkipsRemoteAndLocalOnlyChanges(t *testing.T) {
	s := graph.New("c1")
	h := attach(NewHistory(s, HistoryOptions{}), newClock())
	defer h.Detach()

	s.ApplyRemote(domain.Document{Title: "remote"})
	require.NoError(t, s.SetMode(domain.ModeHand))
	s.AddNodePreview(domain.NodePreview{ID: "a"})

	assert.Equal(t, 1, h.Len())
	assert.False(t, h.CanUndo())
}

func TestHistory_Capacity(t *testing.T) {
	s := graph.New("c1")
	clock := newClock()
	h := attach(NewHistory(s, HistoryOptions{Capacity: 3}), clock)
	defer h.Detach()

	for _, title := range []string{"1", "2", "3", "4", "5"} {
		clock.advance(time.Second)
		s.SetTitle(title)
	}
	assert.Equal(t, 4, h.Len())

	for h.Undo() {
	}
	assert.Equal(t, "2", s.Title())
}

func TestHistory_Persists(t *testing.T) {
	s := graph.New("c1")
	clock := newClock()
	rec := &recordingStore{}
	h := attach(NewHistory(s, HistoryOptions{Store: rec}), clock)
	defer h.Detach()

	s.SetTitle("a")
	clock.advance(100 * time.Millisecond)
	s.SetTitle("ab")

	require.Len(t, rec.saved, 2)
	// the coalesced write reuses the entry id
	assert.Equal(t, rec.saved[0].ID, rec.saved[1].ID)
	assert.Equal(t, "ab", rec.saved[1].Doc.Title)
	assert.NotEmpty(t, rec.saved[0].ParentID)

	require.True(t, h.Undo())
	assert.Equal(t, rec.saved[0].ParentID, rec.current)
}

func TestHistory_Restore(t *testing.T) {
	s := graph.New("c1")
	h := attach(NewHistory(s, HistoryOptions{}), newClock())
	defer h.Detach()

	h.Restore([]Entry{
		{ID: "u1", Doc: domain.Document{Title: "one"}},
		{ID: "u2", ParentID: "u1", Doc: domain.Document{Title: "two"}},
		{ID: "u3", ParentID: "u2", Doc: domain.Document{Title: "three"}},
	}, "u2")

	assert.True(t, h.CanRedo())
	require.True(t, h.Undo())
	assert.Equal(t, "one", s.Title())
	require.True(t, h.Redo())
	require.True(t, h.Redo())
	assert.Equal(t, "three", s.Title())
}
