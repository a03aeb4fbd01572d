package replica

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"canvas/internal/domain"
	"canvas/internal/graph"
)

const (
	DefaultCoalesceWindow  = 500 * time.Millisecond
	DefaultHistoryCapacity = 100
)

// Entry is one recorded state of the replicated fields.
type Entry struct {
	ID       string          `json:"id"`
	ParentID string          `json:"parentId,omitempty"`
	Doc      domain.Document `json:"doc"`
	At       time.Time       `json:"at"`
}

// HistoryStore persists entries. The storage package provides one backed
// by the undo tables.
type HistoryStore interface {
	SaveEntry(ctx context.Context, canvasID string, e Entry) error
	SetCurrent(ctx context.Context, canvasID, entryID string) error
}

type HistoryOptions struct {
	Window   time.Duration
	Capacity int
	Store    HistoryStore
	Logger   *log.Logger
}

// History records local states of a canvas for undo and redo.
//
// Changes arriving within Window of the previous recording replace it
// instead of adding a step, so a drag becomes one undo step. Remote changes
// are never recorded. At most Capacity steps are kept beyond the initial
// state.
type History struct {
	store   *graph.Store
	window  time.Duration
	cap     int
	persist HistoryStore
	logger  *log.Logger
	now     func() time.Time

	mu       sync.Mutex
	entries  []Entry
	cursor   int
	applying bool
	lastAt   time.Time
	cancel   func()
}

func NewHistory(store *graph.Store, opts HistoryOptions) *History {
	if opts.Window <= 0 {
		opts.Window = DefaultCoalesceWindow
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultHistoryCapacity
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	h := &History{
		store:   store,
		window:  opts.Window,
		cap:     opts.Capacity,
		persist: opts.Store,
		logger:  opts.Logger.WithPrefix("history"),
		now:     time.Now,
	}
	h.entries = []Entry{{ID: uuid.NewString(), Doc: store.Document(), At: h.now()}}
	return h
}

// Attach starts recording store changes. Detach stops it.
func (h *History) Attach() {
	h.cancel = h.store.Subscribe(h.onChange)
}

func (h *History) Detach() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// Restore replaces the recorded steps with persisted ones and puts the
// cursor on currentID, or on the newest entry when it is unknown. The store
// is not touched.
func (h *History) Restore(entries []Entry, currentID string) {
	if len(entries) == 0 {
		return
	}
	if over := len(entries) - (h.cap + 1); over > 0 {
		entries = entries[over:]
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]Entry(nil), entries...)
	h.cursor = len(h.entries) - 1
	for i, e := range h.entries {
		if e.ID == currentID {
			h.cursor = i
			break
		}
	}
	h.lastAt = time.Time{}
}

func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor < len(h.entries)-1
}

// Len is the number of recorded states, including the initial one.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Undo restores the previous state. It reports false when there is none.
func (h *History) Undo() bool { return h.step(-1) }

// Redo restores the next state. It reports false when there is none.
func (h *History) Redo() bool { return h.step(1) }

func (h *History) step(delta int) bool {
	h.mu.Lock()
	next := h.cursor + delta
	if next < 0 || next >= len(h.entries) {
		h.mu.Unlock()
		return false
	}
	h.cursor = next
	h.lastAt = time.Time{}
	e := h.entries[next]
	h.applying = true
	h.mu.Unlock()

	h.store.SetDocument(e.Doc)

	h.mu.Lock()
	h.applying = false
	h.mu.Unlock()

	if h.persist != nil {
		if err := h.persist.SetCurrent(context.Background(), h.store.ID(), e.ID); err != nil {
			h.logger.Warn("persist cursor", "canvas", h.store.ID(), "err", err)
		}
	}
	return true
}

func (h *History) onChange(c graph.Change) {
	if c.Origin == graph.OriginRemote || !c.Replicated() {
		return
	}
	h.mu.Lock()
	if h.applying {
		h.mu.Unlock()
		return
	}
	doc := h.store.Document()
	now := h.now()

	// a new change discards the redo branch
	h.entries = h.entries[:h.cursor+1]

	var e Entry
	if h.cursor > 0 && !h.lastAt.IsZero() && now.Sub(h.lastAt) < h.window {
		h.entries[h.cursor].Doc = doc
		h.entries[h.cursor].At = now
		e = h.entries[h.cursor]
	} else {
		e = Entry{ID: uuid.NewString(), ParentID: h.entries[h.cursor].ID, Doc: doc, At: now}
		h.entries = append(h.entries, e)
		if over := len(h.entries) - (h.cap + 1); over > 0 {
			h.entries = h.entries[over:]
		}
		h.cursor = len(h.entries) - 1
	}
	h.lastAt = now
	h.mu.Unlock()

	if h.persist != nil {
		ctx := context.Background()
		if err := h.persist.SaveEntry(ctx, h.store.ID(), e); err != nil {
			h.logger.Warn("persist entry", "canvas", h.store.ID(), "err", err)
		}
	}
}
