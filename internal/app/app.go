// Package app owns the open canvases of a process. Each canvas is a
// session: a graph store loaded from storage, its undo history, the
// mutation service, and a sync engine replicating it into a document
// source.
package app

import (
	"context"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"canvas/internal/config"
	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	"canvas/internal/graph"
	"canvas/internal/replica"
	"canvas/internal/service"
	"canvas/internal/storage"
)

// Options wires an App to its collaborators. Documents and History may be
// nil for a purely in-memory app.
type Options struct {
	Config    config.Config
	Documents storage.DocumentStore
	History   *storage.HistoryStore
	Source    DocumentSource
	Emitter   service.EventEmitter
	Logger    *log.Logger
}

// App is the session manager. It implements the canvas provider of the MCP
// server and the checkpoint and import hooks of the maintenance service.
type App struct {
	cfg      config.Config
	docs     storage.DocumentStore
	history  *storage.HistoryStore
	source   DocumentSource
	emitter  service.EventEmitter
	logger   *log.Logger
	registry *graph.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	opening  map[string]chan struct{}
	closed   bool
}

// session is one open canvas.
type session struct {
	id      string
	store   *graph.Store
	history *replica.History
	svc     *service.CanvasService
	engine  *replica.Engine
	release func() error

	mu    sync.Mutex
	saved uint64
}

func New(ctx context.Context, opts Options) *App {
	if opts.Source == nil {
		opts.Source = OfflineSource{}
	}
	if opts.Emitter == nil {
		opts.Emitter = service.NopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	ctx, cancel := context.WithCancel(ctx)
	return &App{
		cfg:      opts.Config,
		docs:     opts.Documents,
		history:  opts.History,
		source:   opts.Source,
		emitter:  opts.Emitter,
		logger:   opts.Logger.WithPrefix("app"),
		registry: graph.NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		opening:  make(map[string]chan struct{}),
	}
}

// Canvas returns the service of canvasID, opening the canvas on first use.
// A canvas missing from storage starts empty.
func (a *App) Canvas(ctx context.Context, canvasID string) (*service.CanvasService, error) {
	s, err := a.open(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	return s.svc, nil
}

// Open makes sure canvasID is loaded. The collaboration server calls it
// before the first peer joins a room.
func (a *App) Open(ctx context.Context, canvasID string) error {
	_, err := a.open(ctx, canvasID)
	return err
}

// List returns the stored canvases.
func (a *App) List(ctx context.Context) ([]domain.CanvasRecord, error) {
	if a.docs == nil {
		ids := a.registry.IDs()
		records := make([]domain.CanvasRecord, 0, len(ids))
		for _, id := range ids {
			s, _ := a.registry.Lookup(id)
			records = append(records, domain.CanvasRecord{ID: id, Title: s.Title()})
		}
		return records, nil
	}
	return a.docs.List(ctx)
}

// OpenIDs returns the ids of the open canvases, sorted.
func (a *App) OpenIDs() []string { return a.registry.IDs() }

// Import merges doc into canvasID. It satisfies service.ImportFunc.
func (a *App) Import(ctx context.Context, canvasID string, doc domain.Document) error {
	svc, err := a.Canvas(ctx, canvasID)
	if err != nil {
		return err
	}
	added, err := svc.Import(ctx, doc)
	if err != nil {
		return err
	}
	svc.Drain(ctx)
	a.logger.Debug("import merged", "canvas", canvasID, "added", added)
	return a.save(ctx, a.lookup(canvasID))
}

// Checkpoint saves every open canvas that changed since its last save. It
// satisfies service.CheckpointFunc.
func (a *App) Checkpoint(ctx context.Context) error {
	var firstErr error
	for _, s := range a.snapshotSessions() {
		if err := a.save(ctx, s); err != nil {
			a.logger.Error("checkpoint failed", "canvas", s.id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CloseCanvas flushes, saves and forgets one canvas.
func (a *App) CloseCanvas(ctx context.Context, canvasID string) error {
	a.mu.Lock()
	s, ok := a.sessions[canvasID]
	delete(a.sessions, canvasID)
	a.mu.Unlock()
	if !ok {
		return cerrors.New(cerrors.ErrCodeNotFound, "canvas %s is not open", canvasID)
	}
	return a.shutdown(ctx, s)
}

// Close shuts every session down and closes the document store.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	sessions := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[string]*session)
	a.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := a.shutdown(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.cancel()
	if a.docs != nil {
		if err := a.docs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ─────────────────────────────────────────────────────────────
// Session lifecycle
// ─────────────────────────────────────────────────────────────

func (a *App) open(ctx context.Context, canvasID string) (*session, error) {
	if canvasID == "" {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "canvas id is required")
	}
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, cerrors.New(cerrors.ErrCodeNotConnected, "app is closed")
		}
		if s, ok := a.sessions[canvasID]; ok {
			a.mu.Unlock()
			return s, nil
		}
		wait, busy := a.opening[canvasID]
		if !busy {
			done := make(chan struct{})
			a.opening[canvasID] = done
			a.mu.Unlock()

			s, err := a.start(ctx, canvasID)

			a.mu.Lock()
			delete(a.opening, canvasID)
			if err == nil {
				a.sessions[canvasID] = s
			}
			a.mu.Unlock()
			close(done)
			return s, err
		}
		a.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// start loads canvasID and wires its session. The engine subscribes before
// the stored document is written into the store, so the first push seeds
// the document source with it.
func (a *App) start(ctx context.Context, canvasID string) (*session, error) {
	doc, err := a.load(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	remote, release, err := a.source.Open(a.ctx, canvasID)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeNotConnected, err, "open document source for %s", canvasID)
	}

	store := a.registry.Get(canvasID)
	engine := replica.NewEngine(store, remote, replica.Options{
		Throttle: a.cfg.Sync.Throttle,
		Logger:   a.logger,
	})
	engine.Start(a.ctx)
	store.SetDocument(doc)

	var persist replica.HistoryStore
	if a.history != nil {
		persist = a.history
	}
	history := replica.NewHistory(store, replica.HistoryOptions{
		Window:   a.cfg.Sync.HistoryWindow,
		Capacity: a.cfg.Sync.HistoryCapacity,
		Store:    persist,
		Logger:   a.logger,
	})
	if a.history != nil {
		entries, current, err := a.history.Load(ctx, canvasID)
		if err != nil {
			a.logger.Warn("history not restored", "canvas", canvasID, "err", err)
		} else {
			history.Restore(entries, current)
		}
	}
	history.Attach()

	padding := a.cfg.Layout.OverlapPadding
	svc := service.NewCanvasService(store, a.emitter, service.CanvasOptions{
		SnapThreshold:  a.cfg.Layout.SnapThreshold,
		OverlapPadding: &padding,
		AutoLayout:     a.cfg.Layout.AutoLayout,
		History:        history,
		Logger:         a.logger,
	})

	s := &session{
		id:      canvasID,
		store:   store,
		history: history,
		svc:     svc,
		engine:  engine,
		release: release,
		saved:   store.Version(),
	}
	a.logger.Info("canvas opened", "canvas", canvasID, "nodes", len(doc.Nodes), "edges", len(doc.Edges))
	return s, nil
}

func (a *App) load(ctx context.Context, canvasID string) (domain.Document, error) {
	if a.docs == nil {
		return domain.Document{}, nil
	}
	doc, err := a.docs.Load(ctx, canvasID)
	if cerrors.Is(err, cerrors.ErrCodeNotFound) {
		return domain.Document{}, nil
	}
	if err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

func (a *App) save(ctx context.Context, s *session) error {
	if s == nil || a.docs == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.store.Version()
	if v == s.saved {
		return nil
	}
	if _, err := a.docs.Save(ctx, s.id, s.store.Document()); err != nil {
		return err
	}
	s.saved = v
	return nil
}

func (a *App) shutdown(ctx context.Context, s *session) error {
	s.svc.Close(ctx)
	if err := s.engine.Flush(ctx); err != nil && !cerrors.Is(err, cerrors.ErrCodeNotConnected) {
		a.logger.Warn("final push failed", "canvas", s.id, "err", err)
	}
	s.engine.Close()
	s.history.Detach()

	err := a.save(ctx, s)
	if s.release != nil {
		if rerr := s.release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	a.registry.Remove(s.id)
	a.logger.Info("canvas closed", "canvas", s.id)
	return err
}

func (a *App) lookup(canvasID string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[canvasID]
}

func (a *App) snapshotSessions() []*session {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s)
	}
	return out
}
