package replica

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	"canvas/internal/graph"
)

// DefaultThrottle is the minimum spacing between two pushes.
const DefaultThrottle = 500 * time.Millisecond

type Options struct {
	Throttle time.Duration
	Logger   *log.Logger
}

// Engine mirrors one graph store into one replicated document.
//
// Local changes to title, nodes or edges mark the engine pending. The first
// change after a quiet period is pushed at once; later ones within the
// throttle window collapse into a single trailing push. A push replaces the
// whole document in one transaction. While the document is not connected
// pushes are skipped and the pending flag survives until a later tick finds
// it connected. Push failures are logged and retried the same way; they
// never reach the code that mutated the store.
type Engine struct {
	store    *graph.Store
	doc      Document
	logger   *log.Logger
	throttle time.Duration

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	pending  bool
	lastPush time.Time
	timer    *time.Timer
	closed   bool
	closers  []func()
	wg       sync.WaitGroup

	// inflight keeps at most one transaction running.
	inflight sync.Mutex
}

func NewEngine(store *graph.Store, doc Document, opts Options) *Engine {
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Engine{
		store:    store,
		doc:      doc,
		logger:   opts.Logger.WithPrefix("sync"),
		throttle: opts.Throttle,
		ctx:      context.Background(),
	}
}

// Start subscribes to the store and, when the document supports it, to
// remote snapshots. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.closers = append(e.closers, e.store.Subscribe(e.onChange))
	if obs, ok := e.doc.(Observable); ok {
		e.closers = append(e.closers, obs.Observe(e.onRemote))
	}

	e.wg.Add(1)
	go e.retryLoop()
}

// Close stops the engine and waits for a running push to finish. Pending
// changes are not flushed; call Flush first to keep them.
func (e *Engine) Close() {
	// a notification racing the unsubscribe below must not arm a timer
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	for _, c := range e.closers {
		c()
	}
	e.closers = nil

	e.mu.Lock()
	if e.timer != nil && e.timer.Stop() {
		e.wg.Done()
	}
	e.timer = nil
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// Pending reports whether local changes are waiting to be pushed.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Flush pushes pending changes now, ignoring the throttle.
func (e *Engine) Flush(ctx context.Context) error {
	e.inflight.Lock()
	defer e.inflight.Unlock()

	e.mu.Lock()
	if !e.pending {
		e.mu.Unlock()
		return nil
	}
	if st := e.doc.Status(); st != StatusConnected {
		e.mu.Unlock()
		return cerrors.New(cerrors.ErrCodeNotConnected, "document is %s", st)
	}
	e.pending = false
	e.lastPush = time.Now()
	e.mu.Unlock()

	if err := e.Push(ctx); err != nil {
		e.markPending()
		return err
	}
	return nil
}

// Push writes the current store state into the document in one
// transaction.
func (e *Engine) Push(ctx context.Context) error {
	doc := e.store.Document()
	nodes := make([]any, len(doc.Nodes))
	for i, n := range doc.Nodes {
		nodes[i] = Purge(n)
	}
	edges := make([]any, len(doc.Edges))
	for i, ed := range doc.Edges {
		edges[i] = StripEdge(ed)
	}

	err := e.doc.Transact(ctx, func(tx Tx) error {
		return replace(tx, doc.Title, nodes, edges)
	})
	if err != nil {
		if cerrors.GetCode(err) == "" {
			err = cerrors.Wrap(cerrors.ErrCodeTransactionFailed, err, "push canvas %s", e.store.ID())
		}
		return err
	}
	e.logger.Debug("pushed", "canvas", e.store.ID(), "nodes", len(nodes), "edges", len(edges))
	return nil
}

// ── helpers ──────────────────────────────────────────────────

func (e *Engine) onChange(c graph.Change) {
	if c.Origin == graph.OriginRemote || !c.Replicated() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending = true
	if e.timer != nil {
		return
	}
	wait := e.throttle - time.Since(e.lastPush)
	if wait < 0 {
		wait = 0
	}
	e.wg.Add(1)
	e.timer = time.AfterFunc(wait, e.fire)
}

func (e *Engine) onRemote(doc domain.Document) {
	e.logger.Debug("remote snapshot", "canvas", e.store.ID(), "nodes", len(doc.Nodes))
	e.store.ApplyRemote(doc)
}

func (e *Engine) fire() {
	defer e.wg.Done()
	e.mu.Lock()
	e.timer = nil
	ctx := e.ctx
	e.mu.Unlock()
	e.tryPush(ctx)
}

// retryLoop picks up changes left pending by a disconnect or a failed
// push.
func (e *Engine) retryLoop() {
	defer e.wg.Done()
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	ticker := time.NewTicker(e.throttle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			armed := e.timer != nil
			e.mu.Unlock()
			if !armed {
				e.tryPush(ctx)
			}
		}
	}
}

func (e *Engine) tryPush(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := e.Flush(ctx)
	switch {
	case err == nil:
	case cerrors.Is(err, cerrors.ErrCodeNotConnected):
		e.logger.Debug("push deferred", "canvas", e.store.ID(), "reason", cerrors.UserMessage(err))
	default:
		e.logger.Warn("push failed", "canvas", e.store.ID(), "err", err)
	}
}

func (e *Engine) markPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = true
}
