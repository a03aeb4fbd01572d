package collab

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"canvas/internal/domain"
	"canvas/internal/replica"
)

const healthInterval = 30 * time.Second

// Hub owns the rooms of a collaboration server and the peers connected to
// them.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	register   chan *peer
	unregister chan *peer
	done       chan struct{}

	relay  Relay
	logger *log.Logger

	metrics HubMetrics
}

// HubMetrics counts hub traffic.
type HubMetrics struct {
	ActivePeers    atomic.Int64
	FramesSent     atomic.Int64
	FramesDropped  atomic.Int64
	UpdatesApplied atomic.Int64
}

type HubOptions struct {
	// Relay, when set, receives every update a local peer writes.
	Relay  Relay
	Logger *log.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		register:   make(chan *peer, 64),
		unregister: make(chan *peer, 64),
		done:       make(chan struct{}),
		relay:      opts.Relay,
		logger:     opts.Logger.WithPrefix("hub"),
	}
}

// Run processes peer registration until ctx ends, then disconnects every
// peer.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case p := <-h.register:
			h.join(p)
		case p := <-h.unregister:
			h.leave(p)
		case <-ticker.C:
			h.logger.Debug("health", "rooms", h.RoomCount(), "peers", h.metrics.ActivePeers.Load())
		}
	}
}

// Room returns the room of canvasID, creating an empty one on first use.
func (h *Hub) Room(canvasID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[canvasID]
	if !ok {
		r = &Room{
			hub:   h,
			id:    canvasID,
			doc:   replica.NewMemoryDocument(),
			peers: make(map[*peer]struct{}),
		}
		h.rooms[canvasID] = r
	}
	return r
}

// Document returns the room of canvasID as a replicated document for an
// in-process session.
func (h *Hub) Document(canvasID string) replica.Document { return h.Room(canvasID) }

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomIDs returns the ids of the open rooms, sorted.
func (h *Hub) RoomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) Metrics() (peers, sent, dropped, applied int64) {
	return h.metrics.ActivePeers.Load(), h.metrics.FramesSent.Load(),
		h.metrics.FramesDropped.Load(), h.metrics.UpdatesApplied.Load()
}

// Broadcast sends a status frame carrying a server event to every peer.
func (h *Hub) Broadcast(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("broadcast marshal failed", "event", event, "err", err)
		return
	}
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()
	for _, r := range rooms {
		r.send(Frame{Type: FrameStatus, CanvasID: r.id, Event: event, Data: raw}, nil)
	}
}

// ApplyRelayed merges an update that another server instance published.
// It is not published again.
func (h *Hub) ApplyRelayed(msg RelayMessage) error {
	return h.Room(msg.CanvasID).apply(msg.Doc, nil, false)
}

// ── registration ─────────────────────────────────────────────

// join sends hello and snapshot before the peer becomes visible to
// broadcasts, so no update can overtake them.
func (h *Hub) join(p *peer) {
	r := p.room
	snap, err := r.doc.Snapshot(context.Background())
	if err != nil {
		h.logger.Error("snapshot for new peer failed", "canvas", r.id, "err", err)
		p.kick()
		return
	}
	r.mu.Lock()
	p.enqueue(Frame{Type: FrameHello, CanvasID: r.id, PeerID: p.id})
	p.enqueue(Frame{Type: FrameSnapshot, CanvasID: r.id, Version: r.version, Doc: &snap})
	r.peers[p] = struct{}{}
	n := len(r.peers)
	r.mu.Unlock()
	h.metrics.ActivePeers.Add(1)

	r.send(Frame{Type: FrameStatus, CanvasID: r.id, Peers: n}, nil)
	h.logger.Info("peer joined", "canvas", r.id, "peer", p.id, "peers", n)
}

func (h *Hub) leave(p *peer) {
	r := p.room
	r.mu.Lock()
	if _, ok := r.peers[p]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, p)
	close(p.out)
	n := len(r.peers)
	r.mu.Unlock()
	h.metrics.ActivePeers.Add(-1)

	r.send(Frame{Type: FrameStatus, CanvasID: r.id, Peers: n}, nil)
	h.logger.Info("peer left", "canvas", r.id, "peer", p.id, "peers", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		r.mu.Lock()
		for p := range r.peers {
			close(p.out)
			delete(r.peers, p)
			h.metrics.ActivePeers.Add(-1)
		}
		r.mu.Unlock()
	}
	h.logger.Info("all peers disconnected")
}

// ─────────────────────────────────────────────────────────────
// Room
// ─────────────────────────────────────────────────────────────

// Room is the server copy of one canvas. It implements replica.Document
// and replica.Observable: local transactions are fanned out to peers, and
// peer updates are reported to observers.
type Room struct {
	hub *Hub
	id  string
	doc *replica.MemoryDocument

	mu      sync.Mutex
	version int64
	peers   map[*peer]struct{}
}

func (r *Room) ID() string { return r.id }

func (r *Room) Status() replica.Status { return replica.StatusConnected }

func (r *Room) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Room) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Room) Transact(ctx context.Context, fn func(replica.Tx) error) error {
	if err := r.doc.Transact(ctx, fn); err != nil {
		return err
	}
	snap, err := r.doc.Snapshot(ctx)
	if err != nil {
		return err
	}
	r.publish(snap, nil, true)
	return nil
}

func (r *Room) Snapshot(ctx context.Context) (domain.Document, error) {
	return r.doc.Snapshot(ctx)
}

// Observe reports documents written by peers or relayed from other
// instances. Transactions of the in-process session are not reported.
func (r *Room) Observe(fn func(domain.Document)) (cancel func()) {
	return r.doc.Observe(fn)
}

// apply replaces the room document with doc as written by from (nil for
// relayed updates) and fans it out.
func (r *Room) apply(doc domain.Document, from *peer, relay bool) error {
	if err := r.doc.Replace(doc); err != nil {
		return err
	}
	r.hub.metrics.UpdatesApplied.Add(1)
	r.publish(doc, from, relay)
	return nil
}

func (r *Room) publish(doc domain.Document, from *peer, relay bool) {
	r.mu.Lock()
	r.version++
	version := r.version
	r.mu.Unlock()

	origin := ""
	if from != nil {
		origin = from.id
	}
	r.send(Frame{Type: FrameUpdate, CanvasID: r.id, PeerID: origin, Version: version, Doc: &doc}, from)

	if relay && r.hub.relay != nil {
		msg := RelayMessage{CanvasID: r.id, Version: version, Doc: doc}
		if err := r.hub.relay.Publish(context.Background(), msg); err != nil {
			r.hub.logger.Warn("relay publish failed", "canvas", r.id, "err", err)
		}
	}
}

// send delivers f to every peer except skip. Peers whose buffer is full
// are disconnected.
func (r *Room) send(f Frame, skip *peer) {
	data, err := encodeFrame(f)
	if err != nil {
		r.hub.logger.Error("encode frame failed", "type", f.Type, "err", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.peers {
		if p == skip {
			continue
		}
		select {
		case p.out <- data:
			r.hub.metrics.FramesSent.Add(1)
		default:
			r.hub.metrics.FramesDropped.Add(1)
			r.hub.logger.Warn("closing slow peer", "canvas", r.id, "peer", p.id)
			go p.kick()
		}
	}
}
