package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas/internal/domain"
	"canvas/internal/graph"
	mcpserver "canvas/internal/mcp"
	"canvas/internal/replica"
)

type fakeRelay struct {
	mu   sync.Mutex
	msgs []RelayMessage
}

func (f *fakeRelay) Publish(_ context.Context, msg RelayMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeApprovals struct {
	pending  []mcpserver.PendingAction
	resolved map[string]bool
}

func (f *fakeApprovals) Pending() []mcpserver.PendingAction { return f.pending }

func (f *fakeApprovals) Approve(id string) bool { return f.resolve(id, true) }

func (f *fakeApprovals) Reject(id string) bool { return f.resolve(id, false) }

func (f *fakeApprovals) resolve(id string, ok bool) bool {
	for _, p := range f.pending {
		if p.ID == id {
			f.resolved[id] = ok
			return true
		}
	}
	return false
}

func startServer(t *testing.T, opts ServerOptions, hubOpts HubOptions) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(hubOpts)
	go hub.Run(ctx)
	ts := httptest.NewServer(NewServer(hub, opts).Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return hub, ts
}

func wsURL(ts *httptest.Server, canvasID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/collab/" + canvasID
}

func readFrame(t *testing.T, conn *websocket.Conn, want FrameType) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		f, err := decodeFrame(data)
		require.NoError(t, err)
		if f.Type == want {
			return f
		}
	}
}

func node(id string, x float64) domain.Node {
	return domain.Node{
		ID:       id,
		Type:     domain.NodeTypeMemo,
		Position: domain.Position{X: x},
		Data:     domain.NodeData{Title: id},
	}
}

// ─────────────────────────────────────────────────────────────
// Server
// ─────────────────────────────────────────────────────────────

func TestServer_Health(t *testing.T) {
	_, ts := startServer(t, ServerOptions{Token: "secret"}, HubOptions{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_RequiresToken(t *testing.T) {
	_, ts := startServer(t, ServerOptions{Token: "secret"}, HubOptions{})

	resp, err := http.Get(ts.URL + "/canvases")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/canvases", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(ts, "c1")+"?token=wrong", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_OpenCalledBeforeJoin(t *testing.T) {
	var opened []string
	var mu sync.Mutex
	_, ts := startServer(t, ServerOptions{
		Open: func(_ context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			opened = append(opened, id)
			return nil
		},
	}, HubOptions{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "board"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn, FrameHello)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"board"}, opened)
}

func TestServer_Approvals(t *testing.T) {
	approvals := &fakeApprovals{
		pending:  []mcpserver.PendingAction{{ID: "a1", Tool: "delete_node"}},
		resolved: map[string]bool{},
	}
	_, ts := startServer(t, ServerOptions{Approvals: approvals}, HubOptions{})

	resp, err := http.Get(ts.URL + "/approvals")
	require.NoError(t, err)
	var pending []mcpserver.PendingAction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	resp.Body.Close()
	require.Len(t, pending, 1)

	resp, err = http.Post(ts.URL+"/approvals/a1/reject", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, false, approvals.resolved["a1"])

	resp, err = http.Post(ts.URL+"/approvals/zzz/approve", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─────────────────────────────────────────────────────────────
// Hub
// ─────────────────────────────────────────────────────────────

func TestHub_PeerReceivesSnapshotAndUpdates(t *testing.T) {
	hub, ts := startServer(t, ServerOptions{}, HubOptions{})
	room := hub.Room("c1")
	ctx := context.Background()

	require.NoError(t, room.Transact(ctx, func(tx replica.Tx) error {
		return tx.SetText(replica.FieldTitle, "Seeded")
	}))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "c1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn, FrameHello)
	assert.NotEmpty(t, hello.PeerID)
	snap := readFrame(t, conn, FrameSnapshot)
	require.NotNil(t, snap.Doc)
	assert.Equal(t, "Seeded", snap.Doc.Title)
	assert.Equal(t, int64(1), snap.Version)

	require.Eventually(t, func() bool { return room.Peers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, room.Transact(ctx, func(tx replica.Tx) error {
		return tx.SetText(replica.FieldTitle, "Renamed")
	}))
	upd := readFrame(t, conn, FrameUpdate)
	require.NotNil(t, upd.Doc)
	assert.Equal(t, "Renamed", upd.Doc.Title)
	assert.Equal(t, int64(2), upd.Version)
}

func TestHub_PeerUpdateReachesObserversAndRelay(t *testing.T) {
	relay := &fakeRelay{}
	hub, ts := startServer(t, ServerOptions{}, HubOptions{Relay: relay})
	room := hub.Room("c1")

	got := make(chan domain.Document, 1)
	cancel := room.Observe(func(d domain.Document) { got <- d })
	defer cancel()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "c1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn, FrameSnapshot)

	doc := domain.Document{Title: "From peer", Nodes: []domain.Node{node("a", 10)}}
	data, err := encodeFrame(Frame{Type: FrameUpdate, Doc: &doc})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case d := <-got:
		assert.Equal(t, "From peer", d.Title)
		require.Len(t, d.Nodes, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("observer not notified")
	}
	require.Eventually(t, func() bool { return relay.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ApplyRelayedIsNotRepublished(t *testing.T) {
	relay := &fakeRelay{}
	hub := NewHub(HubOptions{Relay: relay})

	err := hub.ApplyRelayed(RelayMessage{CanvasID: "c9", Version: 7, Doc: domain.Document{Title: "Elsewhere"}})
	require.NoError(t, err)

	doc, err := hub.Room("c9").Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Elsewhere", doc.Title)
	assert.Equal(t, 0, relay.count())
}

func TestEmitter_FiltersEvents(t *testing.T) {
	hub, ts := startServer(t, ServerOptions{}, HubOptions{})
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "c1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn, FrameSnapshot)
	require.Eventually(t, func() bool { return hub.Room("c1").Peers() == 1 }, 2*time.Second, 10*time.Millisecond)

	em := Emitter{Hub: hub, Events: []string{"mcp:approval-required"}}
	em.Emit(context.Background(), "canvas:changed", nil)
	em.Emit(context.Background(), "mcp:approval-required", map[string]string{"id": "a1"})

	for {
		f := readFrame(t, conn, FrameStatus)
		if f.Event == "" {
			continue // peer count
		}
		assert.Equal(t, "mcp:approval-required", f.Event)
		assert.JSONEq(t, `{"id":"a1"}`, string(f.Data))
		break
	}
}

// ─────────────────────────────────────────────────────────────
// Remote
// ─────────────────────────────────────────────────────────────

func TestRemote_ReplicatesBetweenSessions(t *testing.T) {
	_, ts := startServer(t, ServerOptions{Token: "tok"}, HubOptions{})
	ctx := context.Background()

	session := func() (*graph.Store, *Remote) {
		remote, err := Dial(ctx, RemoteOptions{URL: ts.URL, CanvasID: "shared", Token: "tok"})
		require.NoError(t, err)
		store := graph.New("shared")
		engine := replica.NewEngine(store, remote, replica.Options{Throttle: 20 * time.Millisecond})
		engine.Start(ctx)
		t.Cleanup(func() {
			engine.Close()
			remote.Close()
		})
		require.Eventually(t, func() bool { return remote.Status() == replica.StatusConnected },
			5*time.Second, 10*time.Millisecond)
		return store, remote
	}

	storeA, _ := session()
	storeB, remoteB := session()

	storeA.SetNodes([]domain.Node{node("n1", 40)})
	storeA.SetTitle("Shared board")

	require.Eventually(t, func() bool {
		nodes := storeB.Nodes()
		return len(nodes) == 1 && nodes[0].ID == "n1" && storeB.Title() == "Shared board"
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotEmpty(t, remoteB.PeerID())
	assert.Positive(t, remoteB.Version())
}

func TestRemote_NotConnectedBeforeSnapshot(t *testing.T) {
	r, err := Dial(context.Background(), RemoteOptions{URL: "http://127.0.0.1:1", CanvasID: "c1"})
	require.NoError(t, err)
	defer r.Close()

	assert.NotEqual(t, replica.StatusConnected, r.Status())
	err = r.Transact(context.Background(), func(replica.Tx) error { return nil })
	require.Error(t, err)
}

func TestCollabURL(t *testing.T) {
	tests := []struct {
		base, id, want string
		wantErr        bool
	}{
		{"http://localhost:7420", "c1", "ws://localhost:7420/collab/c1", false},
		{"https://canvas.example.com/api/", "c 1", "wss://canvas.example.com/api/collab/c%201", false},
		{"ws://h:1", "c1", "ws://h:1/collab/c1", false},
		{"ftp://h", "c1", "", true},
		{"localhost:7420", "c1", "", true},
		{"http://h", "", "", true},
	}
	for _, tt := range tests {
		got, err := collabURL(tt.base, tt.id)
		if tt.wantErr {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}
