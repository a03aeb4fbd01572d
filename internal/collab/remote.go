package collab

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	"canvas/internal/replica"
)

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 10 * time.Second
)

type RemoteOptions struct {
	// URL is the server base, e.g. "ws://localhost:7420".
	URL      string
	CanvasID string
	Token    string
	Logger   *log.Logger
}

// Remote is a replica.Document backed by a collaboration server. It keeps a
// local mirror of the room, reconnects with backoff, and reports
// StatusConnected only after the room snapshot has arrived.
type Remote struct {
	endpoint string
	header   http.Header
	canvasID string
	logger   *log.Logger
	dialer   *websocket.Dialer

	mirror *replica.MemoryDocument

	mu      sync.Mutex
	status  replica.Status
	conn    *websocket.Conn
	peerID  string
	version int64
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial starts connecting to the room of opts.CanvasID and returns at once.
// The connection is kept up until Close.
func Dial(ctx context.Context, opts RemoteOptions) (*Remote, error) {
	endpoint, err := collabURL(opts.URL, opts.CanvasID)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	mirror := replica.NewMemoryDocument()
	mirror.SetStatus(replica.StatusConnecting)

	ctx, cancel := context.WithCancel(ctx)
	r := &Remote{
		endpoint: endpoint,
		header:   header,
		canvasID: opts.CanvasID,
		logger:   opts.Logger.WithPrefix("remote").With("canvas", opts.CanvasID),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		mirror:   mirror,
		status:   replica.StatusConnecting,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.run(ctx)
	return r, nil
}

func (r *Remote) Status() replica.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// PeerID is the id the server assigned to this connection.
func (r *Remote) PeerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerID
}

// Version is the room version of the last frame received.
func (r *Remote) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Transact applies fn to the mirror and sends the result to the server as
// one update.
func (r *Remote) Transact(ctx context.Context, fn func(replica.Tx) error) error {
	r.mu.Lock()
	conn, status := r.conn, r.status
	r.mu.Unlock()
	if status != replica.StatusConnected || conn == nil {
		return cerrors.New(cerrors.ErrCodeNotConnected, "remote document is %s", status)
	}
	if err := r.mirror.Transact(ctx, fn); err != nil {
		return err
	}
	doc, err := r.mirror.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := r.write(conn, Frame{Type: FrameUpdate, CanvasID: r.canvasID, Doc: &doc}); err != nil {
		conn.Close()
		return cerrors.Wrap(cerrors.ErrCodeNotConnected, err, "send update")
	}
	return nil
}

func (r *Remote) Snapshot(ctx context.Context) (domain.Document, error) {
	return r.mirror.Snapshot(ctx)
}

// Observe reports documents written by other peers.
func (r *Remote) Observe(fn func(domain.Document)) (cancel func()) {
	return r.mirror.Observe(fn)
}

// Close disconnects and stops reconnecting.
func (r *Remote) Close() error {
	r.cancel()
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		r.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		r.writeMu.Unlock()
		conn.Close()
	}
	<-r.done
	return nil
}

// ── connection loop ──────────────────────────────────────────

func (r *Remote) run(ctx context.Context) {
	defer close(r.done)
	backoff := minBackoff
	for {
		connected, err := r.session(ctx)
		r.setStatus(replica.StatusDisconnected, nil)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		r.logger.Debug("disconnected", "err", err, "retry", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
		r.setStatus(replica.StatusConnecting, nil)
	}
}

// session runs one connection until it fails. connected reports whether
// the room snapshot arrived.
func (r *Remote) session(ctx context.Context) (connected bool, err error) {
	conn, resp, err := r.dialer.DialContext(ctx, r.endpoint, r.header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			r.logger.Error("server rejected token")
		}
		return false, err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go r.keepalive(conn, stop)

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		r.writeMu.Lock()
		defer r.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return connected, err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		f, err := decodeFrame(data)
		if err != nil {
			r.logger.Warn("malformed frame", "err", err)
			continue
		}
		if r.handle(conn, f) {
			connected = true
		}
	}
}

// handle applies one server frame. It reports true once the session is
// connected.
func (r *Remote) handle(conn *websocket.Conn, f Frame) bool {
	switch f.Type {
	case FrameHello:
		r.mu.Lock()
		r.peerID = f.PeerID
		r.mu.Unlock()
	case FrameSnapshot:
		// A room that was never written has nothing to say; keep the mirror
		// so the local session seeds the room with its next push.
		if f.Doc != nil && f.Version > 0 {
			r.applyRemote(*f.Doc)
		}
		r.setStatus(replica.StatusConnected, conn)
		r.setVersion(f.Version)
		r.logger.Info("connected", "version", f.Version)
		return true
	case FrameUpdate:
		if f.Doc != nil {
			r.applyRemote(*f.Doc)
		}
		r.setVersion(f.Version)
	case FrameStatus:
		if f.Event != "" {
			r.logger.Debug("server event", "event", f.Event)
		}
	}
	return false
}

func (r *Remote) applyRemote(doc domain.Document) {
	if err := r.mirror.Replace(doc); err != nil {
		r.logger.Warn("apply remote document failed", "err", err)
	}
}

func (r *Remote) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			r.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (r *Remote) write(conn *websocket.Conn, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (r *Remote) setStatus(s replica.Status, conn *websocket.Conn) {
	r.mu.Lock()
	r.status = s
	r.conn = conn
	r.mu.Unlock()
	r.mirror.SetStatus(s)
}

func (r *Remote) setVersion(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v > r.version {
		r.version = v
	}
}

// collabURL builds the websocket endpoint of a canvas from a server base
// URL. http(s) schemes are mapped to ws(s).
func collabURL(base, canvasID string) (string, error) {
	if canvasID == "" {
		return "", cerrors.New(cerrors.ErrCodeInvalidInput, "canvas id is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", cerrors.New(cerrors.ErrCodeInvalidConfig, "invalid collaboration url %q", base)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", cerrors.New(cerrors.ErrCodeInvalidConfig, "unsupported scheme %q", u.Scheme)
	}
	escaped := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/collab/" + canvasID
	u.RawPath = escaped + "/collab/" + url.PathEscape(canvasID)
	return u.String(), nil
}

var (
	_ replica.Observable = (*Remote)(nil)
	_ replica.Observable = (*Room)(nil)
)
