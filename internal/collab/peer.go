package collab

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Pings are sent with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Whole documents travel in one frame.
	maxFrameSize = 8 << 20

	sendBufferSize = 256
)

// peer is one websocket connection to a room.
type peer struct {
	id     string
	hub    *Hub
	room   *Room
	conn   *websocket.Conn
	out    chan []byte
	logger *log.Logger

	closeOnce sync.Once
}

func newPeer(hub *Hub, room *Room, conn *websocket.Conn) *peer {
	id := uuid.NewString()
	return &peer{
		id:     id,
		hub:    hub,
		room:   room,
		conn:   conn,
		out:    make(chan []byte, sendBufferSize),
		logger: hub.logger.With("canvas", room.id, "peer", id),
	}
}

// start registers the peer and runs its pumps.
func (p *peer) start() {
	select {
	case p.hub.register <- p:
	case <-p.hub.done:
		p.kick()
		return
	}
	go p.writePump()
	go p.readPump()
}

// enqueue queues f without blocking; callers hold the room lock.
func (p *peer) enqueue(f Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		p.logger.Error("encode frame failed", "type", f.Type, "err", err)
		return
	}
	select {
	case p.out <- data:
	default:
		go p.kick()
	}
}

// kick closes the connection; the read pump then unregisters the peer.
func (p *peer) kick() {
	p.closeOnce.Do(func() { p.conn.Close() })
}

func (p *peer) readPump() {
	defer func() {
		select {
		case p.hub.unregister <- p:
		case <-p.hub.done:
		}
		p.kick()
	}()

	p.conn.SetReadLimit(maxFrameSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.logger.Warn("read failed", "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			p.logger.Debug("ignoring binary frame")
			continue
		}
		p.handle(data)
	}
}

func (p *peer) handle(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		p.logger.Warn("malformed frame", "err", err)
		return
	}
	switch f.Type {
	case FrameUpdate:
		if f.Doc == nil {
			p.logger.Warn("update without document")
			return
		}
		if err := p.room.apply(*f.Doc, p, true); err != nil {
			p.logger.Error("apply update failed", "err", err)
		}
	default:
		p.logger.Debug("ignoring frame", "type", f.Type)
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.kick()
	}()

	for {
		select {
		case data, ok := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
