// Package collab replicates canvases between processes over websockets.
//
// A server (Hub + Server) keeps one room per canvas. Every room is a
// replicated document: the server's own session pushes into it through the
// replica.Document interface, and websocket peers read and write it with
// JSON frames. A Remote is the client side of the same protocol and is also
// a replica.Document, so a session can replicate through a server without
// knowing it. RedisRelay fans room updates out to other server instances.
//
// # Frames
//
// Every frame is one JSON object with a "type":
//
//	hello     server → peer    peer id and canvas id, sent on connect
//	snapshot  server → peer    full document and version, sent after hello
//	update    both ways        full document; the server stamps a version
//	status    server → peers   peer count, or a forwarded server event
package collab

import (
	"encoding/json"

	"canvas/internal/domain"
)

type FrameType string

const (
	FrameHello    FrameType = "hello"
	FrameSnapshot FrameType = "snapshot"
	FrameUpdate   FrameType = "update"
	FrameStatus   FrameType = "status"
)

// Frame is the unit exchanged on a collaboration socket.
type Frame struct {
	Type     FrameType        `json:"type"`
	CanvasID string           `json:"canvasId,omitempty"`
	PeerID   string           `json:"peerId,omitempty"`
	Version  int64            `json:"version,omitempty"`
	Doc      *domain.Document `json:"doc,omitempty"`
	Peers    int              `json:"peers,omitempty"`
	Event    string           `json:"event,omitempty"`
	Data     json.RawMessage  `json:"data,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) { return json.Marshal(f) }

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
