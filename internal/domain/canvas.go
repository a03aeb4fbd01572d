package domain

import "time"

type InteractionMode string

const (
	ModeHand    InteractionMode = "hand"
	ModePointer InteractionMode = "pointer"
)

func (m InteractionMode) Valid() bool { return m == ModeHand || m == ModePointer }

type Direction string

const (
	DirectionTB Direction = "TB"
	DirectionLR Direction = "LR"
)

func (d Direction) Valid() bool { return d == DirectionTB || d == DirectionLR }

// NodePreview is an entry in the canvas preview panel.
type NodePreview struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	EntityID string   `json:"entityId"`
	Title    string   `json:"title"`
	IsPinned bool     `json:"isPinned"`
}

// Canvas is the local per-canvas aggregate owned by a session.
type Canvas struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Mode     InteractionMode `json:"mode"`
	Nodes    []Node          `json:"nodes"`
	Edges    []Edge          `json:"edges"`
	Previews []NodePreview   `json:"previews"`
}

// Document returns the replicated projection of c.
func (c Canvas) Document() Document {
	return Document{Title: c.Title, Nodes: c.Nodes, Edges: c.Edges}
}

// Document is the persisted / replicated shape of a canvas.
type Document struct {
	Title string `json:"title"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// CanvasRecord is the storage row describing a canvas document.
type CanvasRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	NodeCount int       `json:"nodeCount"`
	EdgeCount int       `json:"edgeCount"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
