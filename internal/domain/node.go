package domain

import "maps"

type NodeType string

const (
	NodeTypeDocument      NodeType = "document"
	NodeTypeResource      NodeType = "resource"
	NodeTypeSkill         NodeType = "skill"
	NodeTypeSkillResponse NodeType = "skillResponse"
	NodeTypeToolResponse  NodeType = "toolResponse"
	NodeTypeCodeArtifact  NodeType = "codeArtifact"
	NodeTypeWebsite       NodeType = "website"
	NodeTypeMemo          NodeType = "memo"
	NodeTypeImage         NodeType = "image"
	NodeTypeGroup         NodeType = "group"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeDocument, NodeTypeResource, NodeTypeSkill, NodeTypeSkillResponse,
		NodeTypeToolResponse, NodeTypeCodeArtifact, NodeTypeWebsite, NodeTypeMemo,
		NodeTypeImage, NodeTypeGroup:
		return true
	}
	return false
}

// Previewable node types are opened in the preview panel when created.
func (t NodeType) Previewable() bool {
	switch t {
	case NodeTypeDocument, NodeTypeResource, NodeTypeSkillResponse, NodeTypeCodeArtifact, NodeTypeWebsite:
		return true
	}
	return false
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Position) Add(o Position) Position { return Position{X: p.X + o.X, Y: p.Y + o.Y} }
func (p Position) Sub(o Position) Position { return Position{X: p.X - o.X, Y: p.Y - o.Y} }

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NodeStyle carries declared size overrides. Zero values mean "not set".
type NodeStyle struct {
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Metadata keys shared across packages.
const (
	MetaIsTemporary  = "isTemporary"
	MetaWidth        = "width"
	MetaHeight       = "height"
	MetaSizeMode     = "sizeMode"
	MetaContextItems = "contextItems"
	MetaStatus       = "status"
)

type NodeData struct {
	Title          string         `json:"title"`
	EntityID       string         `json:"entityId"`
	ContentPreview string         `json:"contentPreview,omitempty"`
	CreatedAt      string         `json:"createdAt,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Node struct {
	ID        string     `json:"id"`
	Type      NodeType   `json:"type"`
	Position  Position   `json:"position"`
	Measured  *Size      `json:"measured,omitempty"`
	ParentID  string     `json:"parentId,omitempty"`
	Data      NodeData   `json:"data"`
	Selected  bool       `json:"selected"`
	Draggable bool       `json:"draggable"`
	Style     *NodeStyle `json:"style,omitempty"`
}

func (n Node) IsGroup() bool { return n.Type == NodeTypeGroup }

// IsTemporaryGroup reports whether n is an ephemeral multi-select group.
func (n Node) IsTemporaryGroup() bool {
	if !n.IsGroup() {
		return false
	}
	v, _ := n.Data.Metadata[MetaIsTemporary].(bool)
	return v
}

// Clone returns a copy of n that shares no mutable state with the original.
func (n Node) Clone() Node {
	c := n
	if n.Measured != nil {
		m := *n.Measured
		c.Measured = &m
	}
	if n.Style != nil {
		s := *n.Style
		c.Style = &s
	}
	c.Data.Metadata = cloneMap(n.Data.Metadata)
	return c
}

// Matches reports whether n is the node a filter refers to.
func (n Node) Matches(f NodeFilter) bool {
	return n.Type == f.Type && n.Data.EntityID == f.EntityID && f.EntityID != ""
}

// NodeFilter identifies a node by the entity it represents.
type NodeFilter struct {
	Type     NodeType `json:"type"`
	EntityID string   `json:"entityId"`
}

// NodeDataPatch is a partial update of NodeData. Nil fields are left as-is;
// Metadata is merged key by key.
type NodeDataPatch struct {
	Title          *string        `json:"title,omitempty"`
	EntityID       *string        `json:"entityId,omitempty"`
	ContentPreview *string        `json:"contentPreview,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Apply merges p into d and returns the result.
func (p NodeDataPatch) Apply(d NodeData) NodeData {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.EntityID != nil {
		d.EntityID = *p.EntityID
	}
	if p.ContentPreview != nil {
		d.ContentPreview = *p.ContentPreview
	}
	if len(p.Metadata) > 0 {
		merged := cloneMap(d.Metadata)
		if merged == nil {
			merged = make(map[string]any, len(p.Metadata))
		}
		maps.Copy(merged, p.Metadata)
		d.Metadata = merged
	}
	return d
}

// CloneNodes deep-copies a node slice.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// FindNode returns the index of the node with the given id, or -1.
func FindNode(nodes []Node, id string) int {
	for i := range nodes {
		if nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// FindByFilter returns the first node matching f.
func FindByFilter(nodes []Node, f NodeFilter) (Node, bool) {
	for _, n := range nodes {
		if n.Matches(f) {
			return n, true
		}
	}
	return Node{}, false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// DeclaredSize returns the size set on a node's style, falling back to the
// width/height mirrored in its metadata. Zero means undeclared.
func (n Node) DeclaredSize() Size {
	var s Size
	if n.Style != nil {
		s = Size{Width: n.Style.Width, Height: n.Style.Height}
	}
	if s.Width <= 0 {
		s.Width = MetaFloat(n.Data.Metadata, MetaWidth)
	}
	if s.Height <= 0 {
		s.Height = MetaFloat(n.Data.Metadata, MetaHeight)
	}
	return s
}

// SetDeclaredSize writes size to the style and its metadata mirror.
func (n *Node) SetDeclaredSize(size Size) {
	n.Style = &NodeStyle{Width: size.Width, Height: size.Height}
	n.Data.Metadata = cloneMap(n.Data.Metadata)
	if n.Data.Metadata == nil {
		n.Data.Metadata = make(map[string]any, 2)
	}
	n.Data.Metadata[MetaWidth] = size.Width
	n.Data.Metadata[MetaHeight] = size.Height
}

// MetaFloat reads a numeric metadata value. Values decoded from JSON arrive
// as float64; other numeric kinds are accepted for locally built maps.
func MetaFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
