package domain

// ChangeType is the kind of a host change event.
type ChangeType string

const (
	ChangePosition   ChangeType = "position"
	ChangeSelect     ChangeType = "select"
	ChangeRemove     ChangeType = "remove"
	ChangeDimensions ChangeType = "dimensions"
	ChangeAdd        ChangeType = "add"
	ChangeReplace    ChangeType = "replace"
)

// NodeChange mirrors the change batches a rendering host reports.
type NodeChange struct {
	Type       ChangeType `json:"type"`
	ID         string     `json:"id"`
	Position   *Position  `json:"position,omitempty"`
	Dragging   bool       `json:"dragging,omitempty"`
	Selected   bool       `json:"selected,omitempty"`
	Dimensions *Size      `json:"dimensions,omitempty"`
	Item       *Node      `json:"item,omitempty"`
}

type EdgeChange struct {
	Type     ChangeType `json:"type"`
	ID       string     `json:"id"`
	Selected bool       `json:"selected,omitempty"`
	Item     *Edge      `json:"item,omitempty"`
}
