package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"canvas/internal/domain"
)

func boolPtr(v bool) *bool { return &v }

// parseJSON parses an optional JSON string argument into target.
func parseJSON(data string, target any) error {
	if strings.TrimSpace(data) == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), target)
}

// optionalPosition returns a position when both x and y are given.
func optionalPosition(args map[string]any) *domain.Position {
	x, okX := args["x"].(float64)
	y, okY := args["y"].(float64)
	if !okX || !okY {
		return nil
	}
	return &domain.Position{X: x, Y: y}
}

// splitIDs splits a comma-separated id list, dropping blanks.
func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseDirection(s string, fallback domain.Direction) (domain.Direction, error) {
	if s == "" {
		return fallback, nil
	}
	d := domain.Direction(strings.ToUpper(s))
	if !d.Valid() {
		return "", fmt.Errorf("direction must be TB or LR, got %q", s)
	}
	return d, nil
}

// nodeSummary is the compact node view returned by list tools.
type nodeSummary struct {
	ID       string          `json:"id"`
	Type     domain.NodeType `json:"type"`
	Title    string          `json:"title,omitempty"`
	EntityID string          `json:"entityId,omitempty"`
	ParentID string          `json:"parentId,omitempty"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	Selected bool            `json:"selected,omitempty"`
}

func summarizeNode(n domain.Node) nodeSummary {
	return nodeSummary{
		ID:       n.ID,
		Type:     n.Type,
		Title:    n.Data.Title,
		EntityID: n.Data.EntityID,
		ParentID: n.ParentID,
		X:        n.Position.X,
		Y:        n.Position.Y,
		Selected: n.Selected,
	}
}
