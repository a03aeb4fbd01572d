package collab

import (
	"context"
	"slices"
)

// Emitter forwards server events to every connected peer as status frames.
// When Events is set only those events are forwarded.
type Emitter struct {
	Hub    *Hub
	Events []string
}

func (e Emitter) Emit(_ context.Context, event string, data any) {
	if e.Hub == nil {
		return
	}
	if len(e.Events) > 0 && !slices.Contains(e.Events, event) {
		return
	}
	e.Hub.Broadcast(event, data)
}
