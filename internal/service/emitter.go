package service

import (
	"context"
	"sync"
)

// Events emitted by CanvasService.
const (
	EventChanged     = "canvas:changed"
	EventNodeAdded   = "canvas:node-added"
	EventNodeDeleted = "canvas:node-deleted"
	EventCenterNode  = "canvas:center-node"
	EventGuides      = "canvas:guides"
	EventLayout      = "canvas:layout"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter decouples services from the transport
// ─────────────────────────────────────────────────────────────

// EventEmitter publishes service events to whatever is listening: the
// collaboration hub, the MCP session, or nothing at all. Services receive
// this interface so they stay testable with a mock emitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, any) {}

// MockEmitter is a test-friendly EventEmitter that records all calls.
// Deferred edge commits emit from timer goroutines, so access is locked.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Named returns the recorded emissions of one event, in order.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
