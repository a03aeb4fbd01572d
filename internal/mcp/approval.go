package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"canvas/internal/service"
)

const (
	EventApprovalRequired  = "mcp:approval-required"
	EventApprovalDismissed = "mcp:approval-dismissed"

	DefaultApprovalTimeout = 120 * time.Second
)

// PendingAction represents a destructive operation awaiting approval.
type PendingAction struct {
	ID          string   `json:"id"`
	Tool        string   `json:"tool"`
	Description string   `json:"description"`
	CreatedAt   string   `json:"createdAt"`
	NodeIDs     []string `json:"nodeIds,omitempty"`
}

type pendingEntry struct {
	action PendingAction
	result chan bool
}

// ApprovalQueue holds destructive tool calls until a collaborator approves
// or rejects them. The request is announced through the emitter, which the
// collaboration hub forwards to connected clients; answers come back over
// HTTP. With autoApprove set every request passes immediately.
type ApprovalQueue struct {
	mu          sync.Mutex
	pending     map[string]pendingEntry
	ctx         context.Context
	emitter     service.EventEmitter
	timeout     time.Duration
	autoApprove bool
}

func NewApprovalQueue(ctx context.Context, emitter service.EventEmitter, autoApprove bool) *ApprovalQueue {
	return &ApprovalQueue{
		pending:     make(map[string]pendingEntry),
		ctx:         ctx,
		emitter:     emitter,
		timeout:     DefaultApprovalTimeout,
		autoApprove: autoApprove,
	}
}

// SetTimeout changes how long Request waits for an answer.
func (q *ApprovalQueue) SetTimeout(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timeout = d
}

// Request announces an action and blocks until it is approved, rejected,
// times out, or ctx ends. Only approval returns a nil error.
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string, nodeIDs ...string) error {
	if q.autoApprove {
		return nil
	}
	entry := pendingEntry{
		action: PendingAction{
			ID:          uuid.NewString(),
			Tool:        tool,
			Description: description,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			NodeIDs:     nodeIDs,
		},
		result: make(chan bool, 1),
	}
	id := entry.action.ID

	q.mu.Lock()
	q.pending[id] = entry
	timeout := q.timeout
	q.mu.Unlock()
	defer q.cleanup(id)

	q.emitter.Emit(q.ctx, EventApprovalRequired, entry.action)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case approved := <-entry.result:
		if !approved {
			return fmt.Errorf("action rejected by user: %s", tool)
		}
		return nil
	case <-timer.C:
		q.emitter.Emit(q.ctx, EventApprovalDismissed, map[string]string{"id": id})
		return fmt.Errorf("action timed out after %s: %s", timeout, tool)
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

// Approve resolves a pending action. It reports false for unknown ids.
func (q *ApprovalQueue) Approve(actionID string) bool { return q.resolve(actionID, true) }

// Reject resolves a pending action as rejected.
func (q *ApprovalQueue) Reject(actionID string) bool { return q.resolve(actionID, false) }

// Pending lists the actions awaiting an answer, oldest first.
func (q *ApprovalQueue) Pending() []PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingAction, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.action)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) bool {
	q.mu.Lock()
	e, ok := q.pending[actionID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.result <- approved:
	default:
		// already answered
	}
	return true
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
