// Package replica pushes the canonical canvas state into a replicated
// document and pulls remote snapshots back.
//
// The replicated document is a black box behind the Document interface: it
// reports a connection status, runs atomic transactions over three ordered
// fields (title, nodes, edges) and returns snapshots. The Engine throttles
// local changes into full-snapshot transactions; History records local
// states for undo and redo.
package replica

import (
	"context"

	"canvas/internal/domain"
)

// Status is the connection state of a replicated document.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Field names one of the replicated sequences.
type Field string

const (
	FieldTitle Field = "title"
	FieldNodes Field = "nodes"
	FieldEdges Field = "edges"
)

// Tx is the mutation surface available inside a transaction. Title is a
// text field; nodes and edges are ordered sequences of JSON-compatible
// values.
type Tx interface {
	Len(field Field) int
	Delete(field Field, index, length int) error
	Push(field Field, values ...any) error
	SetText(field Field, s string) error
}

// Document is the replication transport for one canvas.
type Document interface {
	Status() Status
	// Transact runs fn atomically. If fn returns an error nothing is
	// committed.
	Transact(ctx context.Context, fn func(Tx) error) error
	Snapshot(ctx context.Context) (domain.Document, error)
}

// Observable documents report snapshots written by other peers.
type Observable interface {
	Observe(fn func(domain.Document)) (cancel func())
}

// replace overwrites the whole document inside tx.
func replace(tx Tx, title string, nodes, edges []any) error {
	if err := tx.SetText(FieldTitle, title); err != nil {
		return err
	}
	for _, f := range []struct {
		field  Field
		values []any
	}{{FieldNodes, nodes}, {FieldEdges, edges}} {
		if n := tx.Len(f.field); n > 0 {
			if err := tx.Delete(f.field, 0, n); err != nil {
				return err
			}
		}
		if len(f.values) > 0 {
			if err := tx.Push(f.field, f.values...); err != nil {
				return err
			}
		}
	}
	return nil
}
