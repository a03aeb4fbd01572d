package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
)

// MemoryDocument is an in-process Document. Values are stored as encoded
// JSON, the same shape a network peer would see. It backs offline sessions
// and tests, and can play a remote peer through Replace.
type MemoryDocument struct {
	mu        sync.Mutex
	status    Status
	title     string
	seqs      map[Field][]json.RawMessage
	txCount   int
	observers map[int]func(domain.Document)
	nextObs   int
}

func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{
		status:    StatusConnected,
		seqs:      map[Field][]json.RawMessage{FieldNodes: nil, FieldEdges: nil},
		observers: make(map[int]func(domain.Document)),
	}
}

func (d *MemoryDocument) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// SetStatus simulates a connection change.
func (d *MemoryDocument) SetStatus(s Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s
}

// Transactions returns the number of committed transactions.
func (d *MemoryDocument) Transactions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txCount
}

func (d *MemoryDocument) Transact(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusConnected {
		return cerrors.New(cerrors.ErrCodeNotConnected, "document is %s", d.status)
	}

	tx := &memoryTx{title: d.title, seqs: make(map[Field][]json.RawMessage, len(d.seqs))}
	for f, s := range d.seqs {
		tx.seqs[f] = append([]json.RawMessage(nil), s...)
	}
	if err := fn(tx); err != nil {
		return cerrors.Wrap(cerrors.ErrCodeTransactionFailed, err, "transaction rolled back")
	}
	d.title, d.seqs = tx.title, tx.seqs
	d.txCount++
	return nil
}

func (d *MemoryDocument) Snapshot(ctx context.Context) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decode()
}

// Observe registers fn for snapshots written through Replace.
func (d *MemoryDocument) Observe(fn func(domain.Document)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// Replace overwrites the document as another peer would and notifies
// observers.
func (d *MemoryDocument) Replace(doc domain.Document) error {
	nodes, err := encodeAll(doc.Nodes)
	if err != nil {
		return err
	}
	edges, err := encodeAll(doc.Edges)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.title = doc.Title
	d.seqs[FieldNodes] = nodes
	d.seqs[FieldEdges] = edges
	d.txCount++
	snap, err := d.decode()
	obs := make([]func(domain.Document), 0, len(d.observers))
	for _, fn := range d.observers {
		obs = append(obs, fn)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	for _, fn := range obs {
		fn(snap)
	}
	return nil
}

func (d *MemoryDocument) decode() (domain.Document, error) {
	doc := domain.Document{Title: d.title, Nodes: []domain.Node{}, Edges: []domain.Edge{}}
	for _, raw := range d.seqs[FieldNodes] {
		var n domain.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return domain.Document{}, fmt.Errorf("decode node: %w", err)
		}
		doc.Nodes = append(doc.Nodes, n)
	}
	for _, raw := range d.seqs[FieldEdges] {
		var e domain.Edge
		if err := json.Unmarshal(raw, &e); err != nil {
			return domain.Document{}, fmt.Errorf("decode edge: %w", err)
		}
		doc.Edges = append(doc.Edges, e)
	}
	return doc, nil
}

// ── transaction ──────────────────────────────────────────────

type memoryTx struct {
	title string
	seqs  map[Field][]json.RawMessage
}

func (tx *memoryTx) Len(field Field) int {
	if field == FieldTitle {
		return len(tx.title)
	}
	return len(tx.seqs[field])
}

func (tx *memoryTx) Delete(field Field, index, length int) error {
	if field == FieldTitle {
		return cerrors.New(cerrors.ErrCodeUnsupported, "use SetText for %s", field)
	}
	seq, ok := tx.seqs[field]
	if !ok {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "unknown field %q", field)
	}
	if index < 0 || length < 0 || index+length > len(seq) {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "delete [%d,%d) out of range for %s of length %d", index, index+length, field, len(seq))
	}
	tx.seqs[field] = append(seq[:index:index], seq[index+length:]...)
	return nil
}

func (tx *memoryTx) Push(field Field, values ...any) error {
	if _, ok := tx.seqs[field]; !ok {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "unknown field %q", field)
	}
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s value: %w", field, err)
		}
		tx.seqs[field] = append(tx.seqs[field], raw)
	}
	return nil
}

func (tx *memoryTx) SetText(field Field, s string) error {
	if field != FieldTitle {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "%s is not a text field", field)
	}
	tx.title = s
	return nil
}

func encodeAll[T any](values []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}
