package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
)

// DocumentStore persists the replicated document of each canvas.
type DocumentStore interface {
	Save(ctx context.Context, canvasID string, doc domain.Document) (domain.CanvasRecord, error)
	Load(ctx context.Context, canvasID string) (domain.Document, error)
	List(ctx context.Context) ([]domain.CanvasRecord, error)
	Delete(ctx context.Context, canvasID string) error
	Close() error
}

// CanvasStore is the SQL DocumentStore.
type CanvasStore struct {
	db *DB
}

func NewCanvasStore(db *DB) *CanvasStore {
	return &CanvasStore{db: db}
}

func (s *CanvasStore) Close() error { return s.db.Close() }

// Save replaces the stored document in one transaction and bumps its
// version.
func (s *CanvasStore) Save(ctx context.Context, canvasID string, doc domain.Document) (domain.CanvasRecord, error) {
	if canvasID == "" {
		return domain.CanvasRecord{}, cerrors.New(cerrors.ErrCodeInvalidInput, "canvas id is required")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.CanvasRecord{}, fmt.Errorf("encode canvas: %w", err)
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.CanvasRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rec := domain.CanvasRecord{
		ID:        canvasID,
		Title:     doc.Title,
		NodeCount: len(doc.Nodes),
		EdgeCount: len(doc.Edges),
		UpdatedAt: now,
	}

	err = tx.QueryRowContext(ctx, s.db.rebind(
		`SELECT version, created_at FROM canvases WHERE id = ?`), canvasID,
	).Scan(&rec.Version, &rec.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.Version = 1
		rec.CreatedAt = now
		_, err = tx.ExecContext(ctx, s.db.rebind(
			`INSERT INTO canvases (id, title, doc_json, node_count, edge_count, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.ID, rec.Title, string(raw), rec.NodeCount, rec.EdgeCount, rec.Version, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return domain.CanvasRecord{}, fmt.Errorf("insert canvas: %w", err)
		}
	case err != nil:
		return domain.CanvasRecord{}, fmt.Errorf("read canvas: %w", err)
	default:
		rec.Version++
		_, err = tx.ExecContext(ctx, s.db.rebind(
			`UPDATE canvases SET title = ?, doc_json = ?, node_count = ?, edge_count = ?, version = ?, updated_at = ?
			 WHERE id = ?`),
			rec.Title, string(raw), rec.NodeCount, rec.EdgeCount, rec.Version, rec.UpdatedAt, rec.ID,
		)
		if err != nil {
			return domain.CanvasRecord{}, fmt.Errorf("update canvas: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.CanvasRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *CanvasStore) Load(ctx context.Context, canvasID string) (domain.Document, error) {
	var raw string
	err := s.db.conn.QueryRowContext(ctx, s.db.rebind(
		`SELECT doc_json FROM canvases WHERE id = ?`), canvasID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, cerrors.New(cerrors.ErrCodeNotFound, "canvas %s not found", canvasID)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("load canvas: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.Document{}, fmt.Errorf("decode canvas: %w", err)
	}
	return doc, nil
}

// List returns every stored canvas, most recently updated first.
func (s *CanvasStore) List(ctx context.Context) ([]domain.CanvasRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, title, node_count, edge_count, version, created_at, updated_at
		 FROM canvases ORDER BY updated_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	defer rows.Close()

	var out []domain.CanvasRecord
	for rows.Next() {
		var r domain.CanvasRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.NodeCount, &r.EdgeCount, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan canvas: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a canvas and its undo history.
func (s *CanvasStore) Delete(ctx context.Context, canvasID string) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM undo_state WHERE canvas_id = ?`,
		`DELETE FROM undo_nodes WHERE canvas_id = ?`,
		`DELETE FROM canvases WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.db.rebind(q), canvasID); err != nil {
			return fmt.Errorf("delete canvas: %w", err)
		}
	}
	return tx.Commit()
}

// OpenStores opens the configured backend. SQL backends also return a
// HistoryStore; MongoDB keeps no undo history, so it returns nil there.
func OpenStores(ctx context.Context, cfg Config) (DocumentStore, *HistoryStore, error) {
	if cfg.Driver == DriverMongo {
		s, err := NewMongoStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewCanvasStore(db), NewHistoryStore(db), nil
}
