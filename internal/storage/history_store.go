package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"canvas/internal/domain"
	"canvas/internal/replica"
)

// DefaultHistoryLimit is how many undo entries Prune keeps per canvas.
const DefaultHistoryLimit = 100

// HistoryStore persists undo entries in the undo tables.
type HistoryStore struct {
	db *DB
}

func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// SaveEntry inserts e, or rewrites it when a coalesced step reuses its id,
// and moves the canvas cursor to it.
func (s *HistoryStore) SaveEntry(ctx context.Context, canvasID string, e replica.Entry) error {
	raw, err := json.Marshal(e.Doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	var parentID *string
	if e.ParentID != "" {
		parentID = &e.ParentID
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.rebind(
		`UPDATE undo_nodes SET snapshot_json = ?, created_at = ? WHERE id = ?`),
		string(raw), e.At, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update undo node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx, s.db.rebind(
			`INSERT INTO undo_nodes (id, canvas_id, parent_id, snapshot_json, created_at)
			 VALUES (?, ?, ?, ?, ?)`),
			e.ID, canvasID, parentID, string(raw), e.At,
		)
		if err != nil {
			return fmt.Errorf("insert undo node: %w", err)
		}
	}
	if err := setCurrent(ctx, tx, s.db, canvasID, e.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetCurrent updates the current position pointer.
func (s *HistoryStore) SetCurrent(ctx context.Context, canvasID, entryID string) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := setCurrent(ctx, tx, s.db, canvasID, entryID); err != nil {
		return err
	}
	return tx.Commit()
}

// Load returns a canvas' entries, oldest first, and the current entry id.
// A canvas without history returns no entries and an empty id.
func (s *HistoryStore) Load(ctx context.Context, canvasID string) ([]replica.Entry, string, error) {
	rows, err := s.db.conn.QueryContext(ctx, s.db.rebind(
		`SELECT id, parent_id, snapshot_json, created_at
		 FROM undo_nodes WHERE canvas_id = ? ORDER BY created_at ASC, id ASC`), canvasID,
	)
	if err != nil {
		return nil, "", fmt.Errorf("load undo nodes: %w", err)
	}
	defer rows.Close()

	var entries []replica.Entry
	for rows.Next() {
		var (
			e        replica.Entry
			parentID sql.NullString
			raw      string
		)
		if err := rows.Scan(&e.ID, &parentID, &raw, &e.At); err != nil {
			return nil, "", fmt.Errorf("scan undo node: %w", err)
		}
		e.ParentID = parentID.String
		var doc domain.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, "", fmt.Errorf("decode snapshot %s: %w", e.ID, err)
		}
		e.Doc = doc
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(entries) == 0 {
		return nil, "", nil
	}

	var currentID string
	err = s.db.conn.QueryRowContext(ctx, s.db.rebind(
		`SELECT current_node_id FROM undo_state WHERE canvas_id = ?`), canvasID,
	).Scan(&currentID)
	if errors.Is(err, sql.ErrNoRows) {
		currentID = entries[len(entries)-1].ID
	} else if err != nil {
		return nil, "", fmt.Errorf("load undo state: %w", err)
	}
	return entries, currentID, nil
}

// Clear removes all history of a canvas.
func (s *HistoryStore) Clear(ctx context.Context, canvasID string) error {
	if _, err := s.db.conn.ExecContext(ctx, s.db.rebind(`DELETE FROM undo_state WHERE canvas_id = ?`), canvasID); err != nil {
		return fmt.Errorf("clear undo state: %w", err)
	}
	if _, err := s.db.conn.ExecContext(ctx, s.db.rebind(`DELETE FROM undo_nodes WHERE canvas_id = ?`), canvasID); err != nil {
		return fmt.Errorf("clear undo nodes: %w", err)
	}
	return nil
}

// Prune drops the oldest entries of a canvas beyond keep, never the current
// one. Children of a dropped entry are relinked to its parent. It returns
// how many entries were removed.
func (s *HistoryStore) Prune(ctx context.Context, canvasID string, keep int) (int, error) {
	var count int
	if err := s.db.conn.QueryRowContext(ctx, s.db.rebind(
		`SELECT COUNT(*) FROM undo_nodes WHERE canvas_id = ?`), canvasID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count undo nodes: %w", err)
	}
	if count <= keep {
		return 0, nil
	}

	// Read the cursor before opening the rows cursor; SQLite runs on a
	// single connection
	var currentID string
	_ = s.db.conn.QueryRowContext(ctx, s.db.rebind(
		`SELECT current_node_id FROM undo_state WHERE canvas_id = ?`), canvasID,
	).Scan(&currentID)

	rows, err := s.db.conn.QueryContext(ctx, s.db.rebind(
		`SELECT id FROM undo_nodes WHERE canvas_id = ?
		 ORDER BY created_at ASC, id ASC LIMIT ?`), canvasID, count-keep,
	)
	if err != nil {
		return 0, fmt.Errorf("select prunable: %w", err)
	}
	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan prunable: %w", err)
		}
		if id != currentID {
			victims = append(victims, id)
		}
	}
	rows.Close()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, id := range victims {
		// parent is read per victim; deleting an earlier one may have relinked it
		var parent sql.NullString
		if err := tx.QueryRowContext(ctx, s.db.rebind(
			`SELECT parent_id FROM undo_nodes WHERE id = ?`), id,
		).Scan(&parent); err != nil {
			return 0, fmt.Errorf("read undo parent: %w", err)
		}
		var newParent any
		if parent.Valid {
			newParent = parent.String
		}
		if _, err := tx.ExecContext(ctx, s.db.rebind(
			`UPDATE undo_nodes SET parent_id = ? WHERE parent_id = ?`), newParent, id,
		); err != nil {
			return 0, fmt.Errorf("relink undo node: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.db.rebind(`DELETE FROM undo_nodes WHERE id = ?`), id); err != nil {
			return 0, fmt.Errorf("delete undo node: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(victims), nil
}

// CanvasIDs lists canvases that have history.
func (s *HistoryStore) CanvasIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT DISTINCT canvas_id FROM undo_nodes ORDER BY canvas_id`)
	if err != nil {
		return nil, fmt.Errorf("list history canvases: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func setCurrent(ctx context.Context, tx *sql.Tx, db *DB, canvasID, entryID string) error {
	res, err := tx.ExecContext(ctx, db.rebind(
		`UPDATE undo_state SET current_node_id = ? WHERE canvas_id = ?`), entryID, canvasID,
	)
	if err != nil {
		return fmt.Errorf("update undo state: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, db.rebind(
		`INSERT INTO undo_state (canvas_id, current_node_id) VALUES (?, ?)`), canvasID, entryID,
	); err != nil {
		return fmt.Errorf("insert undo state: %w", err)
	}
	return nil
}
