package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
	"canvas/internal/service"
)

type fakePruner struct {
	ids    []string
	pruned map[string]int
	err    error
}

func (f *fakePruner) CanvasIDs(context.Context) ([]string, error) { return f.ids, f.err }

func (f *fakePruner) Prune(_ context.Context, canvasID string, keep int) (int, error) {
	if f.pruned == nil {
		f.pruned = make(map[string]int)
	}
	f.pruned[canvasID] = keep
	return 2, nil
}

type importRecorder struct {
	mu   sync.Mutex
	docs map[string]domain.Document
}

func (r *importRecorder) importDoc(_ context.Context, canvasID string, doc domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docs == nil {
		r.docs = make(map[string]domain.Document)
	}
	r.docs[canvasID] = doc
	return nil
}

func (r *importRecorder) get(canvasID string) (domain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[canvasID]
	return d, ok
}

func TestMaintenance_PruneHistory(t *testing.T) {
	p := &fakePruner{ids: []string{"c1", "c2"}}
	em := &service.MockEmitter{}
	m := service.NewMaintenanceService(service.MaintenanceConfig{HistoryLimit: 10}, p, nil, nil, em, nil)

	n, err := m.PruneHistory(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 pruned entries, got %d", n)
	}
	if p.pruned["c1"] != 10 || p.pruned["c2"] != 10 {
		t.Errorf("expected both canvases pruned to 10, got %v", p.pruned)
	}
	if len(em.Named(service.EventHistoryPruned)) != 1 {
		t.Error("expected a history-pruned event")
	}
}

func TestMaintenance_PruneHistoryError(t *testing.T) {
	p := &fakePruner{err: errors.New("db gone")}
	m := service.NewMaintenanceService(service.MaintenanceConfig{}, p, nil, nil, nil, nil)
	if _, err := m.PruneHistory(context.Background()); err == nil {
		t.Fatal("expected the listing error to surface")
	}
}

func TestMaintenance_Checkpoint(t *testing.T) {
	calls := 0
	m := service.NewMaintenanceService(service.MaintenanceConfig{}, nil, func(context.Context) error {
		calls++
		return nil
	}, nil, nil, nil)
	if err := m.Checkpoint(context.Background()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 checkpoint call, got %d", calls)
	}
}

func TestMaintenance_InvalidSchedule(t *testing.T) {
	m := service.NewMaintenanceService(service.MaintenanceConfig{PruneSchedule: "every tuesday"}, &fakePruner{}, nil, nil, nil, nil)
	err := m.Start(context.Background())
	defer m.Stop()
	if !cerrors.Is(err, cerrors.ErrCodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}

func TestMaintenance_ImportFile(t *testing.T) {
	rec := &importRecorder{}
	m := service.NewMaintenanceService(service.MaintenanceConfig{}, nil, nil, rec.importDoc, nil, nil)
	dir := t.TempDir()

	path := filepath.Join(dir, "research.json")
	if err := os.WriteFile(path, []byte(`{"title":"Research","nodes":[{"id":"a","type":"memo","position":{"x":1,"y":2},"data":{"title":"A","entityId":"m"}}],"edges":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.ImportFile(context.Background(), path); err != nil {
		t.Fatalf("import: %v", err)
	}
	doc, ok := rec.get("research")
	if !ok {
		t.Fatal("expected the document to be imported into canvas 'research'")
	}
	if doc.Title != "Research" || len(doc.Nodes) != 1 || doc.Nodes[0].Position.Y != 2 {
		t.Errorf("unexpected document: %+v", doc)
	}

	bad := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.ImportFile(context.Background(), bad); !cerrors.Is(err, cerrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for a broken file, got %v", err)
	}
}

func TestMaintenance_ImportWithoutImporter(t *testing.T) {
	m := service.NewMaintenanceService(service.MaintenanceConfig{}, nil, nil, nil, nil, nil)
	if err := m.ImportFile(context.Background(), "x.json"); !cerrors.Is(err, cerrors.ErrCodeUnsupported) {
		t.Errorf("expected UNSUPPORTED, got %v", err)
	}
}

func TestMaintenance_WatchesImportDir(t *testing.T) {
	rec := &importRecorder{}
	dir := t.TempDir()
	m := service.NewMaintenanceService(service.MaintenanceConfig{ImportDir: dir}, nil, nil, rec.importDoc, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "board.json"), []byte(`{"title":"Board"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if doc, ok := rec.get("board"); ok {
			if doc.Title != "Board" {
				t.Errorf("expected title Board, got %q", doc.Title)
			}
			if _, ok := rec.get("notes"); ok {
				t.Error("non-json files must be ignored")
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watched file was not imported")
}

func TestCanvasIDFromPath(t *testing.T) {
	tests := []struct{ path, want string }{
		{"/imports/research.json", "research"},
		{"board.JSON", "board"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := service.CanvasIDFromPath(tt.path); got != tt.want {
			t.Errorf("CanvasIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
