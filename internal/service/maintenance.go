package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"canvas/internal/domain"
	cerrors "canvas/internal/errors"
)

const (
	EventHistoryPruned = "maintenance:history-pruned"
	EventCheckpoint    = "maintenance:checkpoint"
	EventImported      = "maintenance:imported"
)

// importDebounce collapses the burst of write events an editor produces
// when saving a file.
const importDebounce = 500 * time.Millisecond

// HistoryPruner trims persisted undo history. storage.HistoryStore
// satisfies it.
type HistoryPruner interface {
	CanvasIDs(ctx context.Context) ([]string, error)
	Prune(ctx context.Context, canvasID string, keep int) (int, error)
}

// CheckpointFunc saves every open canvas to the document store.
type CheckpointFunc func(ctx context.Context) error

// ImportFunc merges a document into the named canvas.
type ImportFunc func(ctx context.Context, canvasID string, doc domain.Document) error

type MaintenanceConfig struct {
	// PruneSchedule and CheckpointSchedule are cron expressions; empty
	// disables the job.
	PruneSchedule      string
	CheckpointSchedule string
	HistoryLimit       int
	// ImportDir is watched for *.json documents; empty disables the watcher.
	ImportDir string
}

// MaintenanceService runs the background jobs of a server: history pruning
// and checkpoints on cron schedules, and imports of documents dropped into a
// watched directory.
type MaintenanceService struct {
	cfg        MaintenanceConfig
	history    HistoryPruner
	checkpoint CheckpointFunc
	importer   ImportFunc
	emitter    EventEmitter
	logger     *log.Logger

	runningJobs runningJobsGuard

	mu          sync.Mutex
	cronSched   *cron.Cron
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
}

func NewMaintenanceService(cfg MaintenanceConfig, history HistoryPruner, checkpoint CheckpointFunc, importer ImportFunc, emitter EventEmitter, logger *log.Logger) *MaintenanceService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &MaintenanceService{
		cfg:        cfg,
		history:    history,
		checkpoint: checkpoint,
		importer:   importer,
		emitter:    emitter,
		logger:     logger.WithPrefix("maintenance"),
	}
}

// Start schedules the cron jobs and starts the import watcher. Invalid cron
// expressions and an unreadable import directory are configuration errors.
func (s *MaintenanceService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New()
	jobs := 0
	if s.cfg.PruneSchedule != "" && s.history != nil {
		if _, err := c.AddFunc(s.cfg.PruneSchedule, func() {
			if _, err := s.PruneHistory(ctx); err != nil {
				s.logger.Warn("prune history", "err", err)
			}
		}); err != nil {
			return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "invalid prune schedule %q", s.cfg.PruneSchedule)
		}
		jobs++
	}
	if s.cfg.CheckpointSchedule != "" && s.checkpoint != nil {
		if _, err := c.AddFunc(s.cfg.CheckpointSchedule, func() {
			if err := s.Checkpoint(ctx); err != nil {
				s.logger.Warn("checkpoint", "err", err)
			}
		}); err != nil {
			return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "invalid checkpoint schedule %q", s.cfg.CheckpointSchedule)
		}
		jobs++
	}
	if jobs > 0 {
		c.Start()
		s.cronSched = c
		s.logger.Info("scheduled jobs", "count", jobs)
	}

	if s.cfg.ImportDir != "" && s.importer != nil {
		if err := s.watch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PruneHistory trims every canvas' history to the configured limit. A run
// already in progress makes this call a no-op.
func (s *MaintenanceService) PruneHistory(ctx context.Context) (int, error) {
	if s.history == nil {
		return 0, nil
	}
	if !s.runningJobs.TryLock("prune") {
		return 0, nil
	}
	defer s.runningJobs.Unlock("prune")

	ids, err := s.history.CanvasIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list canvases: %w", err)
	}
	total := 0
	for _, id := range ids {
		n, err := s.history.Prune(ctx, id, s.cfg.HistoryLimit)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", id, err)
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("pruned history", "entries", total, "canvases", len(ids))
	}
	s.emitter.Emit(ctx, EventHistoryPruned, total)
	return total, nil
}

func (s *MaintenanceService) Checkpoint(ctx context.Context) error {
	if s.checkpoint == nil {
		return nil
	}
	if !s.runningJobs.TryLock("checkpoint") {
		return nil
	}
	defer s.runningJobs.Unlock("checkpoint")

	if err := s.checkpoint(ctx); err != nil {
		return err
	}
	s.emitter.Emit(ctx, EventCheckpoint, time.Now().UTC())
	return nil
}

// ImportFile decodes a JSON document and merges it into the canvas named
// after the file: boards/research.json imports into canvas "research".
func (s *MaintenanceService) ImportFile(ctx context.Context, path string) error {
	if s.importer == nil {
		return cerrors.New(cerrors.ErrCodeUnsupported, "imports are not enabled")
	}
	if !s.runningJobs.TryLock("import:" + path) {
		return nil
	}
	defer s.runningJobs.Unlock("import:" + path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cerrors.Wrap(cerrors.ErrCodeInvalidInput, err, "decode %s", filepath.Base(path))
	}
	canvasID := CanvasIDFromPath(path)
	if err := s.importer(ctx, canvasID, doc); err != nil {
		return fmt.Errorf("import %s: %w", canvasID, err)
	}
	s.logger.Info("imported file", "path", path, "canvas", canvasID, "nodes", len(doc.Nodes))
	s.emitter.Emit(ctx, EventImported, canvasID)
	return nil
}

// CanvasIDFromPath names the canvas a document file imports into.
func CanvasIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WaitRunning blocks until running jobs finish or ctx is cancelled.
func (s *MaintenanceService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down the watcher and the scheduler.
func (s *MaintenanceService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}

// ── Import watcher ────────────────────────────────────────

func (s *MaintenanceService) watch(ctx context.Context) error {
	dir, err := filepath.Abs(s.cfg.ImportDir)
	if err != nil {
		return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "bad import dir %q", s.cfg.ImportDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create import dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	go func() {
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
					continue
				}
				path := event.Name
				if t, exists := timers[path]; exists {
					t.Stop()
				}
				timers[path] = time.AfterFunc(importDebounce, func() {
					if err := s.ImportFile(watchCtx, path); err != nil {
						s.logger.Warn("import failed", "path", path, "err", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "err", err)
			}
		}
	}()

	s.logger.Info("watching import dir", "dir", dir)
	return nil
}
