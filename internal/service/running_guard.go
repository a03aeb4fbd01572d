package service

import (
	"context"
	"sync"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningJobsGuard

// ─────────────────────────────────────────────────────────────
// runningJobsGuard: one in-flight run per key
// ─────────────────────────────────────────────────────────────

// runningJobsGuard tracks keyed background work: deferred edge commits,
// scheduled maintenance, file imports. A key can be held once; WaitAll
// lets shutdown wait for everything still holding one.
type runningJobsGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock claims key. It reports false when the key is already held.
func (g *runningJobsGuard) TryLock(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, held := g.running[key]; held {
		return false
	}
	g.running[key] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock releases a key claimed by TryLock.
func (g *runningJobsGuard) Unlock(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.running[key]; !held {
		return
	}
	delete(g.running, key)
	g.wg.Done()
}

// Running reports whether key is held.
func (g *runningJobsGuard) Running(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.running[key]
	return held
}

// WaitAll blocks until no key is held or ctx is done.
func (g *runningJobsGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
