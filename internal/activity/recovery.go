package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flowforge/actrt/internal/domain"
	"github.com/flowforge/actrt/internal/logging"
	"github.com/flowforge/actrt/internal/metrics"
	"github.com/flowforge/actrt/internal/snapshot"
)

// RecoverySweeperConfig configures a RecoverySweeper.
type RecoverySweeperConfig struct {
	Workers       int
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

// Lookup resolves an activityID (as recorded in a snapshot) to the live
// Activity instance a host holds in memory, so the sweeper can call
// Recover/Resume on it. Returns false if the host has no such activity
// registered (e.g. it belongs to a different process).
type Lookup func(activityID string) (*Activity, bool)

// RecoverySweeper periodically lists snapshots whose last-known status
// indicates the activity was mid-run when the host last stopped, and
// calls Recover + Resume on each (spec.md §6 supplement). It is grounded
// on a ticker-per-worker poll loop, entirely additive to an Activity's own
// state machine: it never changes transition semantics, only decides
// which activities to revive and when.
type RecoverySweeper struct {
	store  snapshot.Store
	lookup Lookup
	cfg    RecoverySweeperConfig

	mu      sync.Mutex
	leases  map[string]time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewRecoverySweeper creates a sweeper over store, using lookup to resolve
// recovered activity IDs to live instances.
func NewRecoverySweeper(store snapshot.Store, lookup Lookup, cfg RecoverySweeperConfig) *RecoverySweeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	return &RecoverySweeper{
		store:  store,
		lookup: lookup,
		cfg:    cfg,
		leases: make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweeper's worker goroutines.
func (s *RecoverySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logging.Op().Info("recovery sweeper started", "workers", s.cfg.Workers, "poll_interval", s.cfg.PollInterval)
}

// Stop gracefully shuts down the sweeper's workers.
func (s *RecoverySweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logging.Op().Info("recovery sweeper stopped")
}

// RunOnce performs a single sweep synchronously, without requiring Start.
// Useful for tests and for hosts that want to trigger recovery on demand
// (e.g. right after a restart) rather than waiting for the next tick.
func (s *RecoverySweeper) RunOnce() {
	s.sweep()
}

func (s *RecoverySweeper) worker(id int) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep lists every stored snapshot and attempts recovery of those that
// are mid-run and not already leased by another worker.
func (s *RecoverySweeper) sweep() {
	records, err := s.store.List(context.Background(), nil)
	if err != nil {
		logging.Op().Error("recovery sweep: list snapshots failed", "error", err)
		return
	}
	for _, rec := range records {
		s.tryRecover(rec)
	}
}

func (s *RecoverySweeper) tryRecover(rec *snapshot.Record) {
	if !s.acquireLease(rec.ActivityID) {
		return
	}
	defer s.releaseLease(rec.ActivityID)

	a, ok := s.lookup(rec.ActivityID)
	if !ok {
		return
	}

	var state State
	if err := json.Unmarshal(rec.State, &state); err != nil {
		logging.Op().Error("recovery sweep: decode snapshot failed", "activity", rec.ActivityID, "error", err)
		return
	}
	if !isMidRun(state.Status) {
		return
	}

	if err := a.Recover(state); err != nil {
		logging.Op().Error("recovery sweep: recover failed", "activity", rec.ActivityID, "error", err)
		return
	}
	if err := a.Resume(); err != nil {
		logging.Op().Error("recovery sweep: resume failed", "activity", rec.ActivityID, "error", err)
		return
	}
	metrics.RecordRecovery(a.Type)
	logging.Op().Info("recovery sweep: activity recovered", "activity", rec.ActivityID, "type", a.Type, "status", string(state.Status))
}

// acquireLease claims activityID for LeaseDuration, returning false if
// another worker already holds an unexpired lease.
func (s *RecoverySweeper) acquireLease(activityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, ok := s.leases[activityID]; ok && time.Now().Before(expiry) {
		return false
	}
	s.leases[activityID] = time.Now().Add(s.cfg.LeaseDuration)
	return true
}

func (s *RecoverySweeper) releaseLease(activityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, activityID)
}

// isMidRun reports whether status reflects an activity that was running
// (not idle, not ended, not discarded) when its last snapshot was taken.
func isMidRun(status domain.Status) bool {
	switch status {
	case domain.StatusUnset, domain.StatusEnd, domain.StatusDiscarded:
		return false
	default:
		return true
	}
}
