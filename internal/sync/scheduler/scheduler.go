// Package scheduler retries undelivered activities in the background and
// keeps the local queue pruned.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/logging"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
	"github.com/kimhsiao/timeaudit/internal/sync/queue"
)

// Syncer is the part of the synchronizer the scheduler drives.
type Syncer interface {
	SyncPending(ctx context.Context) (*syncpkg.SyncResult, error)
	Cleanup() (*queue.CleanupReport, error)
	PendingChanges() int
}

// Scheduler manages background retry passes.
type Scheduler struct {
	syncer          Syncer
	retryInterval   time.Duration
	cleanupInterval time.Duration
	syncTimeout     time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	isOnline        bool
	lastSyncTime    time.Time
	lastResult      *syncpkg.SyncResult
	lastErr         error
	lastCleanup     *queue.CleanupReport
	syncInProgress  bool
	cleanInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	RetryInterval   time.Duration // How often to retry pending activities (default: 30 seconds)
	CleanupInterval time.Duration // How often to prune the queue (default: RetryInterval)
	SyncTimeout     time.Duration // Upper bound for one pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RetryInterval:   30 * time.Second,
		CleanupInterval: 30 * time.Second,
		SyncTimeout:     5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(syncer Syncer, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	retry := config.RetryInterval
	if retry <= 0 {
		retry = defaults.RetryInterval
	}
	cleanup := config.CleanupInterval
	if cleanup <= 0 {
		cleanup = retry
	}
	timeout := config.SyncTimeout
	if timeout <= 0 {
		timeout = defaults.SyncTimeout
	}

	return &Scheduler{
		syncer:          syncer,
		retryInterval:   retry,
		cleanupInterval: cleanup,
		syncTimeout:     timeout,
		stopCh:          make(chan struct{}),
		isOnline:        true, // Assume online initially
	}
}

// Start runs one pass and one cleanup immediately, then repeats them on
// their intervals until Stop or ctx is done. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.wg.Add(2)
	s.mu.Unlock()

	go s.retryLoop(ctx)
	go s.cleanupLoop(ctx)

	logging.Info("Background retry scheduler started", map[string]interface{}{
		"retry_interval_seconds": s.retryInterval.Seconds(),
	})
}

// Stop stops the scheduler and waits for loops and in-progress passes to finish.
// After the Start context has ended it only waits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	logging.Info("Background retry scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler.
// While offline, retry ticks are skipped; cleanup still runs.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

// retryLoop runs delivery passes while online.
func (s *Scheduler) retryLoop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()

	if s.IsOnline() && s.beginSync() {
		go s.runSync(ctx, stopCh)
	}

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.expire(stopCh)
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				logging.Debug("Skipping retry pass - scheduler is offline", nil)
				continue
			}
			if !s.beginSync() {
				logging.Debug("Retry pass already in progress, skipping", nil)
				continue
			}
			go s.runSync(ctx, stopCh)
		}
	}
}

// cleanupLoop prunes the queue regardless of online status.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()

	s.runCleanup()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.expire(stopCh)
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// expire marks the run that owns stopCh as stopped after its context ended,
// so TriggerSync refuses new passes and Start can run again.
func (s *Scheduler) expire(stopCh chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning || s.stopCh != stopCh {
		return
	}
	s.isRunning = false
	logging.Info("Background retry scheduler stopped by context", nil)
}

// beginSync claims the single pass slot and registers the pass with the
// wait group. It fails when a pass is running or the scheduler is stopped.
func (s *Scheduler) beginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning || s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	s.wg.Add(1)
	return true
}

// runSync executes a pass claimed by beginSync.
func (s *Scheduler) runSync(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-syncCtx.Done():
		}
	}()

	result, err := s.syncer.SyncPending(syncCtx)
	s.record(result, err)

	if err != nil {
		logging.ErrorWithCode("Retry pass failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"interval_seconds": s.retryInterval.Seconds()})
	}
}

func (s *Scheduler) runCleanup() {
	s.mu.Lock()
	if s.cleanInProgress {
		s.mu.Unlock()
		return
	}
	s.cleanInProgress = true
	s.mu.Unlock()

	report, err := s.syncer.Cleanup()

	s.mu.Lock()
	s.cleanInProgress = false
	if err == nil {
		s.lastCleanup = report
	}
	s.mu.Unlock()

	if err != nil {
		logging.Error("Queue cleanup failed", err, nil)
	}
}

func (s *Scheduler) record(result *syncpkg.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = result
	s.lastErr = err
	if err == nil {
		s.lastSyncTime = time.Now()
	}
}

// TriggerSync starts an immediate pass in the background.
// Returns true if a pass was started, false if one is already in progress
// or the scheduler is not running.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.beginSync() {
		return false
	}
	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()

	go s.runSync(ctx, stopCh)
	return true
}

// SyncNow runs a pass on the caller's goroutine and returns its result.
// It works whether or not the scheduler is running.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.syncer.SyncPending(syncCtx)
	s.record(result, err)
	if err != nil {
		return result, err
	}

	logging.Info("Manual sync completed",
		map[string]interface{}{
			"attempted": result.Attempted,
			"confirmed": result.Confirmed,
			"failed":    result.Failed,
		})

	return result, nil
}

// SchedulerStatus is a snapshot of scheduler state.
type SchedulerStatus struct {
	IsRunning         bool                 `json:"is_running"`
	IsOnline          bool                 `json:"is_online"`
	LastSyncTime      *time.Time           `json:"last_sync_time,omitempty"`
	SyncInProgress    bool                 `json:"sync_in_progress"`
	CleanupInProgress bool                 `json:"cleanup_in_progress"`
	PendingItems      int                  `json:"pending_items"`
	LastResult        *syncpkg.SyncResult  `json:"last_result,omitempty"`
	LastError         string               `json:"last_error,omitempty"`
	LastCleanup       *queue.CleanupReport `json:"last_cleanup,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:         s.isRunning,
		IsOnline:          s.isOnline,
		SyncInProgress:    s.syncInProgress,
		CleanupInProgress: s.cleanInProgress,
		LastResult:        s.lastResult,
		LastCleanup:       s.lastCleanup,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	status.PendingItems = s.syncer.PendingChanges()
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
