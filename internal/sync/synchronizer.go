// Package sync delivers locally queued activities to the remote store.
//
// Every submission is written to the durable local queue first and only then
// sent to the remote store, so a failed or interrupted delivery never loses
// the entry. Delivery is at-least-once: if the remote store accepts an insert
// but the acknowledgement is lost, a later pass inserts it again.
package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/localid"
	"github.com/kimhsiao/timeaudit/internal/logging"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/remote"
	"github.com/kimhsiao/timeaudit/internal/sync/queue"
)

// DefaultDeliveryTimeout bounds a single remote insert.
const DefaultDeliveryTimeout = 30 * time.Second

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncResult represents the result of one pass over the syncable activities.
type SyncResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempted int           `json:"attempted"`
	Confirmed int           `json:"confirmed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
}

// Synchronizer submits activities and retries the ones that could not be
// delivered.
type Synchronizer struct {
	queue           *queue.LocalQueue
	remote          remote.Inserter
	auth            remote.Authenticator
	ids             localid.Generator
	clock           clock.Clock
	notifier        Notifier
	deliveryTimeout time.Duration

	inFlightMu stdsync.Mutex
	inFlight   map[string]struct{}

	wg stdsync.WaitGroup

	mu       stdsync.RWMutex
	passes   int
	lastSync *time.Time
	lastErr  error
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

func WithClock(c clock.Clock) Option {
	return func(s *Synchronizer) { s.clock = c }
}

func WithIDGenerator(g localid.Generator) Option {
	return func(s *Synchronizer) { s.ids = g }
}

func WithNotifier(n Notifier) Option {
	return func(s *Synchronizer) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithAuthenticator(a remote.Authenticator) Option {
	return func(s *Synchronizer) { s.auth = a }
}

// WithDeliveryTimeout bounds each remote insert.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.deliveryTimeout = d
		}
	}
}

// NewSynchronizer creates a Synchronizer over q delivering to inserter.
func NewSynchronizer(q *queue.LocalQueue, inserter remote.Inserter, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		queue:           q,
		remote:          inserter,
		ids:             localid.V7{},
		clock:           clock.System{},
		notifier:        nopNotifier{},
		deliveryTimeout: DefaultDeliveryTimeout,
		inFlight:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeText trims surrounding whitespace and applies Unicode NFC so the
// same visible text is always stored the same way.
func NormalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// =====================================================
// Submit
// =====================================================

// Submit validates and durably queues a new activity, then starts a
// background delivery attempt. Validation and local write failures are
// returned before any network call. A zero loggedAt uses the current time.
func (s *Synchronizer) Submit(ctx context.Context, text, ownerID string, loggedAt time.Time) (*Submission, error) {
	text = NormalizeText(text)
	if text == "" {
		return nil, errors.New(errors.ErrValidation, "activity text is empty")
	}
	now := s.clock.Now()
	if loggedAt.IsZero() {
		loggedAt = now
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to generate local id", err)
	}

	record, err := s.queue.Enqueue(models.PendingActivityInput{
		LocalID:   id,
		OwnerID:   ownerID,
		Text:      text,
		LoggedAt:  loggedAt,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	s.emit(EventActivityQueued, record, nil, nil)

	sub := newSubmission(*record)
	deliverCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a := s.deliver(deliverCtx, *record)
		if a.localErr != nil {
			logging.Error("Failed to record delivery outcome", a.localErr,
				map[string]interface{}{"local_id": record.LocalID})
		}
		sub.finish(a.outcome, a.remoteErr)
	}()

	return sub, nil
}

// SubmitForCurrentUser submits on behalf of the signed-in owner. Nothing is
// queued when nobody is signed in.
func (s *Synchronizer) SubmitForCurrentUser(ctx context.Context, text string, loggedAt time.Time) (*Submission, error) {
	if s.auth == nil {
		return nil, errors.New(errors.ErrNotAuthenticated, "no authenticator configured")
	}
	ownerID, ok, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNotAuthenticated, "failed to resolve current user", err)
	}
	if !ok {
		return nil, errors.New(errors.ErrNotAuthenticated, "not signed in")
	}
	return s.Submit(ctx, text, ownerID, loggedAt)
}

// =====================================================
// SyncPending
// =====================================================

// SyncPending makes one delivery attempt for every syncable activity, each
// with its original owner and loggedAt. One failure never stops the pass.
// When ctx ends the records not yet started are skipped; an insert already
// in flight is not cancelled.
// Remote failures are recorded on the activity; the returned error only
// reports local queue writes that failed, or ctx ending the pass early.
func (s *Synchronizer) SyncPending(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: s.clock.Now()}

	s.mu.Lock()
	s.passes++
	s.mu.Unlock()
	s.emit(EventSyncStarted, nil, nil, nil)

	var localErrs []error
	records := s.queue.ListSyncable()

	for _, record := range records {
		if ctx.Err() != nil {
			result.Skipped++
			continue
		}

		a := s.deliver(ctx, record)
		switch a.outcome {
		case OutcomeDelivered:
			result.Attempted++
			result.Confirmed++
		case OutcomeSavedLocally:
			result.Attempted++
			result.Failed++
		default:
			result.Skipped++
		}
		if a.localErr != nil {
			localErrs = append(localErrs, a.localErr)
		}
	}

	var err error
	if len(localErrs) > 0 {
		err = errors.Wrap(errors.ErrSyncFailed,
			fmt.Sprintf("%d local queue writes failed", len(localErrs)), stderrors.Join(localErrs...))
	} else if ctx.Err() != nil && result.Skipped > 0 {
		err = errors.Wrap(errors.ErrSyncFailed, "sync pass interrupted", ctx.Err())
	}

	result.EndTime = s.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if err != nil {
		result.Error = err.Error()
	}

	s.mu.Lock()
	s.passes--
	s.lastErr = err
	if err == nil {
		end := result.EndTime
		s.lastSync = &end
	}
	s.mu.Unlock()

	if result.Attempted > 0 || err != nil {
		logging.Info("Sync pass completed", map[string]interface{}{
			"attempted": result.Attempted,
			"confirmed": result.Confirmed,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		})
	}
	s.emit(EventSyncCompleted, nil, result, err)

	return result, err
}

// Cleanup prunes the local queue and reports every abandoned activity.
func (s *Synchronizer) Cleanup() (*queue.CleanupReport, error) {
	report, err := s.queue.Cleanup()
	if err != nil {
		return nil, err
	}
	for i := range report.Abandoned {
		abandoned := report.Abandoned[i]
		s.emit(EventActivityAbandoned, &abandoned, nil,
			errors.New(errors.ErrRetriesExhausted, fmt.Sprintf("gave up after %d attempts", abandoned.RetryCount)))
	}
	return report, nil
}

// Wait blocks until every background delivery started by Submit has finished.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// =====================================================
// Delivery
// =====================================================

type attempt struct {
	outcome   DeliveryOutcome
	remoteErr error
	localErr  error
}

func (s *Synchronizer) deliver(ctx context.Context, record models.PendingActivity) attempt {
	if !s.acquire(record.LocalID) {
		return attempt{outcome: OutcomeInFlight}
	}
	defer s.release(record.LocalID)

	// A pass may have listed the record before another delivery finished it.
	current, ok := s.queue.Get(record.LocalID)
	if !ok || !current.IsSyncable() {
		return attempt{outcome: OutcomeSkipped}
	}

	// An insert that has started runs to completion or deliveryTimeout.
	// Ending ctx only stops a pass between records, so shutting down never
	// counts as a failed attempt.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
	defer cancel()

	_, err := s.remote.Insert(insertCtx, models.NewActivity{
		OwnerID:  current.OwnerID,
		Text:     current.Text,
		LoggedAt: current.LoggedAt,
	})
	if err != nil {
		updated, markErr := s.queue.MarkFailed(current.LocalID)
		if markErr != nil {
			return attempt{outcome: OutcomeSavedLocally, remoteErr: err, localErr: markErr}
		}
		ctxFields := map[string]interface{}{
			"local_id": current.LocalID,
			"cause":    err.Error(),
		}
		if updated != nil {
			ctxFields["retry_count"] = updated.RetryCount
		}
		logging.Warn("Activity saved locally, delivery deferred", ctxFields)
		s.emit(EventActivityDeferred, updated, nil, err)
		return attempt{outcome: OutcomeSavedLocally, remoteErr: err}
	}

	updated, markErr := s.queue.MarkConfirmed(current.LocalID)
	if markErr != nil {
		// The row exists remotely but the queue still says pending; the next
		// pass will insert it again.
		logging.ErrorWithCode("Delivered activity could not be marked confirmed", string(errors.ErrLocalWrite), markErr,
			map[string]interface{}{"local_id": current.LocalID})
		return attempt{outcome: OutcomeDelivered, localErr: markErr}
	}
	s.emit(EventActivityConfirmed, updated, nil, nil)
	return attempt{outcome: OutcomeDelivered}
}

func (s *Synchronizer) acquire(localID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, busy := s.inFlight[localID]; busy {
		return false
	}
	s.inFlight[localID] = struct{}{}
	return true
}

func (s *Synchronizer) release(localID string) {
	s.inFlightMu.Lock()
	delete(s.inFlight, localID)
	s.inFlightMu.Unlock()
}

func (s *Synchronizer) emit(t EventType, activity *models.PendingActivity, result *SyncResult, err error) {
	event := Event{Type: t, Activity: activity, Result: result, Timestamp: s.clock.Now()}
	if err != nil {
		event.Error = err.Error()
	}
	s.notifier.Notify(event)
}

// =====================================================
// Status
// =====================================================

// Status returns the current sync status.
func (s *Synchronizer) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.passes > 0:
		return SyncStatusSyncing
	case s.lastErr != nil:
		return SyncStatusFailed
	}
	return SyncStatusIdle
}

// LastSync returns when the last error-free pass finished.
func (s *Synchronizer) LastSync() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// LastError returns the error of the most recent pass.
func (s *Synchronizer) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// PendingChanges returns the number of activities awaiting delivery.
func (s *Synchronizer) PendingChanges() int {
	return len(s.queue.ListSyncable())
}
