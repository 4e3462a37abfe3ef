// Package queue provides the durable local queue of activities that have
// not yet been confirmed by the remote store.
//
// The whole queue lives in a single named slot as a JSON array. Every
// mutation reads the full array, changes it and writes it back while holding
// the queue mutex, so concurrent status transitions never clobber each other.
package queue

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/logging"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/slot"
)

// DefaultSlotKey is the slot holding the queue.
const DefaultSlotKey = "time_audit_pending_activities"

// corruptSuffix is appended to the slot key when quarantining unreadable data.
const corruptSuffix = ".corrupt"

// LocalQueue persists pending activities and their delivery status.
type LocalQueue struct {
	store slot.Store
	key   string
	clock clock.Clock

	mu      sync.Mutex
	readErr error
}

// Option configures a LocalQueue.
type Option func(*LocalQueue)

// WithClock sets the clock used for CreatedAt defaults and cleanup aging.
func WithClock(c clock.Clock) Option {
	return func(q *LocalQueue) { q.clock = c }
}

// WithSlotKey overrides DefaultSlotKey.
func WithSlotKey(key string) Option {
	return func(q *LocalQueue) {
		if key != "" {
			q.key = key
		}
	}
}

// NewLocalQueue creates a queue persisted in store.
func NewLocalQueue(store slot.Store, opts ...Option) *LocalQueue {
	q := &LocalQueue{
		store: store,
		key:   DefaultSlotKey,
		clock: clock.System{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SlotKey returns the slot the queue is stored in.
func (q *LocalQueue) SlotKey() string {
	return q.key
}

// CleanupReport describes what Cleanup removed.
type CleanupReport struct {
	// Expired is the number of confirmed activities older than the retention window.
	Expired int
	// Abandoned lists failed activities that exhausted their retries.
	Abandoned []models.PendingActivity
	// Remaining is the queue size after cleanup.
	Remaining int
}

// Removed returns the total number of removed activities.
func (r *CleanupReport) Removed() int {
	return r.Expired + len(r.Abandoned)
}

// Stats summarizes queue contents.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Syncable  int `json:"syncable"`
}

// =====================================================
// Mutations
// =====================================================

// Enqueue appends a new pending activity and persists the queue before
// returning. A storage failure is returned as LOCAL_WRITE_FAILED.
func (q *LocalQueue) Enqueue(input models.PendingActivityInput) (*models.PendingActivity, error) {
	if input.CreatedAt.IsZero() {
		input.CreatedAt = q.clock.Now()
	}
	if err := input.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "invalid activity", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.readForWriteLocked()
	if err != nil {
		return nil, err
	}

	for _, r := range records {
		if r.LocalID == input.LocalID {
			return nil, errors.New(errors.ErrDuplicate, fmt.Sprintf("local id %s already queued", input.LocalID))
		}
	}

	record := models.PendingActivity{
		LocalID:    input.LocalID,
		OwnerID:    input.OwnerID,
		Text:       input.Text,
		LoggedAt:   input.LoggedAt,
		CreatedAt:  input.CreatedAt,
		Status:     models.StatusPending,
		RetryCount: 0,
	}
	records = append(records, record)

	if err := q.writeLocked(records); err != nil {
		return nil, err
	}

	logging.Info("Activity queued locally", map[string]interface{}{
		"local_id": record.LocalID,
		"queued":   len(records),
	})

	return &record, nil
}

// MarkConfirmed marks the activity confirmed. Unknown ids and already
// confirmed activities are left untouched. It returns the record after the
// transition, or nil if not found.
func (q *LocalQueue) MarkConfirmed(localID string) (*models.PendingActivity, error) {
	return q.update(localID, func(r *models.PendingActivity) bool {
		if r.Status == models.StatusConfirmed {
			return false
		}
		r.Status = models.StatusConfirmed
		return true
	})
}

// MarkFailed marks the activity failed and increments its retry count.
// Unknown ids are ignored; confirmed is terminal and is never downgraded.
func (q *LocalQueue) MarkFailed(localID string) (*models.PendingActivity, error) {
	return q.update(localID, func(r *models.PendingActivity) bool {
		if r.Status == models.StatusConfirmed {
			return false
		}
		r.Status = models.StatusFailed
		r.RetryCount++
		return true
	})
}

func (q *LocalQueue) update(localID string, apply func(r *models.PendingActivity) bool) (*models.PendingActivity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.readForWriteLocked()
	if err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].LocalID != localID {
			continue
		}
		if !apply(&records[i]) {
			out := records[i]
			return &out, nil
		}
		if err := q.writeLocked(records); err != nil {
			return nil, err
		}
		out := records[i]
		return &out, nil
	}

	return nil, nil
}

// Cleanup removes confirmed activities created more than ConfirmedRetention
// ago and failed activities that exhausted MaxRetries. Pending activities
// are never removed.
func (q *LocalQueue) Cleanup() (*CleanupReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.readForWriteLocked()
	if err != nil {
		return nil, err
	}

	cutoff := q.clock.Now().Add(-models.ConfirmedRetention)
	report := &CleanupReport{}
	kept := make([]models.PendingActivity, 0, len(records))

	for _, r := range records {
		switch {
		case r.Status == models.StatusConfirmed && !r.CreatedAt.After(cutoff):
			report.Expired++
		case r.IsExhausted():
			report.Abandoned = append(report.Abandoned, r)
		default:
			kept = append(kept, r)
		}
	}
	report.Remaining = len(kept)

	if report.Removed() == 0 {
		return report, nil
	}

	if err := q.writeLocked(kept); err != nil {
		return nil, err
	}

	for _, r := range report.Abandoned {
		logging.Warn("Abandoned activity removed after exhausting retries", map[string]interface{}{
			"local_id":    r.LocalID,
			"retry_count": r.RetryCount,
			"logged_at":   r.LoggedAt.Format(time.RFC3339),
		})
	}
	logging.Info("Local queue cleaned up", map[string]interface{}{
		"expired":   report.Expired,
		"abandoned": len(report.Abandoned),
		"remaining": report.Remaining,
	})

	return report, nil
}

// Clear removes the whole queue slot.
func (q *LocalQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(q.key); err != nil {
		return errors.Wrap(errors.ErrLocalWrite, "failed to clear local queue", err)
	}
	q.readErr = nil
	logging.Info("Local queue cleared", nil)
	return nil
}

// =====================================================
// Reads
// =====================================================

// ListSyncable returns pending activities and failed activities still under
// MaxRetries, oldest first.
func (q *LocalQueue) ListSyncable() []models.PendingActivity {
	var out []models.PendingActivity
	for _, r := range q.ListAll() {
		if r.IsSyncable() {
			out = append(out, r)
		}
	}
	return out
}

// ListAll returns every queued activity in insertion order. The slice is a
// copy; mutating it does not affect the queue.
func (q *LocalQueue) ListAll() []models.PendingActivity {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, _ := q.readLocked()
	return records
}

// Get returns the activity with localID.
func (q *LocalQueue) Get(localID string) (*models.PendingActivity, bool) {
	for _, r := range q.ListAll() {
		if r.LocalID == localID {
			out := r
			return &out, true
		}
	}
	return nil, false
}

// Stats returns per-status counts.
func (q *LocalQueue) Stats() Stats {
	var s Stats
	for _, r := range q.ListAll() {
		s.Total++
		switch r.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusConfirmed:
			s.Confirmed++
		case models.StatusFailed:
			s.Failed++
		}
		if r.IsExhausted() {
			s.Exhausted++
		}
		if r.IsSyncable() {
			s.Syncable++
		}
	}
	return s
}

// Health returns nil when the last read of the slot succeeded, or a
// STORE_UNREADABLE error describing why the queue was treated as empty.
func (q *LocalQueue) Health() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readErr
}

// =====================================================
// Slot access
// =====================================================

// readLocked loads the queue. Any failure yields an empty queue and is
// recorded for Health; the returned error says whether the failure was a
// parse problem (data present but unusable) or the store itself failing.
func (q *LocalQueue) readLocked() ([]models.PendingActivity, error) {
	data, err := q.store.Load(q.key)
	if stderrors.Is(err, slot.ErrNotFound) {
		q.readErr = nil
		return []models.PendingActivity{}, nil
	}
	if err != nil {
		q.setReadErr(errors.Wrap(errors.ErrStoreUnreadable, "failed to read local queue", err))
		return []models.PendingActivity{}, &loadError{err: err}
	}

	records, err := decode(data)
	if err != nil {
		q.setReadErr(errors.Wrap(errors.ErrStoreUnreadable, "local queue is corrupt", err))
		return []models.PendingActivity{}, &parseError{err: err, raw: data}
	}

	q.readErr = nil
	return records, nil
}

// readForWriteLocked loads the queue ahead of a mutation. Corrupt data is
// quarantined before it can be overwritten; a store that cannot be read at
// all refuses the mutation rather than clobbering records it cannot see.
func (q *LocalQueue) readForWriteLocked() ([]models.PendingActivity, error) {
	records, err := q.readLocked()
	if err == nil {
		return records, nil
	}

	var pe *parseError
	if stderrors.As(err, &pe) {
		if qErr := q.store.Save(q.key+corruptSuffix, pe.raw); qErr != nil {
			return nil, errors.Wrap(errors.ErrLocalWrite, "failed to quarantine corrupt local queue", qErr)
		}
		logging.Warn("Corrupt local queue quarantined", map[string]interface{}{
			"slot":       q.key + corruptSuffix,
			"size_bytes": len(pe.raw),
		})
		return records, nil
	}

	return nil, errors.Wrap(errors.ErrLocalWrite, "local queue is unreadable", q.readErr)
}

func (q *LocalQueue) setReadErr(err error) {
	if q.readErr == nil || q.readErr.Error() != err.Error() {
		logging.Warn("Local queue unreadable, treating as empty", map[string]interface{}{
			"slot":  q.key,
			"cause": err.Error(),
		})
	}
	q.readErr = err
}

func (q *LocalQueue) writeLocked(records []models.PendingActivity) error {
	data, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(errors.ErrLocalWrite, "failed to encode local queue", err)
	}
	if err := q.store.Save(q.key, data); err != nil {
		logging.ErrorWithCode("Failed to persist local queue", string(errors.ErrLocalWrite), err,
			map[string]interface{}{"slot": q.key, "records": len(records)})
		return errors.Wrap(errors.ErrLocalWrite, "failed to persist local queue", err)
	}
	q.readErr = nil
	return nil
}

func decode(data []byte) ([]models.PendingActivity, error) {
	if err := validateSlot(data); err != nil {
		return nil, err
	}
	var records []models.PendingActivity
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal local queue: %w", err)
	}
	if records == nil {
		records = []models.PendingActivity{}
	}
	return records, nil
}

type loadError struct{ err error }

func (e *loadError) Error() string { return e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

type parseError struct {
	err error
	raw []byte
}

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }
