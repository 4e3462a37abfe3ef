// Package queue provides unit tests for the durable local queue.
package queue

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/slot"
)

var baseTime = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*LocalQueue, *slot.MemoryStore, *clock.Fake) {
	t.Helper()
	store := slot.NewMemoryStore()
	clk := clock.NewFake(baseTime)
	return NewLocalQueue(store, WithClock(clk)), store, clk
}

func input(id, text string, at time.Time) models.PendingActivityInput {
	return models.PendingActivityInput{
		LocalID:  id,
		OwnerID:  "user-1",
		Text:     text,
		LoggedAt: at,
	}
}

func mustEnqueue(t *testing.T, q *LocalQueue, id string) *models.PendingActivity {
	t.Helper()
	r, err := q.Enqueue(input(id, "Activity "+id, baseTime))
	if err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", id, err)
	}
	return r
}

// =====================================================
// Enqueue Tests
// =====================================================

// TestEnqueue_persistsPendingRecord verifies a new entry is pending with zero retries.
func TestEnqueue_persistsPendingRecord(t *testing.T) {
	q, store, _ := newTestQueue(t)

	r := mustEnqueue(t, q, "local-1")

	if r.Status != models.StatusPending {
		t.Errorf("Status = %s, want pending", r.Status)
	}
	if r.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", r.RetryCount)
	}
	if !r.CreatedAt.Equal(baseTime) {
		t.Errorf("CreatedAt = %v, want clock time %v", r.CreatedAt, baseTime)
	}

	raw, err := store.Load(DefaultSlotKey)
	require.NoError(t, err)

	var persisted []models.PendingActivity
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, "local-1", persisted[0].LocalID)
}

// TestEnqueue_preservesInsertionOrder verifies listAll order.
func TestEnqueue_preservesInsertionOrder(t *testing.T) {
	q, _, _ := newTestQueue(t)
	for i := 1; i <= 5; i++ {
		mustEnqueue(t, q, fmt.Sprintf("local-%d", i))
	}

	all := q.ListAll()
	require.Len(t, all, 5)
	for i, r := range all {
		assert.Equal(t, fmt.Sprintf("local-%d", i+1), r.LocalID)
	}
}

// TestEnqueue_rejectsInvalidInput verifies validation happens before any write.
func TestEnqueue_rejectsInvalidInput(t *testing.T) {
	q, store, _ := newTestQueue(t)

	_, err := q.Enqueue(input("local-1", "   ", baseTime))
	if !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if store.Saves() != 0 {
		t.Errorf("invalid input should not be written, saves = %d", store.Saves())
	}
}

// TestEnqueue_rejectsDuplicateLocalID verifies localId uniqueness.
func TestEnqueue_rejectsDuplicateLocalID(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")

	_, err := q.Enqueue(input("local-1", "again", baseTime))
	if !errors.Is(err, errors.ErrDuplicate) {
		t.Fatalf("expected DUPLICATE, got %v", err)
	}
	assert.Len(t, q.ListAll(), 1)
}

// TestEnqueue_surfacesWriteFailure verifies a full or unavailable store is reported.
func TestEnqueue_surfacesWriteFailure(t *testing.T) {
	q, store, _ := newTestQueue(t)
	store.SetSaveError(stderrors.New("quota exceeded"))

	_, err := q.Enqueue(input("local-1", "Lost?", baseTime))
	if !errors.Is(err, errors.ErrLocalWrite) {
		t.Fatalf("expected LOCAL_WRITE_FAILED, got %v", err)
	}
	assert.Empty(t, q.ListAll())
}

// TestEnqueue_concurrent verifies no entry is lost under concurrent writers.
func TestEnqueue_concurrent(t *testing.T) {
	q, _, _ := newTestQueue(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := q.Enqueue(input(fmt.Sprintf("local-%d", i), "parallel", baseTime)); err != nil {
				t.Errorf("Enqueue failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, q.ListAll(), 50)
}

// =====================================================
// Status Transition Tests
// =====================================================

// TestMarkFailed_incrementsRetryCount verifies retryCount is monotonic.
func TestMarkFailed_incrementsRetryCount(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")

	for want := 1; want <= 4; want++ {
		r, err := q.MarkFailed("local-1")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, models.StatusFailed, r.Status)
		assert.Equal(t, want, r.RetryCount)
	}
}

// TestMarkConfirmed_idempotent verifies a second confirm changes nothing.
func TestMarkConfirmed_idempotent(t *testing.T) {
	q, store, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")

	_, err := q.MarkConfirmed("local-1")
	require.NoError(t, err)
	saves := store.Saves()
	before := q.ListAll()

	r, err := q.MarkConfirmed("local-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, r.Status)
	assert.Equal(t, before, q.ListAll())
	assert.Equal(t, saves, store.Saves(), "second confirm should not rewrite the slot")
}

// TestMarkFailed_neverDowngradesConfirmed verifies confirmed is terminal.
func TestMarkFailed_neverDowngradesConfirmed(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	_, err := q.MarkConfirmed("local-1")
	require.NoError(t, err)

	r, err := q.MarkFailed("local-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, r.Status)
	assert.Equal(t, 0, r.RetryCount)
}

// TestMark_unknownIDIsNoop verifies unknown ids are ignored.
func TestMark_unknownIDIsNoop(t *testing.T) {
	q, store, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	saves := store.Saves()

	r, err := q.MarkConfirmed("local-missing")
	assert.NoError(t, err)
	assert.Nil(t, r)

	r, err = q.MarkFailed("local-missing")
	assert.NoError(t, err)
	assert.Nil(t, r)

	assert.Equal(t, saves, store.Saves())
}

// TestMarkFailed_surfacesWriteFailure verifies transition write errors are returned.
func TestMarkFailed_surfacesWriteFailure(t *testing.T) {
	q, store, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	store.SetSaveError(stderrors.New("disk full"))

	_, err := q.MarkFailed("local-1")
	assert.True(t, errors.Is(err, errors.ErrLocalWrite))

	store.SetSaveError(nil)
	r, _ := q.Get("local-1")
	assert.Equal(t, models.StatusPending, r.Status)
}

// =====================================================
// ListSyncable Tests
// =====================================================

// TestListSyncable_exclusions verifies confirmed and exhausted entries are skipped.
func TestListSyncable_exclusions(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-pending")
	mustEnqueue(t, q, "local-confirmed")
	mustEnqueue(t, q, "local-failed-once")
	mustEnqueue(t, q, "local-exhausted")

	_, _ = q.MarkConfirmed("local-confirmed")
	_, _ = q.MarkFailed("local-failed-once")
	for i := 0; i < models.MaxRetries; i++ {
		_, _ = q.MarkFailed("local-exhausted")
	}

	var ids []string
	for _, r := range q.ListSyncable() {
		ids = append(ids, r.LocalID)
	}
	assert.Equal(t, []string{"local-pending", "local-failed-once"}, ids)
}

// TestListAll_returnsCopy verifies callers cannot mutate queue state.
func TestListAll_returnsCopy(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")

	all := q.ListAll()
	all[0].Status = models.StatusConfirmed

	r, ok := q.Get("local-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, r.Status)
}

// =====================================================
// Cleanup Tests
// =====================================================

// TestCleanup_confirmedRetention verifies the 24h window for confirmed entries.
func TestCleanup_confirmedRetention(t *testing.T) {
	q, _, clk := newTestQueue(t)

	old := mustEnqueue(t, q, "local-old")
	clk.Advance(2 * time.Hour)
	recent := mustEnqueue(t, q, "local-recent")
	_, _ = q.MarkConfirmed(old.LocalID)
	_, _ = q.MarkConfirmed(recent.LocalID)

	// old is 25h old, recent is 23h old.
	clk.Set(baseTime.Add(25 * time.Hour))

	report, err := q.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Empty(t, report.Abandoned)
	assert.Equal(t, 1, report.Remaining)

	_, ok := q.Get("local-old")
	assert.False(t, ok)
	_, ok = q.Get("local-recent")
	assert.True(t, ok)
}

// TestCleanup_neverRemovesPending verifies pending entries survive any age.
func TestCleanup_neverRemovesPending(t *testing.T) {
	q, _, clk := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	clk.Advance(30 * 24 * time.Hour)

	report, err := q.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Removed())
	assert.Len(t, q.ListAll(), 1)
}

// TestCleanup_threeFailures walks an entry through three failed attempts.
func TestCleanup_threeFailures(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")

	for attempt := 1; attempt <= models.MaxRetries; attempt++ {
		syncable := q.ListSyncable()
		require.Len(t, syncable, 1, "attempt %d should still be offered", attempt)
		_, err := q.MarkFailed("local-1")
		require.NoError(t, err)
	}

	assert.Empty(t, q.ListSyncable())

	report, err := q.Cleanup()
	require.NoError(t, err)
	require.Len(t, report.Abandoned, 1)
	assert.Equal(t, "local-1", report.Abandoned[0].LocalID)
	assert.Equal(t, models.MaxRetries, report.Abandoned[0].RetryCount)
	assert.Empty(t, q.ListAll())
}

// TestCleanup_keepsRetryableFailures verifies failures under the limit are kept.
func TestCleanup_keepsRetryableFailures(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	_, _ = q.MarkFailed("local-1")
	_, _ = q.MarkFailed("local-1")

	report, err := q.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Removed())
	assert.Len(t, q.ListSyncable(), 1)
}

// TestCleanup_skipsWriteWhenNothingRemoved verifies no-op cleanups do not touch storage.
func TestCleanup_skipsWriteWhenNothingRemoved(t *testing.T) {
	q, store, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	saves := store.Saves()

	_, err := q.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, saves, store.Saves())
}

// =====================================================
// Unreadable Slot Tests
// =====================================================

// TestRead_corruptSlotTreatedAsEmpty verifies corrupt data reads as an empty queue.
func TestRead_corruptSlotTreatedAsEmpty(t *testing.T) {
	q, store, _ := newTestQueue(t)
	store.Put(DefaultSlotKey, []byte("{not json"))

	assert.Empty(t, q.ListAll())
	assert.Empty(t, q.ListSyncable())

	err := q.Health()
	if !errors.Is(err, errors.ErrStoreUnreadable) {
		t.Fatalf("Health() = %v, want STORE_UNREADABLE", err)
	}
}

// TestRead_schemaMismatchTreatedAsEmpty verifies structurally wrong data is rejected.
func TestRead_schemaMismatchTreatedAsEmpty(t *testing.T) {
	q, store, _ := newTestQueue(t)
	store.Put(DefaultSlotKey, []byte(`[{"localId":"local-1","status":"archived"}]`))

	assert.Empty(t, q.ListAll())
	assert.True(t, errors.Is(q.Health(), errors.ErrStoreUnreadable))
}

// TestEnqueue_quarantinesCorruptSlot verifies corrupt bytes are preserved before overwrite.
func TestEnqueue_quarantinesCorruptSlot(t *testing.T) {
	q, store, _ := newTestQueue(t)
	corrupt := []byte("[{\"localId\": truncated")
	store.Put(DefaultSlotKey, corrupt)

	mustEnqueue(t, q, "local-1")

	quarantined, err := store.Load(DefaultSlotKey + corruptSuffix)
	require.NoError(t, err)
	assert.Equal(t, corrupt, quarantined)

	all := q.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "local-1", all[0].LocalID)
	assert.NoError(t, q.Health())
}

// TestEnqueue_refusesWhenStoreUnreadable verifies existing entries are not clobbered.
func TestEnqueue_refusesWhenStoreUnreadable(t *testing.T) {
	q, store, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	store.SetLoadError(stderrors.New("permission denied"))

	assert.Empty(t, q.ListAll())

	_, err := q.Enqueue(input("local-2", "while unreadable", baseTime))
	assert.True(t, errors.Is(err, errors.ErrLocalWrite))

	store.SetLoadError(nil)
	all := q.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "local-1", all[0].LocalID)
	assert.NoError(t, q.Health())
}

// =====================================================
// Stats and Clear Tests
// =====================================================

// TestStats counts entries by status.
func TestStats(t *testing.T) {
	q, _, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")
	mustEnqueue(t, q, "local-2")
	mustEnqueue(t, q, "local-3")
	mustEnqueue(t, q, "local-4")
	_, _ = q.MarkConfirmed("local-2")
	_, _ = q.MarkFailed("local-3")
	for i := 0; i < models.MaxRetries; i++ {
		_, _ = q.MarkFailed("local-4")
	}

	assert.Equal(t, Stats{
		Total:     4,
		Pending:   1,
		Confirmed: 1,
		Failed:    2,
		Exhausted: 1,
		Syncable:  2,
	}, q.Stats())
}

// TestClear removes the slot.
func TestClear(t *testing.T) {
	q, store, _ := newTestQueue(t)
	mustEnqueue(t, q, "local-1")

	require.NoError(t, q.Clear())
	assert.Empty(t, q.ListAll())

	_, err := store.Load(DefaultSlotKey)
	assert.ErrorIs(t, err, slot.ErrNotFound)
}

// TestWithSlotKey verifies a custom slot key is used.
func TestWithSlotKey(t *testing.T) {
	store := slot.NewMemoryStore()
	q := NewLocalQueue(store, WithSlotKey("custom_slot"), WithClock(clock.NewFake(baseTime)))
	mustEnqueue(t, q, "local-1")

	_, err := store.Load("custom_slot")
	assert.NoError(t, err)
	assert.Equal(t, "custom_slot", q.SlotKey())
}

// TestQueue_survivesRestart verifies a new queue over the same store sees prior entries.
func TestQueue_survivesRestart(t *testing.T) {
	store := slot.NewMemoryStore()
	first := NewLocalQueue(store)
	_, err := first.Enqueue(input("local-1", "Before restart", baseTime))
	require.NoError(t, err)
	_, err = first.MarkFailed("local-1")
	require.NoError(t, err)

	second := NewLocalQueue(store)
	all := second.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusFailed, all[0].Status)
	assert.Equal(t, 1, all[0].RetryCount)
	assert.True(t, all[0].LoggedAt.Equal(baseTime))
}
