package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
)

// ErrOffline is the failure MemoryStore reports while SetOffline(true).
var ErrOffline = errors.New(errors.ErrRemoteUnavailable, "remote store offline")

// MemoryStore is an in-process remote store. Failures can be scripted per
// call, and inserts can be held until released to observe in-flight state.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	rows     []models.RemoteActivity
	nextID   int
	offline  bool
	script   []error
	lostAcks int
	queryErr error
	gate     <-chan struct{}
	inserts  int
}

// NewMemoryStore creates an empty, online store.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.System{}
	}
	return &MemoryStore{clock: c}
}

func (s *MemoryStore) Insert(ctx context.Context, activity models.NewActivity) (*models.RemoteActivity, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrRemoteUnavailable, "insert cancelled", ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++

	if s.offline {
		return nil, ErrOffline
	}
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		if err != nil {
			return nil, err
		}
	}

	s.nextID++
	row := models.RemoteActivity{
		ID:        fmt.Sprintf("remote-%d", s.nextID),
		OwnerID:   activity.OwnerID,
		Text:      activity.Text,
		LoggedAt:  activity.LoggedAt,
		CreatedAt: s.clock.Now(),
	}
	s.rows = append(s.rows, row)

	if s.lostAcks > 0 {
		s.lostAcks--
		return nil, errors.New(errors.ErrRemoteUnavailable, "connection reset before acknowledgement")
	}
	return &row, nil
}

func (s *MemoryStore) Query(ctx context.Context, ownerID string, r models.DateRange) ([]models.RemoteActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offline {
		return nil, ErrOffline
	}
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	var out []models.RemoteActivity
	for _, row := range s.rows {
		if row.OwnerID == ownerID && r.Contains(row.LoggedAt) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LoggedAt.After(out[j].LoggedAt)
	})
	return out, nil
}

func (s *MemoryStore) Latest(ctx context.Context, ownerID string) (*models.RemoteActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offline {
		return nil, ErrOffline
	}
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	var latest *models.RemoteActivity
	for i := range s.rows {
		row := s.rows[i]
		if row.OwnerID != ownerID {
			continue
		}
		if latest == nil || row.LoggedAt.After(latest.LoggedAt) {
			latest = &row
		}
	}
	return latest, nil
}

// SetOffline makes every call fail with ErrOffline.
func (s *MemoryStore) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// ScriptInserts queues per-call insert results; a nil entry lets that call succeed.
func (s *MemoryStore) ScriptInserts(errs ...error) {
	s.mu.Lock()
	s.script = append(s.script, errs...)
	s.mu.Unlock()
}

// LoseAcks stores the next n inserts but reports them as failed.
func (s *MemoryStore) LoseAcks(n int) {
	s.mu.Lock()
	s.lostAcks = n
	s.mu.Unlock()
}

// SetQueryError makes Query fail with err until cleared with nil.
func (s *MemoryStore) SetQueryError(err error) {
	s.mu.Lock()
	s.queryErr = err
	s.mu.Unlock()
}

// HoldInserts blocks inserts until gate is closed. Pass nil to stop holding.
func (s *MemoryStore) HoldInserts(gate <-chan struct{}) {
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
}

// Rows returns a copy of the stored rows in insert order.
func (s *MemoryStore) Rows() []models.RemoteActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RemoteActivity(nil), s.rows...)
}

// Seed stores rows as if previously inserted.
func (s *MemoryStore) Seed(rows ...models.RemoteActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row.ID == "" {
			s.nextID++
			row.ID = fmt.Sprintf("remote-%d", s.nextID)
		}
		s.rows = append(s.rows, row)
	}
}

// InsertCalls returns how many inserts were attempted.
func (s *MemoryStore) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}
