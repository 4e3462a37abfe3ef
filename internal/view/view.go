// Package view merges remotely confirmed activities with the local queue into
// one deduplicated, newest-first list for display.
package view

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/logging"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/remote"
)

// DisplayStatus is the delivery status shown next to an entry.
type DisplayStatus string

const (
	DisplayConfirmed DisplayStatus = "confirmed"
	DisplayPending   DisplayStatus = "pending"
	DisplayFailed    DisplayStatus = "failed"
	// DisplayAbandoned marks a local entry that exhausted its retries and
	// will be removed by the next cleanup.
	DisplayAbandoned DisplayStatus = "abandoned"
)

// Source says where an entry came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Entry is one displayed activity.
type Entry struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"owner_id"`
	Text       string        `json:"text"`
	LoggedAt   time.Time     `json:"logged_at"`
	Status     DisplayStatus `json:"status"`
	Source     Source        `json:"source"`
	RetryCount int           `json:"retry_count,omitempty"`
}

// View is the merged result for one owner and date range.
type View struct {
	OwnerID string           `json:"owner_id"`
	Range   models.DateRange `json:"-"`
	Entries []Entry          `json:"entries"`
	// RemoteErr is set when the remote query failed and Entries holds local
	// entries only.
	RemoteErr error `json:"-"`
}

// LocalOnly reports whether the remote query failed.
func (v *View) LocalOnly() bool {
	return v.RemoteErr != nil
}

// Counts returns the number of entries per display status.
func (v *View) Counts() map[DisplayStatus]int {
	counts := make(map[DisplayStatus]int)
	for _, e := range v.Entries {
		counts[e.Status]++
	}
	return counts
}

// LocalLister supplies the local queue contents.
type LocalLister interface {
	ListAll() []models.PendingActivity
}

// Builder builds merged views.
type Builder struct {
	local  LocalLister
	remote remote.Querier
}

// NewBuilder creates a Builder. A nil querier builds local-only views.
func NewBuilder(local LocalLister, querier remote.Querier) *Builder {
	return &Builder{local: local, remote: querier}
}

// Build merges the owner's remote activities in r with the local queue.
// A failed remote query degrades to a local-only view rather than an error;
// only invalid arguments are returned as errors.
func (b *Builder) Build(ctx context.Context, ownerID string, r models.DateRange) (*View, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New(errors.ErrInvalid, "owner id is required")
	}
	if !r.Valid() {
		return nil, errors.New(errors.ErrInvalid, "date range is empty")
	}

	v := &View{OwnerID: ownerID, Range: r}

	var rows []models.RemoteActivity
	if b.remote != nil {
		var err error
		rows, err = b.remote.Query(ctx, ownerID, r)
		if err != nil {
			v.RemoteErr = err
			rows = nil
			logging.Warn("Remote query failed, showing local activities only", map[string]interface{}{
				"owner_id": ownerID,
				"cause":    err.Error(),
			})
		}
	}

	remoteIDs := make(map[string]struct{}, len(rows))
	unclaimed := make(map[contentKey]int, len(rows))
	for _, row := range rows {
		remoteIDs[row.ID] = struct{}{}
		unclaimed[keyOf(row.OwnerID, row.Text, row.LoggedAt)]++
		v.Entries = append(v.Entries, Entry{
			ID:       row.ID,
			OwnerID:  row.OwnerID,
			Text:     row.Text,
			LoggedAt: row.LoggedAt,
			Status:   DisplayConfirmed,
			Source:   SourceRemote,
		})
	}

	for _, rec := range b.local.ListAll() {
		if rec.OwnerID != ownerID || !r.Contains(rec.LoggedAt) {
			continue
		}
		if _, dup := remoteIDs[rec.LocalID]; dup {
			continue
		}
		// A confirmed record whose remote row is already in the result is the
		// same logical entry; each remote row absorbs at most one record.
		// Pending and failed records never reached the remote store and are
		// always shown, even when a remote row has the same content.
		if rec.Status == models.StatusConfirmed {
			k := keyOf(rec.OwnerID, rec.Text, rec.LoggedAt)
			if unclaimed[k] > 0 {
				unclaimed[k]--
				continue
			}
		}
		v.Entries = append(v.Entries, Entry{
			ID:         rec.LocalID,
			OwnerID:    rec.OwnerID,
			Text:       rec.Text,
			LoggedAt:   rec.LoggedAt,
			Status:     localStatus(rec),
			Source:     SourceLocal,
			RetryCount: rec.RetryCount,
		})
	}

	sortNewestFirst(v.Entries)
	return v, nil
}

// Latest returns the owner's most recently logged entry on any day, from the
// remote store or the local queue. A failed remote lookup falls back to the
// local queue. ok is false when the owner has no entries at all.
func (b *Builder) Latest(ctx context.Context, ownerID string) (Entry, bool, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Entry{}, false, errors.New(errors.ErrInvalid, "owner id is required")
	}

	var candidates []Entry
	if b.remote != nil {
		row, err := b.latestRemote(ctx, ownerID)
		if err != nil {
			logging.Warn("Remote lookup of latest activity failed, using local queue", map[string]interface{}{
				"owner_id": ownerID,
				"cause":    err.Error(),
			})
		} else if row != nil {
			candidates = append(candidates, Entry{
				ID:       row.ID,
				OwnerID:  row.OwnerID,
				Text:     row.Text,
				LoggedAt: row.LoggedAt,
				Status:   DisplayConfirmed,
				Source:   SourceRemote,
			})
		}
	}

	for _, rec := range b.local.ListAll() {
		if rec.OwnerID != ownerID {
			continue
		}
		candidates = append(candidates, Entry{
			ID:         rec.LocalID,
			OwnerID:    rec.OwnerID,
			Text:       rec.Text,
			LoggedAt:   rec.LoggedAt,
			Status:     localStatus(rec),
			Source:     SourceLocal,
			RetryCount: rec.RetryCount,
		})
	}

	latest, ok := Latest(candidates)
	return latest, ok, nil
}

// allTime spans every timestamp the remote store can hold.
var allTime = models.DateRange{
	Start: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
}

func (b *Builder) latestRemote(ctx context.Context, ownerID string) (*models.RemoteActivity, error) {
	if lq, ok := b.remote.(remote.LatestQuerier); ok {
		return lq.Latest(ctx, ownerID)
	}
	rows, err := b.remote.Query(ctx, ownerID, allTime)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	latest := rows[0]
	for _, row := range rows[1:] {
		if row.LoggedAt.After(latest.LoggedAt) {
			latest = row
		}
	}
	return &latest, nil
}

type contentKey struct {
	ownerID  string
	text     string
	loggedAt int64
}

// keyOf compares timestamps at microsecond precision, the resolution the
// remote store keeps.
func keyOf(ownerID, text string, loggedAt time.Time) contentKey {
	return contentKey{ownerID: ownerID, text: text, loggedAt: loggedAt.UnixMicro()}
}

func localStatus(rec models.PendingActivity) DisplayStatus {
	switch {
	case rec.IsExhausted():
		return DisplayAbandoned
	case rec.Status == models.StatusConfirmed:
		return DisplayConfirmed
	case rec.Status == models.StatusFailed:
		return DisplayFailed
	}
	return DisplayPending
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LoggedAt.After(entries[j].LoggedAt)
	})
}

// DayGroup holds the entries of one calendar day.
type DayGroup struct {
	Day     time.Time `json:"day"`
	Entries []Entry   `json:"entries"`
}

// GroupByDay groups entries by calendar day in loc, newest day first and
// newest entry first within a day.
func GroupByDay(entries []Entry, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	byDay := make(map[time.Time][]Entry)
	for _, e := range entries {
		day := models.DayRange(e.LoggedAt, loc).Start
		byDay[day] = append(byDay[day], e)
	}

	groups := make([]DayGroup, 0, len(byDay))
	for day, es := range byDay {
		sortNewestFirst(es)
		groups = append(groups, DayGroup{Day: day, Entries: es})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Day.After(groups[j].Day)
	})
	return groups
}

// Latest returns the most recently logged entry. On a tie the earlier
// entry wins.
func Latest(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.LoggedAt.After(latest.LoggedAt) {
			latest = e
		}
	}
	return latest, true
}
