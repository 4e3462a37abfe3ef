// Package export tests for the activity archive exporter.
package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/remote"
	"github.com/kimhsiao/timeaudit/internal/view"
)

// =====================================================
// Test Helpers
// =====================================================

var exportTime = time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)

type staticLister []models.PendingActivity

func (s staticLister) ListAll() []models.PendingActivity { return s }

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
}

func newTestService(t *testing.T, remoteOffline bool) *ExportService {
	t.Helper()
	store := remote.NewMemoryStore(nil)
	store.Seed(
		models.RemoteActivity{ID: "r-1", OwnerID: "user-1", Text: "Standup", LoggedAt: at(19, 9, 0)},
		models.RemoteActivity{ID: "r-2", OwnerID: "user-1", Text: "Lunch, with team", LoggedAt: at(19, 12, 30)},
	)
	store.SetOffline(remoteOffline)

	local := staticLister{
		{LocalID: "local-1", OwnerID: "user-1", Text: "Wrote tests", LoggedAt: at(19, 14, 15), CreatedAt: at(19, 14, 15), Status: models.StatusPending},
		{LocalID: "local-2", OwnerID: "user-1", Text: "Planning", LoggedAt: at(18, 16, 45), CreatedAt: at(18, 16, 45), Status: models.StatusFailed, RetryCount: 1},
	}

	return NewExportService(view.NewBuilder(local, store), clock.NewFake(exportTime), time.UTC)
}

type archiveEntry struct {
	name string
	data []byte
}

func readArchive(t *testing.T, r io.Reader) []archiveEntry {
	t.Helper()
	gzr, err := gzip.NewReader(r)
	require.NoError(t, err)
	defer gzr.Close()

	var entries []archiveEntry
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries = append(entries, archiveEntry{name: header.Name, data: data})
	}
	return entries
}

func twoDays() models.DateRange {
	return models.DateRange{Start: at(18, 0, 0), End: at(20, 0, 0)}
}

// =====================================================
// Export Tests
// =====================================================

func TestExport_sheetPerDay(t *testing.T) {
	svc := newTestService(t, false)

	var buf bytes.Buffer
	result, err := svc.Export(context.Background(), "user-1", twoDays(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Days)
	assert.Equal(t, 4, result.EntryCount)
	assert.False(t, result.LocalOnly)

	entries := readArchive(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "manifest.json", entries[0].name)
	assert.Equal(t, "2026-10-19.csv", entries[1].name)
	assert.Equal(t, "2026-10-18.csv", entries[2].name)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "export_2026-10-19.csv", entries[1].data)
	g.Assert(t, "export_2026-10-18.csv", entries[2].data)
}

func TestExport_manifest(t *testing.T) {
	svc := newTestService(t, false)

	var buf bytes.Buffer
	result, err := svc.Export(context.Background(), "user-1", twoDays(), &buf)
	require.NoError(t, err)

	entries := readArchive(t, &buf)
	var manifest ExportManifest
	require.NoError(t, json.Unmarshal(entries[0].data, &manifest))

	assert.Equal(t, "1.0", manifest.Version)
	assert.Equal(t, "user-1", manifest.OwnerID)
	assert.True(t, manifest.ExportedAt.Equal(exportTime))
	assert.Equal(t, []string{"2026-10-19", "2026-10-18"}, manifest.Days)
	assert.Equal(t, 4, manifest.EntryCount)

	h := sha256.New()
	h.Write(entries[1].data)
	h.Write(entries[2].data)
	assert.Equal(t, fmt.Sprintf("%x", h.Sum(nil)), manifest.Checksum)
	assert.Equal(t, manifest.Checksum, result.Checksum)
}

func TestExport_remoteOfflineIsLocalOnly(t *testing.T) {
	svc := newTestService(t, true)

	var buf bytes.Buffer
	result, err := svc.Export(context.Background(), "user-1", twoDays(), &buf)
	require.NoError(t, err)
	assert.True(t, result.LocalOnly)
	assert.Equal(t, 2, result.EntryCount)
}

func TestExport_emptyRange(t *testing.T) {
	svc := newTestService(t, false)

	var buf bytes.Buffer
	result, err := svc.Export(context.Background(), "user-1", models.DayRange(at(1, 0, 0), time.UTC), &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Days)

	entries := readArchive(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "manifest.json", entries[0].name)
}

func TestExport_invalidOwner(t *testing.T) {
	svc := newTestService(t, false)

	_, err := svc.Export(context.Background(), "", twoDays(), io.Discard)
	assert.True(t, errors.Is(err, errors.ErrInvalid))
}

// =====================================================
// ExportToFile Tests
// =====================================================

func TestExportToFile(t *testing.T) {
	svc := newTestService(t, false)
	path := filepath.Join(t.TempDir(), "exports", "audit.tar.gz")

	result, err := svc.ExportToFile(context.Background(), "user-1", twoDays(), path)
	require.NoError(t, err)
	assert.Equal(t, path, result.FilePath)
	assert.Greater(t, result.SizeBytes, int64(0))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be gone")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, readArchive(t, f), 3)
}

func TestExportToFile_defaultName(t *testing.T) {
	svc := newTestService(t, false)
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	result, err := svc.ExportToFile(context.Background(), "user-1", twoDays(), "")
	require.NoError(t, err)
	assert.Equal(t, "time-audit-2026-10-19.tar.gz", result.FilePath)
}
