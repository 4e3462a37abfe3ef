// Package export writes merged activity views to a portable archive: a
// gzip-compressed tar holding a manifest and one CSV sheet per day.
package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/logging"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/view"
)

const manifestVersion = "1.0"

// ViewBuilder builds the merged view to export.
type ViewBuilder interface {
	Build(ctx context.Context, ownerID string, r models.DateRange) (*view.View, error)
}

// ExportService exports merged views.
type ExportService struct {
	views ViewBuilder
	clock clock.Clock
	loc   *time.Location
}

// NewExportService creates an ExportService. Times are rendered in loc;
// nil means time.Local.
func NewExportService(views ViewBuilder, c clock.Clock, loc *time.Location) *ExportService {
	if c == nil {
		c = clock.System{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &ExportService{views: views, clock: c, loc: loc}
}

// ExportManifest represents the export manifest metadata.
type ExportManifest struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	OwnerID    string    `json:"owner_id"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	Days       []string  `json:"days"`
	EntryCount int       `json:"entry_count"`
	Checksum   string    `json:"checksum"`
	LocalOnly  bool      `json:"local_only"`
}

// ExportResult represents the result of an export operation.
type ExportResult struct {
	FilePath   string        `json:"file_path,omitempty"`
	SizeBytes  int64         `json:"size_bytes"`
	Days       int           `json:"days"`
	EntryCount int           `json:"entry_count"`
	Checksum   string        `json:"checksum"`
	LocalOnly  bool          `json:"local_only"`
	Duration   time.Duration `json:"duration"`
}

// Export writes the archive for ownerID and r to w.
func (s *ExportService) Export(ctx context.Context, ownerID string, r models.DateRange, w io.Writer) (*ExportResult, error) {
	startTime := s.clock.Now()

	v, err := s.views.Build(ctx, ownerID, r)
	if err != nil {
		return nil, err
	}

	groups := view.GroupByDay(v.Entries, s.loc)
	manifest := ExportManifest{
		Version:    manifestVersion,
		ExportedAt: startTime,
		OwnerID:    ownerID,
		RangeStart: r.Start,
		RangeEnd:   r.End,
		Days:       make([]string, 0, len(groups)),
		EntryCount: len(v.Entries),
		LocalOnly:  v.LocalOnly(),
	}

	sheets := make([][]byte, 0, len(groups))
	hash := sha256.New()
	for _, g := range groups {
		sheet, err := s.renderSheet(g)
		if err != nil {
			return nil, errors.Wrap(errors.ErrExportFailed, "failed to render day sheet", err)
		}
		manifest.Days = append(manifest.Days, sheetName(g.Day))
		sheets = append(sheets, sheet)
		hash.Write(sheet)
	}
	manifest.Checksum = fmt.Sprintf("%x", hash.Sum(nil))

	if err := s.writeArchive(w, &manifest, sheets); err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "failed to write archive", err)
	}

	return &ExportResult{
		Days:       len(groups),
		EntryCount: manifest.EntryCount,
		Checksum:   manifest.Checksum,
		LocalOnly:  manifest.LocalOnly,
		Duration:   s.clock.Now().Sub(startTime),
	}, nil
}

// ExportToFile writes the archive to path, replacing it atomically.
func (s *ExportService) ExportToFile(ctx context.Context, ownerID string, r models.DateRange, path string) (*ExportResult, error) {
	if path == "" {
		path = fmt.Sprintf("time-audit-%s.tar.gz", s.clock.Now().In(s.loc).Format("2006-01-02"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "failed to create export directory", err)
	}

	tempPath := path + ".tmp"
	outFile, err := os.Create(tempPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "failed to create export file", err)
	}
	defer os.Remove(tempPath)

	result, err := s.Export(ctx, ownerID, r, outFile)
	if err != nil {
		outFile.Close()
		return nil, err
	}
	if err := outFile.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "failed to close export file", err)
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "failed to stat export file", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "failed to move export file", err)
	}

	result.FilePath = path
	result.SizeBytes = info.Size()

	logging.Info("Activities exported", map[string]interface{}{
		"path":       path,
		"days":       result.Days,
		"entries":    result.EntryCount,
		"local_only": result.LocalOnly,
	})
	return result, nil
}

// renderSheet writes one day as CSV: Time, Activity, Status.
func (s *ExportService) renderSheet(g view.DayGroup) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"Time", "Activity", "Status"}); err != nil {
		return nil, err
	}
	for _, e := range g.Entries {
		row := []string{e.LoggedAt.In(s.loc).Format("15:04"), e.Text, string(e.Status)}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ExportService) writeArchive(w io.Writer, manifest *ExportManifest, sheets [][]byte) error {
	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(tw, "manifest.json", manifestData, manifest.ExportedAt); err != nil {
		return err
	}
	for i, sheet := range sheets {
		if err := writeEntry(tw, manifest.Days[i]+".csv", sheet, manifest.ExportedAt); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func sheetName(day time.Time) string {
	return day.Format("2006-01-02")
}
