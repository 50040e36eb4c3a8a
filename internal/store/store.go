package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/pattonfu/central-production-meeting/internal/report"
	"github.com/pattonfu/central-production-meeting/internal/runctx"
	"github.com/pattonfu/central-production-meeting/internal/window"
)

// ErrNotFound indicates the requested blob has not been persisted.
var ErrNotFound = errors.New("record blob not found")

// daysDir holds date-keyed day blobs, shared by every window that needs
// the date.
const daysDir = "days"

// windowBasename is the merged window blob name under an anchor directory.
const windowBasename = "window"

// Store is an afero-backed record store. Day blobs are keyed by calendar
// date; merged window blobs are keyed by their window's anchor date.
type Store struct {
	fs       afero.Fs
	baseDir  string
	codec    Codec
	baseline window.Window
}

// New creates a store rooted at baseDir. The baseline window locates the
// persisted baseline blobs for the differ.
func New(fs afero.Fs, baseDir string, codec Codec, baseline window.Window) *Store {
	return &Store{fs: fs, baseDir: baseDir, codec: codec, baseline: baseline}
}

// WriteDay persists one date's raw record batch.
func (s *Store) WriteDay(date time.Time, records []report.RawRecord) error {
	return s.write(s.dayPath(date), records)
}

// ReadDay loads one date's raw record batch. Returns ErrNotFound when the
// date has never been persisted.
func (s *Store) ReadDay(date time.Time) ([]report.RawRecord, error) {
	return s.read(s.dayPath(date))
}

// WriteWindow persists a merged window record batch under its anchor.
func (s *Store) WriteWindow(anchor time.Time, records []report.RawRecord) error {
	return s.write(s.windowPath(anchor), records)
}

// ReadWindow loads the merged window batch persisted under an anchor.
func (s *Store) ReadWindow(anchor time.Time) ([]report.RawRecord, error) {
	return s.read(s.windowPath(anchor))
}

// ReadBaselineWindow loads the persisted baseline window snapshot.
func (s *Store) ReadBaselineWindow() ([]report.RawRecord, error) {
	return s.ReadWindow(s.baseline.Anchor)
}

// WriteBaselineWindow persists the baseline window snapshot.
func (s *Store) WriteBaselineWindow(records []report.RawRecord) error {
	return s.WriteWindow(s.baseline.Anchor, records)
}

// ReadBaselineLatestDay loads the record batch of the baseline window's
// most recent date.
func (s *Store) ReadBaselineLatestDay() ([]report.RawRecord, error) {
	return s.ReadDay(s.baseline.LatestDay())
}

func (s *Store) dayPath(date time.Time) string {
	return filepath.Join(s.baseDir, daysDir, date.Format(window.DateFormat)+s.codec.Extension())
}

func (s *Store) windowPath(anchor time.Time) string {
	return filepath.Join(s.baseDir, anchor.Format(runctx.DirFormat), windowBasename+s.codec.Extension())
}

// write encodes to a temp file in the target directory, then renames it
// into place so readers never observe a partial blob.
func (s *Store) write(path string, records []report.RawRecord) error {
	dir := filepath.Dir(path)

	err := s.fs.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("create blob dir %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}

	encodeErr := s.codec.Encode(tmp, records)
	closeErr := tmp.Close()

	if encodeErr != nil {
		_ = s.fs.Remove(tmp.Name())

		return fmt.Errorf("encode blob %s: %w", path, encodeErr)
	}

	if closeErr != nil {
		_ = s.fs.Remove(tmp.Name())

		return fmt.Errorf("close temp blob: %w", closeErr)
	}

	err = s.fs.Rename(tmp.Name(), path)
	if err != nil {
		_ = s.fs.Remove(tmp.Name())

		return fmt.Errorf("publish blob %s: %w", path, err)
	}

	return nil
}

func (s *Store) read(path string) ([]report.RawRecord, error) {
	file, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}

		return nil, fmt.Errorf("open blob %s: %w", path, err)
	}
	defer file.Close()

	var records []report.RawRecord

	err = s.codec.Decode(file, &records)
	if err != nil {
		return nil, fmt.Errorf("decode blob %s: %w", path, err)
	}

	return records, nil
}
