package fsadapter

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
)

const spoolFilePattern = "emogo-bundle-*.zip"

// SpoolFile is a temporary file that is removed when closed.
type SpoolFile struct {
	afero.File
	fs  afero.Fs
	log *slog.Logger
}

// Rewind flushes pending writes and positions the file at its start. It
// returns the file size.
func (f *SpoolFile) Rewind() (int64, error) {
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("cannot sync spool file: %w", err)
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("cannot get spool file size: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("cannot rewind spool file: %w", err)
	}

	return size, nil
}

func (f *SpoolFile) Close() error {
	name := f.Name()
	cerr := f.File.Close()

	if err := f.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		f.log.Error("Cannot remove spool file", slog.String("path", name), slog.Any("error", err))
		if cerr == nil {
			cerr = err
		}
	}

	return cerr
}

type spoolAdapter struct {
	fs  afero.Fs
	dir string
	log *slog.Logger
}

func NewSpoolAdapter(dir string, log *slog.Logger) (*spoolAdapter, error) {
	return NewSpoolAdapterWithFS(afero.NewOsFs(), dir, log)
}

func NewSpoolAdapterWithFS(fs afero.Fs, dir string, log *slog.Logger) (*spoolAdapter, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cannot create spool dir %s: %w", dir, err)
	}

	return &spoolAdapter{
		fs:  fs,
		dir: dir,
		log: log.With(slog.String("item", "SpoolAdapter")),
	}, nil
}

func (a *spoolAdapter) Create() (*SpoolFile, error) {
	f, err := afero.TempFile(a.fs, a.dir, spoolFilePattern)
	if err != nil {
		return nil, fmt.Errorf("cannot create spool file: %w", err)
	}

	return &SpoolFile{File: f, fs: a.fs, log: a.log}, nil
}
