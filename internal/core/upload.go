package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultMaxUploadSize bounds an installed spreadsheet when no limit is configured (50MB).
const DefaultMaxUploadSize int64 = 50 * 1024 * 1024

var (
	// ErrFileTooLarge is returned when an upload exceeds MaxUploadSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyFile is returned for a zero-byte upload.
	ErrEmptyFile = errors.New("empty file")
)

// stageUpload copies r into a temporary file next to the source path and
// checks that it opens as a workbook. It returns the temporary path.
func (s *Service) stageUpload(r io.Reader) (string, error) {
	limit := s.opts.MaxUploadSize
	if limit <= 0 {
		limit = DefaultMaxUploadSize
	}

	dir := filepath.Dir(s.opts.SourcePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	tmp := filepath.Join(dir, ".upload-"+uuid.NewString()+".xlsx")
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		err = fmt.Errorf("write upload file: %w", err)
	case n > limit:
		err = fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, limit)
	case n == 0:
		err = ErrEmptyFile
	}
	if err != nil {
		removeIfExists(tmp)
		return "", err
	}

	wb, err := s.opener.Open(tmp)
	if err != nil {
		removeIfExists(tmp)
		if !errors.Is(err, ErrInvalidFormat) {
			err = fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
		return "", err
	}
	_ = wb.Close()

	return tmp, nil
}

// replaceFile moves src over dst. Both live in the same directory, so the
// rename is atomic and a reader opening dst sees the old or the new file.
func replaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("install source: %w", err)
	}
	return nil
}

// removeIfExists deletes a leftover temporary upload. After a successful
// install the file has already been renamed away.
func removeIfExists(path string) {
	_ = os.Remove(path)
}
