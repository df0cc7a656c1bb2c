package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// SignatureMode selects what the signature is derived from.
type SignatureMode string

const (
	// SignatureStat uses the file's path, mtime (whole seconds) and size.
	// Two different files written in the same second with the same size
	// compare equal.
	SignatureStat SignatureMode = "stat"

	// SignatureDigest replaces mtime with an xxhash64 of the file contents.
	// Every freshness check reads the whole file.
	SignatureDigest SignatureMode = "digest"
)

// SignatureComputer derives change-detection tokens for source files.
type SignatureComputer struct {
	Mode SignatureMode
}

// Compute returns the signature of the file at path for sheet. A missing
// file yields the zero Signature and a nil error.
func (c SignatureComputer) Compute(path, sheet string) (Signature, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", nil
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return "", err
	}

	if c.Mode == SignatureDigest {
		sum, err := digestFile(path)
		if err != nil {
			return "", err
		}
		return Signature(fmt.Sprintf("%s|xxh64:%016x|%d|%s", resolved, sum, info.Size(), sheet)), nil
	}

	return Signature(fmt.Sprintf("%s|%d|%d|%s", resolved, info.ModTime().Unix(), info.Size(), sheet)), nil
}

// resolvePath returns the absolute, symlink-free form of path.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func digestFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("digest source: %w", err)
	}
	return h.Sum64(), nil
}
