// Package media stores answer recordings on disk.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrTooLarge is returned by Save when the upload exceeds its limit.
	ErrTooLarge = errors.New("recording exceeds size limit")
	// ErrInvalidRef is returned for references that are not a plain file name.
	ErrInvalidRef = errors.New("invalid recording reference")
)

// Library is a flat directory of recordings addressed by file name.
type Library struct {
	dir string
}

// Open returns a Library rooted at dir, creating it if needed.
func Open(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating recordings dir: %w", err)
	}
	return &Library{dir: dir}, nil
}

// Dir returns the directory backing the library.
func (l *Library) Dir() string { return l.dir }

// Save streams r into a new "<questionID>_<8 hex>.webm" file and returns its
// name. If more than limit bytes arrive the partial file is removed and
// ErrTooLarge is returned. A limit <= 0 disables the check.
func (l *Library) Save(questionID int64, r io.Reader, limit int64) (string, error) {
	name := fmt.Sprintf("%d_%s.webm", questionID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	path := filepath.Join(l.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating recording: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("writing recording: %w", err)
	}
	return name, nil
}

// Path resolves a stored reference to a file path inside the library. It
// implements pipeline.MediaResolver.
func (l *Library) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(l.dir, ref), nil
}

// Remove deletes a stored recording. A missing file is not an error.
func (l *Library) Remove(ref string) error {
	path, err := l.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing recording: %w", err)
	}
	return nil
}
