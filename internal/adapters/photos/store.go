// Package photos stores uploaded profile photos on the local filesystem.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/ports"
)

// DefaultMaxBytes bounds a single upload.
const DefaultMaxBytes = 10 << 20

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store keeps photos in a single directory. References are file names
// relative to that directory.
type Store struct {
	dir      string
	maxBytes int64
	newID    func() string
}

var _ ports.PhotoStore = (*Store)(nil)

// NewStore creates dir if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("photos: upload directory is required: %w", domain.ErrValidation)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("photos: create upload directory: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{dir: dir, maxBytes: maxBytes, newID: uuid.NewString}, nil
}

// Save writes r under a unique name derived from filename and returns the reference.
func (s *Store) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	ref := s.newID() + "_" + sanitize(filename)
	path := filepath.Join(s.dir, ref)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("photos: create %s: %w", ref, err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("photos: upload exceeds %d bytes: %w", s.maxBytes, domain.ErrValidation)
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("photos: empty upload: %w", domain.ErrValidation)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return ref, nil
}

// Open returns the stored photo. Unknown references wrap domain.ErrNotFound.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return nil, fmt.Errorf("photos: invalid reference %q: %w", ref, domain.ErrValidation)
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("photos: %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("photos: open %s: %w", ref, err)
	}
	return f, nil
}

// Delete removes the stored photo. Unknown references are ignored.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return fmt.Errorf("photos: invalid reference %q: %w", ref, domain.ErrValidation)
	}
	if err := os.Remove(filepath.Join(s.dir, ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("photos: delete %s: %w", ref, err)
	}
	return nil
}

// sanitize keeps the base name with a conservative character set.
func sanitize(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "photo"
	}
	return name
}
