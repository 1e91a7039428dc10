// Package imagestore writes per-entity image files to a local directory.
package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/digidex/digidex-crawler/internal/crawl"
)

// imageExt is the fixed extension for stored images.
const imageExt = ".png"

// Store saves entity images under a single directory. File names derive
// deterministically from the entity name; a second save for the same name
// overwrites the prior file.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create image dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the image bytes for the named entity. Absent image data is a
// silent no-op; image absence is never an error for the overall entity.
func (s *Store) Save(name string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	target := s.Path(name)
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return &crawl.StorageError{Op: fmt.Sprintf("write image %s", target), Err: err}
	}
	return nil
}

// Path returns the file location used for the named entity.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, sanitizeName(name)+imageExt)
}

// sanitizeName keeps entity names safe as file names. Separators and other
// non-portable characters collapse to underscores.
func sanitizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '(' || r == ')':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	if mapped == "" {
		return "_"
	}
	return mapped
}
