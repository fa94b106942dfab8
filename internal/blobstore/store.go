package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrBlobNotFound indicates no blob exists for the requested digest.
var ErrBlobNotFound = errors.New("blobstore: blob not found")

// Store keeps attachment bytes on a filesystem, addressed by their hex digest.
// Writing the same digest twice is a no-op, which gives attachment dedup for free.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore constructs a content-addressed store rooted at the given directory.
func NewStore(fs afero.Fs, root string) (*Store, error) {
	if fs == nil {
		return nil, fmt.Errorf("blobstore: filesystem required")
	}
	if root == "" {
		return nil, fmt.Errorf("blobstore: root directory required")
	}
	if err := fs.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &Store{fs: fs, root: root}, nil
}

// Put stores data under its digest. Existing blobs are left untouched.
func (s *Store) Put(digest string, data []byte) error {
	path := s.path(digest)
	if exists, err := afero.Exists(s.fs, path); err != nil {
		return err
	} else if exists {
		return nil
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, path, data, 0o640)
}

// Get returns the blob bytes for a digest.
func (s *Store) Get(digest string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Has reports whether a blob exists for the digest.
func (s *Store) Has(digest string) (bool, error) {
	return afero.Exists(s.fs, s.path(digest))
}

func (s *Store) path(digest string) string {
	// Two-level fan-out keeps directories small on real filesystems.
	prefix := digest
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, prefix, digest)
}
