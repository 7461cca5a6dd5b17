package remote

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IBlobStore is the minimal blob interface the remote state service needs.
// Keys are slash-separated paths relative to the store root.
type IBlobStore interface {
	// Put writes a blob, replacing any existing one under the same key.
	Put(key string, data []byte) error
	// Get reads a blob. The boolean reports whether the key exists.
	Get(key string) (data []byte, found bool, err error)
	// List returns all keys with the given prefix, sorted.
	List(prefix string) (keys []string, err error)
	// Close releases the store.
	Close() error
}

// --------------------------------------------------------------------------
// Filesystem implementation
// --------------------------------------------------------------------------

type fsBlobStore struct {
	root string
}

// NewFSBlobStore creates a blob store rooted at the given directory.
func NewFSBlobStore(root string) (IBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob store root %s: %w", root, err)
	}
	return &fsBlobStore{root: root}, nil
}

func (s *fsBlobStore) Put(key string, data []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write-then-rename so a crashed upload never leaves a torn blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fsBlobStore) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *fsBlobStore) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasSuffix(key, ".tmp") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fsBlobStore) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// In-memory implementation (used by tests)
// --------------------------------------------------------------------------

type memBlobStore struct {
	blobs *xsync.MapOf[string, []byte]
}

// NewMemBlobStore creates an in-memory blob store.
func NewMemBlobStore() IBlobStore {
	return &memBlobStore{blobs: xsync.NewMapOf[string, []byte]()}
}

func (s *memBlobStore) Put(key string, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)
	s.blobs.Store(key, copied)
	return nil
}

func (s *memBlobStore) Get(key string) ([]byte, bool, error) {
	data, found := s.blobs.Load(key)
	return data, found, nil
}

func (s *memBlobStore) List(prefix string) ([]string, error) {
	var keys []string
	s.blobs.Range(func(key string, _ []byte) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

func (s *memBlobStore) Close() error {
	return nil
}
