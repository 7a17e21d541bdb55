package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ClipRoute is the URL prefix under which stored clips are served.
const ClipRoute = "/clips/"

// ClipStore keeps finished clips on local disk for the lifetime of the
// process so the presentation layer can play them back.
type ClipStore struct {
	dir string

	mu    sync.RWMutex
	paths map[string]string
}

// NewClipStore creates the store directory if needed.
func NewClipStore(dir string) (*ClipStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clips directory: %w", err)
	}
	return &ClipStore{dir: dir, paths: make(map[string]string)}, nil
}

// Save writes the clip and returns its local reference, e.g.
// "/clips/<id>.webm".
func (s *ClipStore) Save(c *Clip) (string, error) {
	name := c.ID + c.Extension()
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, c.data, 0644); err != nil {
		return "", fmt.Errorf("failed to write clip %s: %w", c.ID, err)
	}

	s.mu.Lock()
	s.paths[c.ID] = path
	s.mu.Unlock()

	slog.Debug("Clip stored", "clip", c.ID, "path", path, "size", c.Size())
	return ClipRoute + name, nil
}

// Path resolves a reference or bare clip name to the file on disk.
func (s *ClipStore) Path(ref string) (string, bool) {
	name := strings.TrimPrefix(ref, ClipRoute)
	id := strings.TrimSuffix(name, filepath.Ext(name))

	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.paths[id]
	return path, ok
}

// Purge removes every stored clip.
func (s *ClipStore) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, path := range s.paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		delete(s.paths, id)
	}
	return firstErr
}
