package index

import (
	"sort"
	"sync"
)

// FileTracker is the set of files a client registered for one project.
// Paths are project-relative.
type FileTracker struct {
	mu    sync.RWMutex
	files map[string]struct{}
}

func NewFileTracker() *FileTracker {
	return &FileTracker{files: make(map[string]struct{})}
}

// Add reports whether rel was newly added.
func (t *FileTracker) Add(rel string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.files[rel]; ok {
		return false
	}
	t.files[rel] = struct{}{}
	return true
}

// Remove reports whether rel was tracked.
func (t *FileTracker) Remove(rel string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.files[rel]; !ok {
		return false
	}
	delete(t.files, rel)
	return true
}

func (t *FileTracker) Has(rel string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.files[rel]
	return ok
}

func (t *FileTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}

func (t *FileTracker) Snapshot() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.files))
	for f := range t.files {
		out = append(out, f)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}
