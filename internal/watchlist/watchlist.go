// Package watchlist persists the set of working-directory roots an
// external watcher should monitor. The store only owns the list and the
// events describing how it changed; it does not itself watch anything.
// Every mutation loads the whole file, changes it in memory, and
// atomically flushes it back with temp-file-then-rename plus a
// round-trip parse check before the rename.
package watchlist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"versionstore/internal/reverr"
)

// EventKind distinguishes why a watch-list change event was produced.
type EventKind int

const (
	// Added means a path was added to the list.
	Added EventKind = iota
	// Removed means a path was removed from the list.
	Removed
)

// Event describes one change to the watch list.
type Event struct {
	Kind EventKind
	Path string
}

// Store is a JSON file holding the list of working-directory roots to
// monitor, plus a fan-out of change events to subscribers.
type Store struct {
	path string

	mu sync.Mutex

	subMu sync.Mutex
	subs  []chan Event
}

// Open returns a Store backed by the JSON file at path. The file need
// not exist yet; it is created on the first Add.
func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, reverr.Wrap(reverr.KindIO, "read watch list", err)
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return nil, reverr.Wrap(reverr.KindInvalidInput, "parse watch list", err)
	}
	return paths, nil
}

// flush atomically rewrites the whole file via temp-file-then-rename,
// with a round-trip parse check before the rename commits.
func (s *Store) flush(paths []string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return reverr.Wrap(reverr.KindIO, "create watch list directory", err)
	}

	if paths == nil {
		paths = []string{}
	}
	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return reverr.Wrap(reverr.KindInternal, "marshal watch list", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return reverr.Wrap(reverr.KindIO, "write watch list temp file", err)
	}

	check, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return reverr.Wrap(reverr.KindIO, "read back watch list temp file", err)
	}
	var verify []string
	if err := json.Unmarshal(check, &verify); err != nil {
		os.Remove(tmpPath)
		return reverr.Wrap(reverr.KindInternal, "round-trip validate watch list", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return reverr.Wrap(reverr.KindIO, "rename watch list into place", err)
	}
	return nil
}

// List returns every path currently on the watch list.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add appends path (resolved to absolute) to the watch list and
// publishes an Added event, unless it is already present.
func (s *Store) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "resolve watch list path", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.load()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if p == abs {
			return nil
		}
	}
	paths = append(paths, abs)
	if err := s.flush(paths); err != nil {
		return err
	}
	s.publish(Event{Kind: Added, Path: abs})
	return nil
}

// Remove deletes path (resolved to absolute) from the watch list and
// publishes a Removed event, if it was present.
func (s *Store) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "resolve watch list path", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.load()
	if err != nil {
		return err
	}
	idx := -1
	for i, p := range paths {
		if p == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	paths = append(paths[:idx], paths[idx+1:]...)
	if err := s.flush(paths); err != nil {
		return err
	}
	s.publish(Event{Kind: Removed, Path: abs})
	return nil
}

// Subscribe registers for change events. The returned channel is
// buffered; a slow or absent reader drops events rather than blocking
// Add/Remove. Call the returned function to unsubscribe.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (s *Store) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
