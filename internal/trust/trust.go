// Package trust is the embedder-side convenience the core delegates
// pairing-decision persistence to: a JSON file of trusted SKIs, reloaded
// whenever the embedder (or an operator) rewrites it. This is deliberately
// outside the SPINE/SHIP core itself - see SPEC_FULL.md's Non-goals.
package trust

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store holds the set of SKIs the Node is willing to pair with, backed by a
// JSON file on disk and kept current via fsnotify.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	trusted map[string]struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type fileFormat struct {
	TrustedSKIs []string `json:"trusted_skis"`
}

// Open loads path (creating it empty if absent) and starts watching it for
// changes.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{path: path, log: log.With("component", "trust.store"), trusted: make(map[string]struct{}), done: make(chan struct{})}
	if err := s.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	s.watcher = w
	go s.watchLoop()
	return s, nil
}

// Close stops the underlying file watcher.
func (s *Store) Close() error {
	close(s.done)
	return s.watcher.Close()
}

// IsTrusted reports whether ski is currently trusted.
func (s *Store) IsTrusted(ski string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.trusted[ski]
	return ok
}

// Register adds ski to the trusted set and persists it.
func (s *Store) Register(ski string) error {
	s.mu.Lock()
	s.trusted[ski] = struct{}{}
	s.mu.Unlock()
	return s.save()
}

// Unregister removes ski from the trusted set and persists it.
func (s *Store) Unregister(ski string) error {
	s.mu.Lock()
	delete(s.trusted, ski)
	s.mu.Unlock()
	return s.save()
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return err
	}
	trusted := make(map[string]struct{}, len(ff.TrustedSKIs))
	for _, ski := range ff.TrustedSKIs {
		trusted[ski] = struct{}{}
	}
	s.mu.Lock()
	s.trusted = trusted
	s.mu.Unlock()
	return nil
}

func (s *Store) save() error {
	s.mu.RLock()
	ff := fileFormat{TrustedSKIs: make([]string, 0, len(s.trusted))}
	for ski := range s.trusted {
		ff.TrustedSKIs = append(ff.TrustedSKIs, ski)
	}
	s.mu.RUnlock()
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warn("failed to reload trust file", "event", "trust.reload_error", "err", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher error", "event", "trust.watch_error", "err", err)
		}
	}
}
