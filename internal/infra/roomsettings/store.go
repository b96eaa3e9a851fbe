// Package roomsettings provides per-room auto-disconnect settings loaded from a YAML file
// and reloaded when the file changes.
package roomsettings

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Policy is the effective auto-disconnect policy of a room.
type Policy struct {
	AutoDisconnect bool
	GracePeriod    time.Duration
}

// roomEntry is one room in the settings file. Unset fields fall back to the defaults.
type roomEntry struct {
	AutoDisconnect *bool `yaml:"auto_disconnect"`
	GracePeriodSec *int  `yaml:"grace_period_sec"`
}

type settingsFile struct {
	Rooms map[string]roomEntry `yaml:"rooms"`
}

// Store holds per-room settings.
// Runtime overrides set through SetAutoDisconnect win over the file.
type Store struct {
	mu        sync.RWMutex
	path      string
	defaults  Policy
	rooms     map[string]roomEntry
	overrides map[string]bool

	watcher *fsnotify.Watcher
	closed  chan struct{}
	wg      sync.WaitGroup
}

// New creates a store. When path is empty only defaults and overrides apply.
// A missing file is treated as empty and picked up once it is created.
func New(path string, defaults Policy) (*Store, error) {
	s := &Store{
		defaults:  defaults,
		rooms:     make(map[string]roomEntry),
		overrides: make(map[string]bool),
		closed:    make(chan struct{}),
	}
	if path == "" {
		return s, nil
	}

	s.path = filepath.Clean(path)
	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}
	// Watch the directory so that editors replacing the file are seen
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(s.path))
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watchLoop()

	zlog.Info().Msgf("room settings loaded: path=%s rooms=%d", s.path, len(s.rooms))
	return s, nil
}

// Reload re-reads the settings file.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.setRooms(nil)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read room settings")
	}

	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return errors.Wrap(err, "failed to parse room settings")
	}
	for roomID, entry := range f.Rooms {
		if entry.GracePeriodSec != nil && *entry.GracePeriodSec < 0 {
			return errors.Newf("room %s: grace_period_sec must not be negative", roomID)
		}
	}

	s.setRooms(f.Rooms)
	return nil
}

func (s *Store) setRooms(rooms map[string]roomEntry) {
	if rooms == nil {
		rooms = make(map[string]roomEntry)
	}
	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()
}

// Policy returns the effective policy for a room.
func (s *Store) Policy(roomID string) Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.defaults
	if entry, ok := s.rooms[roomID]; ok {
		if entry.AutoDisconnect != nil {
			p.AutoDisconnect = *entry.AutoDisconnect
		}
		if entry.GracePeriodSec != nil {
			p.GracePeriod = time.Duration(*entry.GracePeriodSec) * time.Second
		}
	}
	if enabled, ok := s.overrides[roomID]; ok {
		p.AutoDisconnect = enabled
	}
	return p
}

// SetAutoDisconnect overrides the auto-disconnect switch of a room until the process exits.
func (s *Store) SetAutoDisconnect(roomID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[roomID] = enabled
}

// Close stops watching the file.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *Store) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closed:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				// Keep the previous settings
				zlog.Warn().Err(err).Msgf("room settings reload failed: path=%s", s.path)
				continue
			}
			zlog.Info().Msgf("room settings reloaded: path=%s", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error().Err(err).Msg("room settings watcher error")
		}
	}
}
