// Package registry maps rooms to their playback sessions.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
)

var (
	ErrNoSession = errors.New("no session for room")
)

// Factory creates the session for a room bound to channel.
type Factory func(roomID, channel string) *playback.Session

// Rooms manages playback sessions with thread-safe access.
// At most one session exists per room.
type Rooms struct {
	mu       sync.RWMutex
	sessions map[string]*playback.Session
	factory  Factory
}

// NewRooms creates a new room registry.
func NewRooms(factory Factory) *Rooms {
	return &Rooms{
		sessions: make(map[string]*playback.Session),
		factory:  factory,
	}
}

// GetOrCreate returns the session for roomID, creating an idle one bound to channel if none exists.
// channel is ignored for existing sessions. created reports whether a new session was made.
func (r *Rooms) GetOrCreate(roomID, channel string) (s *playback.Session, created bool) {
	r.mu.RLock()
	s, ok := r.sessions[roomID]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again, another caller may have won the race
	if s, ok := r.sessions[roomID]; ok {
		return s, false
	}

	s = r.factory(roomID, channel)
	r.sessions[roomID] = s
	zlog.Info().Msgf("registry: session created: room=%s channel=%s", roomID, channel)
	return s, true
}

// Get retrieves the session for roomID.
func (r *Rooms) Get(roomID string) (*playback.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[roomID]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Close stops the session for roomID and removes it. Unknown rooms are a no-op.
// The session is closed outside the registry lock since closing waits for its event handler.
func (r *Rooms) Close(roomID string) error {
	r.mu.Lock()
	s, ok := r.sessions[roomID]
	delete(r.sessions, roomID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	zlog.Info().Msgf("registry: closing session: room=%s", roomID)
	if err := s.Close(); err != nil {
		return errors.Wrapf(err, "failed to close session for room %s", roomID)
	}
	return nil
}

// CloseAll closes every session. Errors are logged.
func (r *Rooms) CloseAll() {
	for _, id := range r.IDs() {
		if err := r.Close(id); err != nil {
			zlog.Warn().Msgf("registry: %v", err)
		}
	}
}

// IDs returns the IDs of all rooms with a session, sorted.
func (r *Rooms) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Count returns the number of sessions.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
