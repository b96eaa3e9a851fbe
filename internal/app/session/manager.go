// Package session provides the session manager: the per-room command surface.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/filter"
	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/presence"
	"github.com/osa030/voicebox/internal/app/session/registry"
	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/favorites"
	"github.com/osa030/voicebox/internal/infra/metrics"
	"github.com/osa030/voicebox/internal/infra/roomsettings"
)

var (
	ErrFavoritesDisabled = errors.New("favorites are not enabled")
	ErrNoFavorites       = errors.New("no favorites saved")
)

const invalidateTimeout = 2 * time.Second

// FavoriteStore persists users' liked tracks.
type FavoriteStore interface {
	Add(ctx context.Context, userID string, t track.Source) (favorites.Favorite, error)
	List(ctx context.Context, userID string) ([]favorites.Favorite, error)
	Get(ctx context.Context, userID string, index int) (favorites.Favorite, error)
	Remove(ctx context.Context, userID string, index int) (favorites.Favorite, error)
}

// Invalidator drops a cached resolution whose stream could not be started.
type Invalidator interface {
	Invalidate(ctx context.Context, query string)
}

// Policies provides per-room auto-disconnect settings.
type Policies interface {
	Policy(roomID string) roomsettings.Policy
	SetAutoDisconnect(roomID string, enabled bool)
}

// Dependencies are the collaborators the manager wires into every session.
type Dependencies struct {
	Resolver    playback.Resolver
	Sinks       playback.SinkFactory
	Admitter    playback.Admitter // Optional
	Policies    Policies
	Favorites   FavoriteStore    // Optional
	Metrics     *metrics.Metrics // Optional
	Invalidator Invalidator      // Optional
}

// RoomStatus is the full status of a room.
type RoomStatus struct {
	Snapshot       playback.Snapshot
	Queue          []track.Source
	Last           *track.Source
	Occupancy      int
	OccupancyKnown bool
	Policy         roomsettings.Policy
}

// LikedResult is the outcome of playing one favorite.
type LikedResult struct {
	Favorite favorites.Favorite
	Result   playback.PlayResult
	Err      error
}

// Manager manages the playback sessions of all rooms.
type Manager struct {
	config *config.Config

	// Components
	rooms        *registry.Rooms
	notification *notification.Manager
	presence     *presence.Monitor
	policies     Policies
	favorites    FavoriteStore
	metrics      *metrics.Metrics

	deps       Dependencies
	sessionCfg playback.Config

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, deps Dependencies) *Manager {
	m := &Manager{
		config:       cfg,
		notification: notification.NewManager(),
		policies:     deps.Policies,
		favorites:    deps.Favorites,
		metrics:      deps.Metrics,
		deps:         deps,
		sessionCfg:   SessionConfig(cfg),
		done:         make(chan struct{}),
	}

	m.rooms = registry.NewRooms(m.newSession)
	m.presence = presence.NewMonitor(m.rooms, deps.Policies, m.notification, presence.Config{
		Threshold:  cfg.Presence.Threshold,
		Message:    cfg.GetMessage("disconnected"),
		OnTeardown: m.onTeardown,
	})

	return m
}

// SessionConfig converts the playback configuration for sessions.
func SessionConfig(cfg *config.Config) playback.Config {
	return playback.Config{
		ResolveAttempts:   cfg.Playback.ResolveAttempts,
		ResolveTimeout:    cfg.Playback.ResolveTimeout(),
		SinkStartAttempts: cfg.Playback.SinkStartAttempts,
		SinkStartTimeout:  cfg.Playback.SinkStartTimeout(),
		DisplayTimeout:    cfg.Playback.DisplayTimeout(),
		Volume:            float64(cfg.Playback.DefaultVolume) / 100,
	}
}

// newSession is the registry factory.
func (m *Manager) newSession(roomID, channel string) *playback.Session {
	s := playback.NewSession(playback.Options{
		RoomID:   roomID,
		Channel:  channel,
		Resolver: m.deps.Resolver,
		Sink:     m.deps.Sinks(roomID),
		Display:  m.notification,
		Admitter: m.deps.Admitter,
		OnEvent:  m.handlePlaybackEvent,
		Config:   m.sessionCfg,
	})
	return s
}

// Play resolves query in roomID, creating the room's session bound to channel if there is none.
func (m *Manager) Play(ctx context.Context, roomID, channel, query string) (playback.PlayResult, error) {
	result, err := m.play(ctx, roomID, channel, query)
	m.observe("play", err)
	return result, err
}

func (m *Manager) play(ctx context.Context, roomID, channel, query string) (playback.PlayResult, error) {
	s, created := m.rooms.GetOrCreate(roomID, channel)
	if created {
		zlog.Info().Msgf("session started: room=%s channel=%s", roomID, channel)
		m.syncSessions()
	}

	result, err := s.Play(ctx, channel, query)
	if errors.Is(err, playback.ErrSessionClosed) {
		// Closed between lookup and play, start over with a new session.
		// A close during resolution surfaces as ErrStale and is not retried.
		s, _ = m.rooms.GetOrCreate(roomID, channel)
		m.syncSessions()
		result, err = s.Play(ctx, channel, query)
	}
	if err != nil {
		zlog.Info().Msgf("play failed: room=%s query=%q kind=%s error=%v", roomID, query, ErrorKind(err), err)
		return playback.PlayResult{}, err
	}

	if result.Started {
		zlog.Info().Msgf("track started: room=%s title=%q", roomID, result.Track.Title)
	} else {
		zlog.Info().Msgf("track queued: room=%s title=%q position=%d", roomID, result.Track.Title, result.Position)
	}
	return result, nil
}

// Skip skips the current track of roomID.
func (m *Manager) Skip(roomID string) (track.Source, error) {
	return m.trackCommand("skip", roomID, (*playback.Session).Skip)
}

// Prev replays the previous track of roomID.
func (m *Manager) Prev(roomID string) (track.Source, error) {
	return m.trackCommand("prev", roomID, (*playback.Session).Prev)
}

// Pause pauses roomID.
func (m *Manager) Pause(roomID string) (track.Source, error) {
	return m.trackCommand("pause", roomID, (*playback.Session).Pause)
}

// Resume resumes roomID.
func (m *Manager) Resume(roomID string) (track.Source, error) {
	return m.trackCommand("resume", roomID, (*playback.Session).Resume)
}

func (m *Manager) trackCommand(name, roomID string, cmd func(*playback.Session) (track.Source, error)) (track.Source, error) {
	s, err := m.rooms.Get(roomID)
	if err != nil {
		m.observe(name, err)
		return track.Source{}, err
	}

	t, err := cmd(s)
	m.observe(name, err)
	if err != nil {
		zlog.Debug().Msgf("%s rejected: room=%s kind=%s", name, roomID, ErrorKind(err))
		return track.Source{}, err
	}
	zlog.Info().Msgf("%s: room=%s title=%q", name, roomID, t.Title)
	return t, nil
}

// Stop stops playback in roomID and tears its session down.
func (m *Manager) Stop(roomID string) error {
	if _, err := m.rooms.Get(roomID); err != nil {
		m.observe("stop", err)
		return err
	}

	err := m.rooms.Close(roomID)
	m.observe("stop", err)
	if err != nil {
		return err
	}
	m.syncSessions()
	zlog.Info().Msgf("session stopped: room=%s", roomID)
	return nil
}

// SetVolume sets the volume of roomID from a percentage and returns the applied percentage.
func (m *Manager) SetVolume(roomID string, percent int) (int, error) {
	s, err := m.rooms.Get(roomID)
	if err != nil {
		m.observe("set_volume", err)
		return 0, err
	}

	volume, err := s.SetVolume(percent)
	m.observe("set_volume", err)
	if err != nil {
		return 0, err
	}
	applied := int(volume*100 + 0.5)
	zlog.Info().Msgf("volume changed: room=%s percent=%d", roomID, applied)
	return applied, nil
}

// RemoveFromQueue removes the track at a 1-based queue position of roomID.
func (m *Manager) RemoveFromQueue(roomID string, index int) (track.Source, error) {
	s, err := m.rooms.Get(roomID)
	if err != nil {
		m.observe("remove", err)
		return track.Source{}, err
	}

	removed, err := s.RemoveFromQueue(index)
	m.observe("remove", err)
	if err != nil {
		return track.Source{}, err
	}
	zlog.Info().Msgf("track removed: room=%s index=%d title=%q", roomID, index, removed.Title)
	return removed, nil
}

// QueueView returns the contents of roomID.
func (m *Manager) QueueView(roomID string) (playback.View, error) {
	s, err := m.rooms.Get(roomID)
	if err != nil {
		return playback.View{}, err
	}
	return s.QueueView(), nil
}

// GetStatus returns the status of roomID.
func (m *Manager) GetStatus(roomID string) (*RoomStatus, error) {
	s, err := m.rooms.Get(roomID)
	if err != nil {
		return nil, err
	}
	return m.status(s), nil
}

// ListRooms returns the status of every room with a session.
func (m *Manager) ListRooms() []*RoomStatus {
	ids := m.rooms.IDs()
	result := make([]*RoomStatus, 0, len(ids))
	for _, id := range ids {
		s, err := m.rooms.Get(id)
		if err != nil {
			// Closed since listing
			continue
		}
		result = append(result, m.status(s))
	}
	return result
}

func (m *Manager) status(s *playback.Session) *RoomStatus {
	view := s.QueueView()
	occupancy, known := m.presence.Occupancy(s.RoomID())
	return &RoomStatus{
		Snapshot:       s.Snapshot(),
		Queue:          view.Items,
		Last:           view.Last,
		Occupancy:      occupancy,
		OccupancyKnown: known,
		Policy:         m.policies.Policy(s.RoomID()),
	}
}

// SetAutoDisconnect switches auto-disconnect for roomID and returns the effective policy.
func (m *Manager) SetAutoDisconnect(roomID string, enabled bool) roomsettings.Policy {
	m.policies.SetAutoDisconnect(roomID, enabled)
	zlog.Info().Msgf("auto-disconnect changed: room=%s enabled=%v", roomID, enabled)
	return m.policies.Policy(roomID)
}

// ReportPresence feeds an occupancy event to the presence monitor.
func (m *Manager) ReportPresence(roomID string, count int, isSelf bool) {
	m.presence.HandleOccupancy(roomID, count, isSelf)
}

// Fave saves the track playing in roomID to userID's favorites.
func (m *Manager) Fave(ctx context.Context, roomID, userID string) (favorites.Favorite, error) {
	if m.favorites == nil {
		return favorites.Favorite{}, ErrFavoritesDisabled
	}
	s, err := m.rooms.Get(roomID)
	if err != nil {
		return favorites.Favorite{}, err
	}
	current, ok := s.Current()
	if !ok {
		return favorites.Favorite{}, playback.ErrNotPlaying
	}

	fav, err := m.favorites.Add(ctx, userID, current)
	if err != nil {
		return favorites.Favorite{}, err
	}
	zlog.Info().Msgf("favorite added: user=%s title=%q", userID, fav.Title)
	return fav, nil
}

// Unfave removes the favorite at a 1-based position from userID's list.
func (m *Manager) Unfave(ctx context.Context, userID string, index int) (favorites.Favorite, error) {
	if m.favorites == nil {
		return favorites.Favorite{}, ErrFavoritesDisabled
	}
	fav, err := m.favorites.Remove(ctx, userID, index)
	if err != nil {
		return favorites.Favorite{}, err
	}
	zlog.Info().Msgf("favorite removed: user=%s index=%d title=%q", userID, index, fav.Title)
	return fav, nil
}

// ListFavorites returns userID's favorites.
func (m *Manager) ListFavorites(ctx context.Context, userID string) ([]favorites.Favorite, error) {
	if m.favorites == nil {
		return nil, ErrFavoritesDisabled
	}
	return m.favorites.List(ctx, userID)
}

// PlayLiked plays userID's favorite at a 1-based position, or all of them when index is 0.
// Tracks that fail individually are reported in the results; errors that would fail every
// track, such as a wrong channel, stop the loop.
func (m *Manager) PlayLiked(ctx context.Context, roomID, channel, userID string, index int) ([]LikedResult, error) {
	if m.favorites == nil {
		return nil, ErrFavoritesDisabled
	}

	var favs []favorites.Favorite
	if index > 0 {
		fav, err := m.favorites.Get(ctx, userID, index)
		if err != nil {
			return nil, err
		}
		favs = []favorites.Favorite{fav}
	} else {
		list, err := m.favorites.List(ctx, userID)
		if err != nil {
			return nil, err
		}
		favs = list
	}
	if len(favs) == 0 {
		return nil, ErrNoFavorites
	}

	results := make([]LikedResult, 0, len(favs))
	for _, fav := range favs {
		result, err := m.Play(ctx, roomID, channel, fav.PlayQuery())
		if errors.Is(err, playback.ErrWrongChannel) || errors.Is(err, context.Canceled) {
			return results, err
		}
		results = append(results, LikedResult{Favorite: fav, Result: result, Err: err})
	}
	return results, nil
}

// Notifications returns the notification manager.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Message returns the user-facing message for err.
func (m *Manager) Message(err error) string {
	if code := filter.RejectionCode(err); code != "" {
		return m.config.GetMessage(code)
	}
	return m.config.GetMessage(ErrorKind(err))
}

// Done returns a channel that is closed when the manager shuts down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close tears down every session.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.presence.Close()
		m.rooms.CloseAll()
		m.syncSessions()
		m.notification.Close()
	})
}

// handlePlaybackEvent handles session events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	title := ""
	if event.Track != nil {
		title = event.Track.Title
	}
	if event.Err != nil {
		zlog.Warn().Msgf("playback event: room=%s type=%s title=%q state=%s error=%v", event.RoomID, event.Type, title, event.State, event.Err)
	} else {
		zlog.Debug().Msgf("playback event: room=%s type=%s title=%q state=%s", event.RoomID, event.Type, title, event.State)
	}

	if event.Type == playback.EventSinkFailed && event.Track != nil && m.deps.Invalidator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		m.deps.Invalidator.Invalidate(ctx, event.Track.Query)
		cancel()
	}

	if m.metrics == nil {
		return
	}
	m.metrics.EventsTotal.WithLabelValues(event.Type.String()).Inc()
	if event.Type == playback.EventSinkFailed {
		m.metrics.SinkFailures.Inc()
	}
}

func (m *Manager) onTeardown(roomID string) {
	m.syncSessions()
	if m.metrics != nil {
		m.metrics.Teardowns.Inc()
	}
}

// syncSessions updates the session gauge from the registry.
func (m *Manager) syncSessions() {
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(m.rooms.Count()))
	}
}

func (m *Manager) observe(command string, err error) {
	if m.metrics != nil {
		m.metrics.ObserveCommand(command, ErrorKind(err))
	}
}

// ErrorKind returns the stable kind name of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registry.ErrNoSession):
		return "no_session"
	case errors.Is(err, ErrFavoritesDisabled):
		return "favorites_disabled"
	case errors.Is(err, ErrNoFavorites):
		return "no_favorites"
	case errors.Is(err, favorites.ErrIndexOutOfRange):
		return "index_out_of_range"
	default:
		return playback.Kind(err)
	}
}
