package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

const (
	minVolume     = 0.01
	eventChanSize = 64
)

// Config holds session configuration.
type Config struct {
	ResolveAttempts   int           // Resolution attempts per request
	ResolveTimeout    time.Duration // Timeout for a single resolution attempt
	SinkStartAttempts int           // Sink start attempts per track
	SinkStartTimeout  time.Duration // Timeout for a single sink start
	DisplayTimeout    time.Duration // Timeout for a single display render
	Volume            float64       // Initial volume (0.01 to 1.0)
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		ResolveAttempts:   3,
		ResolveTimeout:    20 * time.Second,
		SinkStartAttempts: 3,
		SinkStartTimeout:  5 * time.Second,
		DisplayTimeout:    2 * time.Second,
		Volume:            1.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ResolveAttempts <= 0 {
		c.ResolveAttempts = d.ResolveAttempts
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = d.ResolveTimeout
	}
	if c.SinkStartAttempts <= 0 {
		c.SinkStartAttempts = d.SinkStartAttempts
	}
	if c.SinkStartTimeout <= 0 {
		c.SinkStartTimeout = d.SinkStartTimeout
	}
	if c.DisplayTimeout <= 0 {
		c.DisplayTimeout = d.DisplayTimeout
	}
	if c.Volume < minVolume || c.Volume > 1 {
		c.Volume = d.Volume
	}
	return c
}

// Admitter checks a resolved track against the session contents before it is queued.
type Admitter interface {
	Admit(ctx context.Context, t track.Source, view View) error
}

// Options configures a new session.
type Options struct {
	RoomID   string
	Channel  string // Channel the session is bound to
	Resolver Resolver
	Sink     Sink
	Display  Display      // Optional
	Admitter Admitter     // Optional
	OnEvent  EventHandler // Optional, called in event order from a session goroutine
	Config   Config
}

// PlayResult describes where a requested track ended up.
type PlayResult struct {
	Track    track.Source
	Started  bool // Track started playing immediately
	Position int  // 1-based queue position when queued
}

// View is a copy of the session contents.
type View struct {
	RoomID  string
	Channel string
	State   State
	Current *track.Source
	Last    *track.Source
	Items   []track.Source
	Volume  float64
}

// Session is the playback state machine for one room.
// All transitions run with mu held; only track resolution happens outside it.
type Session struct {
	mu sync.Mutex

	roomID  string
	channel string

	queue   *Queue
	current *track.Source
	last    *track.Source
	state   State
	volume  float64

	// generation identifies the stream the sink is currently playing.
	// Completions carrying an older generation are stale.
	generation uint64
	// epoch is bumped by Stop so in-flight resolutions cannot revive a stopped session.
	epoch    uint64
	controls bool
	closed   bool

	resolver Resolver
	sink     Sink
	display  Display
	admitter Admitter
	onEvent  EventHandler
	config   Config

	// Events
	eventCh chan Event

	// Display rendering (latest snapshot wins)
	renderMu sync.Mutex
	pending  *Snapshot
	handle   string
	renderCh chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSession creates an idle session bound to opts.Channel.
func NewSession(opts Options) *Session {
	cfg := opts.Config.withDefaults()
	s := &Session{
		roomID:   opts.RoomID,
		channel:  opts.Channel,
		queue:    NewQueue(),
		state:    StateIdle,
		volume:   cfg.Volume,
		resolver: opts.Resolver,
		sink:     opts.Sink,
		display:  opts.Display,
		admitter: opts.Admitter,
		onEvent:  opts.OnEvent,
		config:   cfg,
		renderCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if s.onEvent != nil {
		s.eventCh = make(chan Event, eventChanSize)
		s.wg.Add(1)
		go s.eventLoop()
	}
	if s.display != nil {
		s.wg.Add(1)
		go s.renderLoop()
	}

	return s
}

// RoomID returns the room this session belongs to.
func (s *Session) RoomID() string {
	return s.roomID
}

// Channel returns the channel the session is bound to.
func (s *Session) Channel() string {
	return s.channel
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Play resolves query and starts it, or appends it to the queue if something is already loaded.
func (s *Session) Play(ctx context.Context, channel, query string) (PlayResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return PlayResult{}, ErrSessionClosed
	}
	if channel != s.channel {
		s.mu.Unlock()
		return PlayResult{}, ErrWrongChannel
	}
	epoch := s.epoch
	s.mu.Unlock()

	src, err := s.resolve(ctx, query)
	if err != nil {
		return PlayResult{}, err
	}

	return s.apply(ctx, epoch, src)
}

// resolve calls the resolver up to ResolveAttempts times.
func (s *Session) resolve(ctx context.Context, query string) (track.Source, error) {
	var lastErr error
	for attempt := 1; attempt <= s.config.ResolveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return track.Source{}, errors.Mark(errors.Wrapf(err, "resolve %q", query), ErrResolutionFailed)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.config.ResolveTimeout)
		src, err := s.resolver.Resolve(attemptCtx, query)
		cancel()
		if err == nil {
			if src.Query == "" {
				src.Query = query
			}
			return src, nil
		}

		lastErr = err
		zlog.Warn().Msgf("playback: resolution failed: room=%s query=%q attempt=%d/%d error=%v",
			s.roomID, query, attempt, s.config.ResolveAttempts, err)
	}

	return track.Source{}, errors.Mark(errors.Wrapf(lastErr, "resolve %q", query), ErrResolutionFailed)
}

// apply re-enters the lock with a resolved track.
func (s *Session) apply(ctx context.Context, epoch uint64, src track.Source) (PlayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// Closed while resolving: the room was torn down after this play was accepted
		zlog.Info().Msgf("playback: dropping resolution for closed session: room=%s track=%q", s.roomID, src.Title)
		return PlayResult{}, ErrStale
	}
	if s.epoch != epoch {
		zlog.Info().Msgf("playback: dropping stale resolution: room=%s track=%q", s.roomID, src.Title)
		return PlayResult{}, ErrStale
	}

	if s.admitter != nil {
		if err := s.admitter.Admit(ctx, src, s.viewLocked()); err != nil {
			return PlayResult{}, err
		}
	}

	wasEmpty := s.queue.IsEmpty()
	s.queue.Enqueue(src)

	if s.state != StateIdle {
		position := s.queue.Size()
		zlog.Debug().Msgf("playback: track queued: room=%s track=%q position=%d", s.roomID, src.Title, position)
		s.sendEventLocked(Event{Type: EventTrackQueued, Track: &src})
		s.refreshLocked()
		return PlayResult{Track: src, Position: position}, nil
	}

	if err := s.advanceLocked(); err != nil {
		return PlayResult{}, err
	}

	if wasEmpty {
		return PlayResult{Track: src, Started: true}, nil
	}
	return PlayResult{Track: src, Position: s.queue.Size()}, nil
}

// Skip stops the current track; the completion path starts the next one.
func (s *Session) Skip() (track.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return track.Source{}, ErrSessionClosed
	}
	if s.state != StatePlaying {
		return track.Source{}, ErrNotPlaying
	}

	skipped := *s.current
	s.state = StateTransitioning
	s.sendEventLocked(Event{Type: EventTrackSkipped, Track: &skipped})
	s.refreshLocked()
	s.stopSinkLocked()

	return skipped, nil
}

// Prev puts the previous track back at the front of the queue and plays it.
func (s *Session) Prev() (track.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return track.Source{}, ErrSessionClosed
	}
	if s.last == nil {
		return track.Source{}, ErrNoPrevious
	}

	prev := *s.last

	switch s.state {
	case StatePlaying, StatePaused:
		skipped := *s.current
		s.queue.PushFront(prev)
		s.state = StateTransitioning
		s.sendEventLocked(Event{Type: EventTrackSkipped, Track: &skipped})
		s.refreshLocked()
		s.stopSinkLocked()
		return prev, nil

	case StateIdle:
		// No sink to stop, start directly.
		s.queue.PushFront(prev)
		s.last = nil
		if err := s.advanceLocked(); err != nil {
			s.last = &prev
			return track.Source{}, err
		}
		return prev, nil

	default:
		return track.Source{}, ErrInvalidState
	}
}

// Pause pauses the current track.
func (s *Session) Pause() (track.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return track.Source{}, ErrSessionClosed
	}
	if s.state != StatePlaying {
		return track.Source{}, ErrInvalidState
	}

	if err := s.sink.Pause(); err != nil {
		return track.Source{}, errors.Wrap(err, "failed to pause sink")
	}

	s.state = StatePaused
	s.sendEventLocked(Event{Type: EventStateChanged, Track: s.current})
	s.refreshLocked()
	return *s.current, nil
}

// Resume resumes a paused track.
func (s *Session) Resume() (track.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return track.Source{}, ErrSessionClosed
	}
	if s.state != StatePaused {
		return track.Source{}, ErrInvalidState
	}

	if err := s.sink.Resume(); err != nil {
		return track.Source{}, errors.Wrap(err, "failed to resume sink")
	}

	s.state = StatePlaying
	s.sendEventLocked(Event{Type: EventStateChanged, Track: s.current})
	s.refreshLocked()
	return *s.current, nil
}

// SetVolume sets the volume from a percentage in [0, 100] and returns the stored value.
// The volume is applied to the sink whenever one is active, paused or not.
func (s *Session) SetVolume(percent int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}
	if percent < 0 || percent > 100 {
		return 0, ErrInvalidVolume
	}

	volume := float64(percent) / 100
	if volume < minVolume {
		volume = minVolume
	}
	s.volume = volume

	if s.sink.IsActive() {
		if err := s.sink.SetVolume(volume); err != nil {
			zlog.Warn().Msgf("playback: failed to apply volume to sink: room=%s volume=%.2f error=%v", s.roomID, volume, err)
		}
	}

	s.refreshLocked()
	return volume, nil
}

// RemoveFromQueue removes the track at a 1-based queue position.
func (s *Session) RemoveFromQueue(index int) (track.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return track.Source{}, ErrSessionClosed
	}
	if index < 1 || index > s.queue.Size() {
		return track.Source{}, ErrIndexOutOfRange
	}

	removed, err := s.queue.Dequeue(index - 1)
	if err != nil {
		return track.Source{}, ErrIndexOutOfRange
	}

	s.refreshLocked()
	return removed, nil
}

// Stop clears the queue and history, stops the sink and returns to idle.
// Local state is always cleared; a sink stop error is returned after cleanup.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.stopLocked()
}

// Close stops the session and renders its final state. A closed session rejects all commands.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	err := s.stopLocked()
	s.closed = true
	s.refreshLocked()
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	zlog.Debug().Msgf("playback: session closed: room=%s", s.roomID)
	return err
}

// QueueView returns a copy of the current track and pending queue.
func (s *Session) QueueView() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Snapshot returns the render view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	snap.Handle = s.DisplayHandle()
	return snap
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsPlaying returns true while a track is streaming (not paused).
func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePlaying
}

// IsIdle returns true when there is no current track and nothing is queued.
func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == nil && s.queue.IsEmpty() && s.state == StateIdle
}

// Current returns the current track.
func (s *Session) Current() (track.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return track.Source{}, false
	}
	return *s.current, true
}

// DisplayHandle returns the handle of the last rendered status message.
func (s *Session) DisplayHandle() string {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	return s.handle
}

// complete is the sink completion callback.
func (s *Session) complete(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completeLocked(gen, err)
}

// completeLocked is the single end-of-track path used by natural ends, skip and prev.
// Must be called with lock held.
func (s *Session) completeLocked(gen uint64, err error) {
	if s.closed || gen != s.generation || s.current == nil {
		zlog.Debug().Msgf("playback: dropping stale completion: room=%s generation=%d current_generation=%d",
			s.roomID, gen, s.generation)
		return
	}

	ended := *s.current
	s.last = &ended
	s.current = nil
	s.state = StateTransitioning

	if err != nil {
		zlog.Warn().Msgf("playback: track ended with error: room=%s track=%q error=%v", s.roomID, ended.Title, err)
	} else {
		zlog.Debug().Msgf("playback: track ended: room=%s track=%q", s.roomID, ended.Title)
	}
	s.sendEventLocked(Event{Type: EventTrackEnded, Track: &ended, Err: err})

	_ = s.advanceLocked()
}

// advanceLocked starts the head of the queue, or goes idle.
// Must be called with lock held and no current track.
func (s *Session) advanceLocked() error {
	next, err := s.queue.Dequeue(0)
	if err != nil {
		s.becomeIdleLocked()
		s.sendEventLocked(Event{Type: EventQueueEmpty})
		return nil
	}

	if err := s.startLocked(next); err != nil {
		zlog.Error().Msgf("playback: giving up on track: room=%s track=%q error=%v", s.roomID, next.Title, err)
		s.becomeIdleLocked()
		s.sendEventLocked(Event{Type: EventSinkFailed, Track: &next, Err: err})
		return err
	}
	return nil
}

// startLocked starts t on the sink, retrying up to SinkStartAttempts times.
// Must be called with lock held.
func (s *Session) startLocked(t track.Source) error {
	var lastErr error
	for attempt := 1; attempt <= s.config.SinkStartAttempts; attempt++ {
		s.generation++
		gen := s.generation

		ctx, cancel := context.WithTimeout(context.Background(), s.config.SinkStartTimeout)
		err := s.sink.Start(ctx, t.Locator, s.volume, func(err error) {
			s.complete(gen, err)
		})
		cancel()

		if err == nil {
			s.current = &t
			s.state = StatePlaying
			s.controls = true
			zlog.Info().Msgf("playback: track started: room=%s track=%q attempt=%d", s.roomID, t.Title, attempt)
			s.sendEventLocked(Event{Type: EventTrackStarted, Track: &t})
			s.refreshLocked()
			return nil
		}

		lastErr = err
		zlog.Warn().Msgf("playback: sink start failed: room=%s track=%q attempt=%d/%d error=%v",
			s.roomID, t.Title, attempt, s.config.SinkStartAttempts, err)
	}

	return errors.Mark(errors.Wrapf(lastErr, "start %q", t.Title), ErrSinkStartFailed)
}

// stopSinkLocked stops the sink so its completion callback advances the session.
// If the sink cannot stop, the transition is completed here instead.
// Must be called with lock held.
func (s *Session) stopSinkLocked() {
	if err := s.sink.Stop(); err != nil {
		zlog.Warn().Msgf("playback: sink stop failed, completing locally: room=%s error=%v", s.roomID, err)
		s.completeLocked(s.generation, err)
	}
}

// stopLocked clears everything and goes idle.
// Must be called with lock held.
func (s *Session) stopLocked() error {
	s.queue.Clear()
	s.current = nil
	s.last = nil
	s.state = StateIdle
	s.controls = false
	s.epoch++
	s.generation++

	var stopErr error
	if s.sink.IsActive() {
		if err := s.sink.Stop(); err != nil {
			zlog.Warn().Msgf("playback: sink stop failed during stop: room=%s error=%v", s.roomID, err)
			stopErr = errors.Wrap(err, "failed to stop sink")
		}
	}

	s.sendEventLocked(Event{Type: EventStopped})
	s.refreshLocked()
	return stopErr
}

// becomeIdleLocked clears the current track and removes the controls.
// Must be called with lock held.
func (s *Session) becomeIdleLocked() {
	s.current = nil
	s.state = StateIdle
	s.controls = false
	s.refreshLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		RoomID:  s.roomID,
		Channel: s.channel,
		State:   s.state,
		Items:   s.queue.Items(),
		Volume:  s.volume,
	}
	if s.current != nil {
		c := *s.current
		v.Current = &c
	}
	if s.last != nil {
		l := *s.last
		v.Last = &l
	}
	return v
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		RoomID:      s.roomID,
		Channel:     s.channel,
		State:       s.state,
		IsPlaying:   s.state == StatePlaying,
		QueueSize:   s.queue.Size(),
		HasPrevious: s.last != nil,
		Volume:      s.volume,
		Controls:    s.controls && !s.closed,
		Closed:      s.closed,
	}
	if s.current != nil {
		c := *s.current
		snap.Current = &c
	}
	if next, ok := s.queue.Peek(0); ok {
		snap.Next = &next
	}
	return snap
}

// sendEventLocked queues an event without blocking.
// Must be called with lock held.
func (s *Session) sendEventLocked(e Event) {
	if s.eventCh == nil {
		return
	}

	e.RoomID = s.roomID
	e.State = s.state

	select {
	case s.eventCh <- e:
	default:
		zlog.Warn().Msgf("playback: event channel full, dropping event: room=%s type=%s", s.roomID, e.Type)
	}
}

// refreshLocked schedules a display render of the current state.
// Must be called with lock held.
func (s *Session) refreshLocked() {
	if s.display == nil {
		return
	}

	snap := s.snapshotLocked()

	s.renderMu.Lock()
	s.pending = &snap
	s.renderMu.Unlock()

	select {
	case s.renderCh <- struct{}{}:
	default:
	}
}

func (s *Session) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case e := <-s.eventCh:
			s.dispatchEvent(e)
		case <-s.done:
			for {
				select {
				case e := <-s.eventCh:
					s.dispatchEvent(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) dispatchEvent(e Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: event handler panicked: room=%s type=%s panic=%v", s.roomID, e.Type, r)
		}
	}()
	s.onEvent(e)
}

func (s *Session) renderLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.renderCh:
			s.renderPending()
		case <-s.done:
			s.renderPending()
			return
		}
	}
}

// renderPending renders the latest snapshot, if any. Failures are logged and never retried.
func (s *Session) renderPending() {
	s.renderMu.Lock()
	snap := s.pending
	s.pending = nil
	handle := s.handle
	s.renderMu.Unlock()

	if snap == nil {
		return
	}
	snap.Handle = handle

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DisplayTimeout)
	defer cancel()

	newHandle, err := s.display.Render(ctx, *snap)
	if err != nil {
		zlog.Warn().Msgf("playback: display render failed: room=%s error=%v", s.roomID, err)
		return
	}

	if newHandle != "" {
		s.renderMu.Lock()
		s.handle = newHandle
		s.renderMu.Unlock()
	}
}
