// Package presence tears down idle sessions when their voice channel empties.
package presence

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/infra/roomsettings"
)

const notifyTimeout = 5 * time.Second

// Sessions is the part of the session registry the monitor needs.
type Sessions interface {
	Get(roomID string) (*playback.Session, error)
	Close(roomID string) error
}

// Policies returns the auto-disconnect policy of a room.
type Policies interface {
	Policy(roomID string) roomsettings.Policy
}

// Notifier posts a text notice to a room's channel.
type Notifier interface {
	Notify(ctx context.Context, roomID, channel, message string) error
}

// Config holds monitor configuration.
type Config struct {
	Threshold  int                 // Sessions are closed when occupancy stays below this
	Message    string              // Notice posted after a teardown
	OnTeardown func(roomID string) // Optional, called after a session is closed
}

type pendingTimer struct {
	timer *time.Timer
	id    uint64
}

// Monitor watches occupancy events and closes sessions of empty rooms after a grace period.
type Monitor struct {
	mu sync.Mutex

	sessions Sessions
	policies Policies
	notifier Notifier
	config   Config

	occupancy map[string]int
	timers    map[string]pendingTimer
	seq       uint64
	closed    bool

	wg sync.WaitGroup
}

// NewMonitor creates a new presence monitor. notifier may be nil.
func NewMonitor(sessions Sessions, policies Policies, notifier Notifier, cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2
	}
	return &Monitor{
		sessions:  sessions,
		policies:  policies,
		notifier:  notifier,
		config:    cfg,
		occupancy: make(map[string]int),
		timers:    make(map[string]pendingTimer),
	}
}

// HandleOccupancy records the occupant count of a room and (re)arms its teardown timer.
// Events about the bot itself are ignored.
func (m *Monitor) HandleOccupancy(roomID string, count int, isSelf bool) {
	if isSelf {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.occupancy[roomID] = count

	policy := m.policies.Policy(roomID)
	if !policy.AutoDisconnect {
		zlog.Debug().Msgf("presence: auto-disconnect disabled: room=%s", roomID)
		return
	}

	if _, err := m.sessions.Get(roomID); err != nil {
		return
	}

	// Restart the grace period from the latest change
	m.stopTimerLocked(roomID)

	m.seq++
	id := m.seq
	m.wg.Add(1)
	m.timers[roomID] = pendingTimer{
		id: id,
		timer: time.AfterFunc(policy.GracePeriod, func() {
			defer m.wg.Done()
			m.expire(roomID, id)
		}),
	}

	zlog.Debug().Msgf("presence: timer started: room=%s count=%d grace=%s", roomID, count, policy.GracePeriod)
}

// expire re-checks occupancy once the grace period has passed.
func (m *Monitor) expire(roomID string, id uint64) {
	m.mu.Lock()
	if p, ok := m.timers[roomID]; !ok || p.id != id {
		// Superseded by a later event
		m.mu.Unlock()
		return
	}
	delete(m.timers, roomID)

	if m.closed {
		m.mu.Unlock()
		return
	}

	count := m.occupancy[roomID]
	enabled := m.policies.Policy(roomID).AutoDisconnect
	m.mu.Unlock()

	if !enabled {
		return
	}
	if count >= m.config.Threshold {
		zlog.Debug().Msgf("presence: room still occupied: room=%s count=%d", roomID, count)
		return
	}

	session, err := m.sessions.Get(roomID)
	if err != nil {
		return
	}
	channel := session.Channel()

	if err := m.sessions.Close(roomID); err != nil {
		zlog.Error().Msgf("presence: failed to close session: room=%s error=%v", roomID, err)
	}
	zlog.Info().Msgf("presence: session closed for empty room: room=%s count=%d", roomID, count)
	if m.config.OnTeardown != nil {
		m.config.OnTeardown(roomID)
	}

	if m.notifier == nil || m.config.Message == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, roomID, channel, m.config.Message); err != nil {
		zlog.Warn().Msgf("presence: failed to post notice: room=%s error=%v", roomID, err)
	}
}

// Occupancy returns the last reported occupant count of a room.
func (m *Monitor) Occupancy(roomID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count, ok := m.occupancy[roomID]
	return count, ok
}

// Pending reports whether a teardown timer is armed for a room.
func (m *Monitor) Pending(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[roomID]
	return ok
}

// Close cancels every pending timer and waits for running expirations.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for roomID := range m.timers {
		m.stopTimerLocked(roomID)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// stopTimerLocked cancels the pending timer of a room.
// A timer that already fired finishes on its own and sees it was superseded.
func (m *Monitor) stopTimerLocked(roomID string) {
	p, ok := m.timers[roomID]
	if !ok {
		return
	}
	if p.timer.Stop() {
		m.wg.Done()
	}
	delete(m.timers, roomID)
}
