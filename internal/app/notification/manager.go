// Package notification provides the notification manager for broadcasting room status.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
)

const sendTimeout = 500 * time.Millisecond

// Type represents a notification type.
type Type int

const (
	TypeStatus Type = iota // Player status changed
	TypeNotice             // Text notice posted to a room's channel
)

// String returns the string representation of the notification type.
func (t Type) String() string {
	switch t {
	case TypeStatus:
		return "status"
	case TypeNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *Type) UnmarshalText(text []byte) error {
	switch string(text) {
	case "status":
		*t = TypeStatus
	case "notice":
		*t = TypeNotice
	default:
		return errors.Newf("unknown notification type %q", text)
	}
	return nil
}

// Notification is a message delivered to subscribers.
type Notification struct {
	SequenceNo uint64    `json:"sequence_no"`
	Type       Type      `json:"type"`
	RoomID     string    `json:"room_id"`
	Channel    string    `json:"channel,omitempty"`
	Status     *Status   `json:"status,omitempty"`  // Set for TypeStatus
	Message    string    `json:"message,omitempty"` // Set for TypeNotice
	Time       time.Time `json:"time"`
}

// Stream represents a notification stream for a subscriber.
// Send must not block: Broadcast stops waiting after sendTimeout, but a Send that
// never returns keeps its goroutine alive. Buffer and drop instead, as the connect
// and websocket adapters do.
type Stream interface {
	Send(*Notification) error
}

// Publisher forwards notifications to another system.
type Publisher interface {
	Publish(roomID, eventType string, payload any) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	roomID string // Empty for every room
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
// It is also the playback display: every rendered snapshot is broadcast as a status.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	latest        map[string]*Notification // Last status per room
	publishers    []Publisher
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		latest:        make(map[string]*Notification),
	}
}

// AddPublisher registers a publisher that receives every notification.
func (m *Manager) AddPublisher(p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, p)
}

// Subscribe adds a new subscription and returns the subscription ID.
// An empty roomID subscribes to every room.
func (m *Manager) Subscribe(roomID string, stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		roomID: roomID,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Render implements playback.Display. It broadcasts the snapshot and returns its handle,
// which stays the same for as long as the session keeps passing it back.
func (m *Manager) Render(ctx context.Context, snap playback.Snapshot) (string, error) {
	if snap.Handle == "" {
		snap.Handle = uuid.New().String()
	}

	status := NewStatus(snap)
	n := &Notification{
		SequenceNo: m.NextSequenceNo(),
		Type:       TypeStatus,
		RoomID:     snap.RoomID,
		Channel:    snap.Channel,
		Status:     &status,
		Time:       time.Now(),
	}

	m.mu.Lock()
	if snap.Closed {
		delete(m.latest, snap.RoomID)
	} else {
		m.latest[snap.RoomID] = n
	}
	m.mu.Unlock()

	m.Broadcast(ctx, n)
	return snap.Handle, nil
}

// Notify posts a text notice to a room's channel.
func (m *Manager) Notify(ctx context.Context, roomID, channel, message string) error {
	m.Broadcast(ctx, &Notification{
		Type:    TypeNotice,
		RoomID:  roomID,
		Channel: channel,
		Message: message,
	})
	return nil
}

// Latest returns the last status rendered for a room.
func (m *Manager) Latest(roomID string) (*Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.latest[roomID]
	return n, ok
}

// Broadcast sends a notification to all subscribers of its room.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
// Subscribers share the notification and must not modify it.
func (m *Manager) Broadcast(ctx context.Context, notification *Notification) {
	if notification.SequenceNo == 0 {
		notification.SequenceNo = m.NextSequenceNo()
	}
	if notification.Time.IsZero() {
		notification.Time = time.Now()
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.roomID == "" || sub.roomID == notification.RoomID {
			subs = append(subs, sub)
		}
	}
	publishers := append([]Publisher(nil), m.publishers...)
	m.mu.RUnlock()

	for _, p := range publishers {
		if err := p.Publish(notification.RoomID, notification.Type.String(), notification); err != nil {
			zlog.Warn().Msgf("notification: publish failed: room=%s error=%v", notification.RoomID, err)
		}
	}

	// Send to each subscriber in parallel with timeout
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed: subscription=%s error=%v", s.id, err)
				}
			case <-sendCtx.Done():
				zlog.Debug().Msgf("notification: send timed out: subscription=%s", s.id)
			}
		}(sub)
	}

	// Wait for all sends to complete or timeout
	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
