package playback

import "github.com/osa030/voicebox/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // A track started streaming
	EventTrackEnded                    // The current track finished or was stopped
	EventTrackQueued                   // A track was appended to the queue
	EventTrackSkipped                  // A skip or prev stopped the current track
	EventStateChanged                  // Pause or resume
	EventQueueEmpty                    // Playback ran out of tracks
	EventSinkFailed                    // Sink start failed after all attempts
	EventStopped                       // Session was stopped
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackQueued:
		return "track_queued"
	case EventTrackSkipped:
		return "track_skipped"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventSinkFailed:
		return "sink_failed"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type   EventType
	RoomID string
	Track  *track.Source // Track the event is about (nil for some events)
	State  State         // Session state after the event
	Err    error         // Set for EventSinkFailed and errored track ends
}

// EventHandler receives session events in the order they happened.
type EventHandler func(Event)
