// Package playback provides the per-room playback session and its queue.
package playback

// State represents the playback state of a session.
type State int

const (
	StateIdle          State = iota // No current track and nothing queued
	StatePlaying                    // Current track is streaming
	StatePaused                     // Current track is held by the sink
	StateTransitioning              // Sink stopped, waiting for its completion callback
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}
