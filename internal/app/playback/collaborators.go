package playback

import (
	"context"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Resolver turns a user query into a playable track.
// Timeout and retry policy inside a single call belong to the resolver.
type Resolver interface {
	Resolve(ctx context.Context, query string) (track.Source, error)
}

// Sink is the audio output a session drives.
//
// Start begins streaming locator and returns once the stream is running.
// onComplete must be called exactly once per successful Start, from a goroutine
// other than the caller of Stop, when the stream ends naturally, errors, or is stopped.
type Sink interface {
	Start(ctx context.Context, locator string, volume float64, onComplete func(error)) error
	Stop() error
	Pause() error
	Resume() error
	SetVolume(volume float64) error
	IsActive() bool
}

// SinkFactory creates the sink for a room.
type SinkFactory func(roomID string) Sink

// Display renders session snapshots to a UI surface.
// Render returns the handle of the rendered message; passing it back in the next
// snapshot lets the display edit that message in place.
type Display interface {
	Render(ctx context.Context, snap Snapshot) (string, error)
}

// Snapshot is a read-only view of a session used for rendering.
type Snapshot struct {
	RoomID      string
	Channel     string
	Handle      string // Handle returned by the previous render ("" for a new message)
	State       State
	IsPlaying   bool
	Current     *track.Source // nil when idle
	Next        *track.Source // head of the queue, nil when empty
	QueueSize   int
	HasPrevious bool
	Volume      float64 // 0.01 to 1.0
	Controls    bool    // false once playback controls are removed
	Closed      bool    // session was torn down; this is the final render
}

// VolumePercent returns the volume as an integer percentage.
func (s Snapshot) VolumePercent() int {
	return int(s.Volume*100 + 0.5)
}

// CanSkip reports whether the next control should be enabled.
func (s Snapshot) CanSkip() bool {
	return s.Controls && s.QueueSize > 0
}

// CanGoBack reports whether the prev control should be enabled.
func (s Snapshot) CanGoBack() bool {
	return s.Controls && s.HasPrevious
}
