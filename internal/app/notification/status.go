package notification

import (
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
)

// Track is the display form of a track.
type Track struct {
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	URL         string `json:"url,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	DurationSec int64  `json:"duration_sec,omitempty"`
}

// NewTrack converts a track for display.
func NewTrack(t track.Source) Track {
	return Track{
		Title:       t.Title,
		Author:      t.Author,
		URL:         t.URL,
		Thumbnail:   t.ThumbnailURL,
		DurationSec: int64(t.Duration.Seconds()),
	}
}

func newTrackPtr(t *track.Source) *Track {
	if t == nil {
		return nil
	}
	v := NewTrack(*t)
	return &v
}

// Status is the rendered player of a room: now playing, next up and which controls are enabled.
type Status struct {
	RoomID        string `json:"room_id"`
	Channel       string `json:"channel"`
	Handle        string `json:"handle,omitempty"`
	State         string `json:"state"`
	Playing       bool   `json:"playing"`
	Current       *Track `json:"current,omitempty"`
	Next          *Track `json:"next,omitempty"`
	QueueSize     int    `json:"queue_size"`
	VolumePercent int    `json:"volume_percent"`
	Controls      bool   `json:"controls"`
	CanSkip       bool   `json:"can_skip"`
	CanGoBack     bool   `json:"can_go_back"`
	Closed        bool   `json:"closed,omitempty"`
}

// NewStatus converts a session snapshot for display.
func NewStatus(snap playback.Snapshot) Status {
	return Status{
		RoomID:        snap.RoomID,
		Channel:       snap.Channel,
		Handle:        snap.Handle,
		State:         snap.State.String(),
		Playing:       snap.IsPlaying,
		Current:       newTrackPtr(snap.Current),
		Next:          newTrackPtr(snap.Next),
		QueueSize:     snap.QueueSize,
		VolumePercent: snap.VolumePercent(),
		Controls:      snap.Controls,
		CanSkip:       snap.CanSkip(),
		CanGoBack:     snap.CanGoBack(),
		Closed:        snap.Closed,
	}
}
