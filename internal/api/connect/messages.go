package connect

import (
	"time"

	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/favorites"
	"github.com/osa030/voicebox/internal/infra/roomsettings"
)

// Track is the wire form of a track.
type Track = notification.Track

// Empty is used by RPCs without a payload.
type Empty struct{}

// RoomRequest addresses a room.
type RoomRequest struct {
	RoomID string `json:"room_id"`
}

type PlayRequest struct {
	RoomID  string `json:"room_id"`
	Channel string `json:"channel"`
	Query   string `json:"query"`
}

type PlayResponse struct {
	Track    Track `json:"track"`
	Started  bool  `json:"started"`
	Position int   `json:"position,omitempty"` // 1-based queue position when queued
}

// TrackResponse returns the track a command acted on.
type TrackResponse struct {
	Track Track `json:"track"`
}

type SetVolumeRequest struct {
	RoomID  string `json:"room_id"`
	Percent int    `json:"percent"`
}

type SetVolumeResponse struct {
	Percent int `json:"percent"`
}

type RemoveFromQueueRequest struct {
	RoomID string `json:"room_id"`
	Index  int    `json:"index"` // 1-based queue position
}

type QueueViewResponse struct {
	RoomID        string  `json:"room_id"`
	Channel       string  `json:"channel"`
	State         string  `json:"state"`
	Current       *Track  `json:"current,omitempty"`
	Last          *Track  `json:"last,omitempty"`
	Items         []Track `json:"items"`
	VolumePercent int     `json:"volume_percent"`
}

// RoomStatus is the admin view of one room.
type RoomStatus struct {
	Status         notification.Status `json:"status"`
	Queue          []Track             `json:"queue"`
	Last           *Track              `json:"last,omitempty"`
	Occupancy      int                 `json:"occupancy"`
	OccupancyKnown bool                `json:"occupancy_known"`
	Policy         Policy              `json:"policy"`
}

// Policy is the auto-disconnect policy of a room.
type Policy struct {
	AutoDisconnect bool `json:"auto_disconnect"`
	GracePeriodSec int  `json:"grace_period_sec"`
}

type ListRoomsResponse struct {
	Rooms []RoomStatus `json:"rooms"`
}

type SetAutoDisconnectRequest struct {
	RoomID  string `json:"room_id"`
	Enabled bool   `json:"enabled"`
}

type SetAutoDisconnectResponse struct {
	RoomID string `json:"room_id"`
	Policy Policy `json:"policy"`
}

type ReportPresenceRequest struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`   // Members in the room including the bot
	IsSelf bool   `json:"is_self"` // The event is about the bot itself
}

// Favorite is the wire form of a saved track.
type Favorite struct {
	Index       int       `json:"index,omitempty"` // 1-based position in the user's list
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	URL         string    `json:"url,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	DurationSec int64     `json:"duration_sec,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type FaveRequest struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type UnfaveRequest struct {
	UserID string `json:"user_id"`
	Index  int    `json:"index"` // 1-based
}

type FavoriteResponse struct {
	Favorite Favorite `json:"favorite"`
}

type ListFavoritesRequest struct {
	UserID string `json:"user_id"`
}

type ListFavoritesResponse struct {
	Favorites []Favorite `json:"favorites"`
}

type PlayLikedRequest struct {
	RoomID  string `json:"room_id"`
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
	Index   int    `json:"index"` // 1-based, 0 plays the whole list
}

// LikedResult is the outcome of one favorite in PlayLiked.
type LikedResult struct {
	Favorite  Favorite      `json:"favorite"`
	Result    *PlayResponse `json:"result,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type PlayLikedResponse struct {
	Results []LikedResult `json:"results"`
}

// WatchStatusRequest subscribes to status updates. An empty RoomID watches every room.
type WatchStatusRequest struct {
	RoomID string `json:"room_id"`
}

func newTrackPtr(t *track.Source) *Track {
	if t == nil {
		return nil
	}
	v := notification.NewTrack(*t)
	return &v
}

func newTracks(items []track.Source) []Track {
	result := make([]Track, len(items))
	for i, t := range items {
		result[i] = notification.NewTrack(t)
	}
	return result
}

func newPlayResponse(r playback.PlayResult) *PlayResponse {
	return &PlayResponse{
		Track:    notification.NewTrack(r.Track),
		Started:  r.Started,
		Position: r.Position,
	}
}

func newQueueView(v playback.View) *QueueViewResponse {
	return &QueueViewResponse{
		RoomID:        v.RoomID,
		Channel:       v.Channel,
		State:         v.State.String(),
		Current:       newTrackPtr(v.Current),
		Last:          newTrackPtr(v.Last),
		Items:         newTracks(v.Items),
		VolumePercent: int(v.Volume*100 + 0.5),
	}
}

func newPolicy(p roomsettings.Policy) Policy {
	return Policy{
		AutoDisconnect: p.AutoDisconnect,
		GracePeriodSec: int(p.GracePeriod / time.Second),
	}
}

func newRoomStatus(s *session.RoomStatus) RoomStatus {
	return RoomStatus{
		Status:         notification.NewStatus(s.Snapshot),
		Queue:          newTracks(s.Queue),
		Last:           newTrackPtr(s.Last),
		Occupancy:      s.Occupancy,
		OccupancyKnown: s.OccupancyKnown,
		Policy:         newPolicy(s.Policy),
	}
}

func newFavorite(index int, f favorites.Favorite) Favorite {
	return Favorite{
		Index:       index,
		Title:       f.Title,
		Author:      f.Author,
		URL:         f.URL,
		Thumbnail:   f.Thumbnail,
		DurationSec: f.DurationMs / 1000,
		CreatedAt:   f.CreatedAt,
	}
}
