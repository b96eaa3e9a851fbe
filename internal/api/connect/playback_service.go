package connect

import (
	"context"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/domain/track"
)

// PlaybackService implements the PlaybackService RPCs on top of the session manager.
type PlaybackService struct {
	session *session.Manager
}

// NewPlaybackService creates a new PlaybackService.
func NewPlaybackService(session *session.Manager) *PlaybackService {
	return &PlaybackService{session: session}
}

// Play resolves a query and starts or queues it.
func (s *PlaybackService) Play(
	ctx context.Context,
	req *connect.Request[PlayRequest],
) (*connect.Response[PlayResponse], error) {
	if req.Msg.RoomID == "" || req.Msg.Query == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("room_id and query are required"))
	}

	result, err := s.session.Play(ctx, req.Msg.RoomID, req.Msg.Channel, req.Msg.Query)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(newPlayResponse(result)), nil
}

// Skip stops the current track and plays the next one.
func (s *PlaybackService) Skip(
	ctx context.Context,
	req *connect.Request[RoomRequest],
) (*connect.Response[TrackResponse], error) {
	return s.trackCommand(req.Msg.RoomID, s.session.Skip)
}

// Prev plays the last track again.
func (s *PlaybackService) Prev(
	ctx context.Context,
	req *connect.Request[RoomRequest],
) (*connect.Response[TrackResponse], error) {
	return s.trackCommand(req.Msg.RoomID, s.session.Prev)
}

// Pause pauses the current track.
func (s *PlaybackService) Pause(
	ctx context.Context,
	req *connect.Request[RoomRequest],
) (*connect.Response[TrackResponse], error) {
	return s.trackCommand(req.Msg.RoomID, s.session.Pause)
}

// Resume resumes the paused track.
func (s *PlaybackService) Resume(
	ctx context.Context,
	req *connect.Request[RoomRequest],
) (*connect.Response[TrackResponse], error) {
	return s.trackCommand(req.Msg.RoomID, s.session.Resume)
}

func (s *PlaybackService) trackCommand(roomID string, cmd func(string) (track.Source, error)) (*connect.Response[TrackResponse], error) {
	t, err := cmd(roomID)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&TrackResponse{Track: notification.NewTrack(t)}), nil
}

// Stop tears down the room's session.
func (s *PlaybackService) Stop(
	ctx context.Context,
	req *connect.Request[RoomRequest],
) (*connect.Response[Empty], error) {
	if err := s.session.Stop(req.Msg.RoomID); err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// SetVolume sets the room's volume in percent.
func (s *PlaybackService) SetVolume(
	ctx context.Context,
	req *connect.Request[SetVolumeRequest],
) (*connect.Response[SetVolumeResponse], error) {
	percent, err := s.session.SetVolume(req.Msg.RoomID, req.Msg.Percent)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&SetVolumeResponse{Percent: percent}), nil
}

// RemoveFromQueue removes the track at a 1-based queue position.
func (s *PlaybackService) RemoveFromQueue(
	ctx context.Context,
	req *connect.Request[RemoveFromQueueRequest],
) (*connect.Response[TrackResponse], error) {
	t, err := s.session.RemoveFromQueue(req.Msg.RoomID, req.Msg.Index)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&TrackResponse{Track: notification.NewTrack(t)}), nil
}

// QueueView returns the room's current, last and queued tracks.
func (s *PlaybackService) QueueView(
	ctx context.Context,
	req *connect.Request[RoomRequest],
) (*connect.Response[QueueViewResponse], error) {
	view, err := s.session.QueueView(req.Msg.RoomID)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(newQueueView(view)), nil
}

// GetStatus returns the admin status of one room.
func (s *PlaybackService) GetStatus(
	ctx context.Context,
	req *connect.Request[RoomRequest],
) (*connect.Response[RoomStatus], error) {
	status, err := s.session.GetStatus(req.Msg.RoomID)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	resp := newRoomStatus(status)
	return connect.NewResponse(&resp), nil
}

// ListRooms returns the status of every room with a session.
func (s *PlaybackService) ListRooms(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[ListRoomsResponse], error) {
	statuses := s.session.ListRooms()
	rooms := make([]RoomStatus, len(statuses))
	for i, status := range statuses {
		rooms[i] = newRoomStatus(status)
	}
	return connect.NewResponse(&ListRoomsResponse{Rooms: rooms}), nil
}

// SetAutoDisconnect overrides the room's auto-disconnect switch.
func (s *PlaybackService) SetAutoDisconnect(
	ctx context.Context,
	req *connect.Request[SetAutoDisconnectRequest],
) (*connect.Response[SetAutoDisconnectResponse], error) {
	if req.Msg.RoomID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("room_id is required"))
	}
	policy := s.session.SetAutoDisconnect(req.Msg.RoomID, req.Msg.Enabled)
	return connect.NewResponse(&SetAutoDisconnectResponse{
		RoomID: req.Msg.RoomID,
		Policy: newPolicy(policy),
	}), nil
}

// ReportPresence feeds a room occupancy change to the presence monitor.
func (s *PlaybackService) ReportPresence(
	ctx context.Context,
	req *connect.Request[ReportPresenceRequest],
) (*connect.Response[Empty], error) {
	if req.Msg.RoomID == "" || req.Msg.Count < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("room_id and a non-negative count are required"))
	}
	s.session.ReportPresence(req.Msg.RoomID, req.Msg.Count, req.Msg.IsSelf)
	return connect.NewResponse(&Empty{}), nil
}

// Fave saves the room's current track to the user's favorites.
func (s *PlaybackService) Fave(
	ctx context.Context,
	req *connect.Request[FaveRequest],
) (*connect.Response[FavoriteResponse], error) {
	fav, err := s.session.Fave(ctx, req.Msg.RoomID, req.Msg.UserID)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&FavoriteResponse{Favorite: newFavorite(0, fav)}), nil
}

// Unfave removes a favorite by 1-based index.
func (s *PlaybackService) Unfave(
	ctx context.Context,
	req *connect.Request[UnfaveRequest],
) (*connect.Response[FavoriteResponse], error) {
	fav, err := s.session.Unfave(ctx, req.Msg.UserID, req.Msg.Index)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&FavoriteResponse{Favorite: newFavorite(req.Msg.Index, fav)}), nil
}

// ListFavorites returns the user's favorites in order.
func (s *PlaybackService) ListFavorites(
	ctx context.Context,
	req *connect.Request[ListFavoritesRequest],
) (*connect.Response[ListFavoritesResponse], error) {
	list, err := s.session.ListFavorites(ctx, req.Msg.UserID)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	favs := make([]Favorite, len(list))
	for i, f := range list {
		favs[i] = newFavorite(i+1, f)
	}
	return connect.NewResponse(&ListFavoritesResponse{Favorites: favs}), nil
}

// PlayLiked plays one favorite, or all of them when index is 0.
func (s *PlaybackService) PlayLiked(
	ctx context.Context,
	req *connect.Request[PlayLikedRequest],
) (*connect.Response[PlayLikedResponse], error) {
	results, err := s.session.PlayLiked(ctx, req.Msg.RoomID, req.Msg.Channel, req.Msg.UserID, req.Msg.Index)
	if err != nil && len(results) == 0 {
		return nil, s.toConnectError(err)
	}
	if err != nil {
		zlog.Warn().Msgf("play liked stopped early: room=%s user=%s played=%d error=%v", req.Msg.RoomID, req.Msg.UserID, len(results), err)
	}

	resp := &PlayLikedResponse{Results: make([]LikedResult, len(results))}
	for i, r := range results {
		index := req.Msg.Index
		if index == 0 {
			index = i + 1
		}
		lr := LikedResult{Favorite: newFavorite(index, r.Favorite)}
		if r.Err != nil {
			lr.ErrorKind = session.ErrorKind(r.Err)
			lr.Message = s.session.Message(r.Err)
		} else {
			lr.Result = newPlayResponse(r.Result)
		}
		resp.Results[i] = lr
	}
	return connect.NewResponse(resp), nil
}

// WatchStatus streams status updates and notices for one room, or every room.
// The last known status of each watched room is sent first. Updates may race with it,
// so clients keep the notification with the highest sequence number per room.
func (s *PlaybackService) WatchStatus(
	ctx context.Context,
	req *connect.Request[WatchStatusRequest],
	stream *connect.ServerStream[notification.Notification],
) error {
	notifManager := s.session.Notifications()

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(req.Msg.RoomID, adapter)
	defer func() {
		notifManager.Unsubscribe(subscriptionID)
		adapter.close()
	}()

	for _, n := range s.latest(req.Msg.RoomID) {
		if err := adapter.Send(n); err != nil {
			return err
		}
	}

	// Wait for context cancellation or manager shutdown
	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	return nil
}

// latest returns the last rendered status of the watched rooms.
func (s *PlaybackService) latest(roomID string) []*notification.Notification {
	notifManager := s.session.Notifications()

	var roomIDs []string
	if roomID != "" {
		roomIDs = []string{roomID}
	} else {
		for _, status := range s.session.ListRooms() {
			roomIDs = append(roomIDs, status.Snapshot.RoomID)
		}
	}

	var result []*notification.Notification
	for _, id := range roomIDs {
		if n, ok := notifManager.Latest(id); ok {
			result = append(result, n)
		}
	}
	return result
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Broadcasts for different rooms may arrive concurrently, and a stream must not be
// written after its handler returns.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
	closed bool
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("stream closed")
	}
	return a.stream.Send(n)
}

func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
