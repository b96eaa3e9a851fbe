package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/voicebox/internal/app/notification"
)

// Client is a typed client for the playback service.
type Client struct {
	play              *connect.Client[PlayRequest, PlayResponse]
	skip              *connect.Client[RoomRequest, TrackResponse]
	prev              *connect.Client[RoomRequest, TrackResponse]
	pause             *connect.Client[RoomRequest, TrackResponse]
	resume            *connect.Client[RoomRequest, TrackResponse]
	stop              *connect.Client[RoomRequest, Empty]
	setVolume         *connect.Client[SetVolumeRequest, SetVolumeResponse]
	removeFromQueue   *connect.Client[RemoveFromQueueRequest, TrackResponse]
	queueView         *connect.Client[RoomRequest, QueueViewResponse]
	getStatus         *connect.Client[RoomRequest, RoomStatus]
	listRooms         *connect.Client[Empty, ListRoomsResponse]
	setAutoDisconnect *connect.Client[SetAutoDisconnectRequest, SetAutoDisconnectResponse]
	reportPresence    *connect.Client[ReportPresenceRequest, Empty]
	fave              *connect.Client[FaveRequest, FavoriteResponse]
	unfave            *connect.Client[UnfaveRequest, FavoriteResponse]
	listFavorites     *connect.Client[ListFavoritesRequest, ListFavoritesResponse]
	playLiked         *connect.Client[PlayLikedRequest, PlayLikedResponse]
	watchStatus       *connect.Client[WatchStatusRequest, notification.Notification]
}

// NewClient creates a playback client for the server at baseURL, authenticating with token.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(&tokenInterceptor{token: token}),
	}, opts...)

	return &Client{
		play:              connect.NewClient[PlayRequest, PlayResponse](httpClient, baseURL+PlayProcedure, opts...),
		skip:              connect.NewClient[RoomRequest, TrackResponse](httpClient, baseURL+SkipProcedure, opts...),
		prev:              connect.NewClient[RoomRequest, TrackResponse](httpClient, baseURL+PrevProcedure, opts...),
		pause:             connect.NewClient[RoomRequest, TrackResponse](httpClient, baseURL+PauseProcedure, opts...),
		resume:            connect.NewClient[RoomRequest, TrackResponse](httpClient, baseURL+ResumeProcedure, opts...),
		stop:              connect.NewClient[RoomRequest, Empty](httpClient, baseURL+StopProcedure, opts...),
		setVolume:         connect.NewClient[SetVolumeRequest, SetVolumeResponse](httpClient, baseURL+SetVolumeProcedure, opts...),
		removeFromQueue:   connect.NewClient[RemoveFromQueueRequest, TrackResponse](httpClient, baseURL+RemoveFromQueueProcedure, opts...),
		queueView:         connect.NewClient[RoomRequest, QueueViewResponse](httpClient, baseURL+QueueViewProcedure, opts...),
		getStatus:         connect.NewClient[RoomRequest, RoomStatus](httpClient, baseURL+GetStatusProcedure, opts...),
		listRooms:         connect.NewClient[Empty, ListRoomsResponse](httpClient, baseURL+ListRoomsProcedure, opts...),
		setAutoDisconnect: connect.NewClient[SetAutoDisconnectRequest, SetAutoDisconnectResponse](httpClient, baseURL+SetAutoDisconnectProcedure, opts...),
		reportPresence:    connect.NewClient[ReportPresenceRequest, Empty](httpClient, baseURL+ReportPresenceProcedure, opts...),
		fave:              connect.NewClient[FaveRequest, FavoriteResponse](httpClient, baseURL+FaveProcedure, opts...),
		unfave:            connect.NewClient[UnfaveRequest, FavoriteResponse](httpClient, baseURL+UnfaveProcedure, opts...),
		listFavorites:     connect.NewClient[ListFavoritesRequest, ListFavoritesResponse](httpClient, baseURL+ListFavoritesProcedure, opts...),
		playLiked:         connect.NewClient[PlayLikedRequest, PlayLikedResponse](httpClient, baseURL+PlayLikedProcedure, opts...),
		watchStatus:       connect.NewClient[WatchStatusRequest, notification.Notification](httpClient, baseURL+WatchStatusProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Play(ctx context.Context, req *PlayRequest) (*PlayResponse, error) {
	return call(ctx, c.play, req)
}

func (c *Client) Skip(ctx context.Context, roomID string) (*TrackResponse, error) {
	return call(ctx, c.skip, &RoomRequest{RoomID: roomID})
}

func (c *Client) Prev(ctx context.Context, roomID string) (*TrackResponse, error) {
	return call(ctx, c.prev, &RoomRequest{RoomID: roomID})
}

func (c *Client) Pause(ctx context.Context, roomID string) (*TrackResponse, error) {
	return call(ctx, c.pause, &RoomRequest{RoomID: roomID})
}

func (c *Client) Resume(ctx context.Context, roomID string) (*TrackResponse, error) {
	return call(ctx, c.resume, &RoomRequest{RoomID: roomID})
}

func (c *Client) Stop(ctx context.Context, roomID string) error {
	_, err := call(ctx, c.stop, &RoomRequest{RoomID: roomID})
	return err
}

func (c *Client) SetVolume(ctx context.Context, roomID string, percent int) (*SetVolumeResponse, error) {
	return call(ctx, c.setVolume, &SetVolumeRequest{RoomID: roomID, Percent: percent})
}

func (c *Client) RemoveFromQueue(ctx context.Context, roomID string, index int) (*TrackResponse, error) {
	return call(ctx, c.removeFromQueue, &RemoveFromQueueRequest{RoomID: roomID, Index: index})
}

func (c *Client) QueueView(ctx context.Context, roomID string) (*QueueViewResponse, error) {
	return call(ctx, c.queueView, &RoomRequest{RoomID: roomID})
}

func (c *Client) GetStatus(ctx context.Context, roomID string) (*RoomStatus, error) {
	return call(ctx, c.getStatus, &RoomRequest{RoomID: roomID})
}

func (c *Client) ListRooms(ctx context.Context) (*ListRoomsResponse, error) {
	return call(ctx, c.listRooms, &Empty{})
}

func (c *Client) SetAutoDisconnect(ctx context.Context, roomID string, enabled bool) (*SetAutoDisconnectResponse, error) {
	return call(ctx, c.setAutoDisconnect, &SetAutoDisconnectRequest{RoomID: roomID, Enabled: enabled})
}

func (c *Client) ReportPresence(ctx context.Context, req *ReportPresenceRequest) error {
	_, err := call(ctx, c.reportPresence, req)
	return err
}

func (c *Client) Fave(ctx context.Context, roomID, userID string) (*FavoriteResponse, error) {
	return call(ctx, c.fave, &FaveRequest{RoomID: roomID, UserID: userID})
}

func (c *Client) Unfave(ctx context.Context, userID string, index int) (*FavoriteResponse, error) {
	return call(ctx, c.unfave, &UnfaveRequest{UserID: userID, Index: index})
}

func (c *Client) ListFavorites(ctx context.Context, userID string) (*ListFavoritesResponse, error) {
	return call(ctx, c.listFavorites, &ListFavoritesRequest{UserID: userID})
}

func (c *Client) PlayLiked(ctx context.Context, req *PlayLikedRequest) (*PlayLikedResponse, error) {
	return call(ctx, c.playLiked, req)
}

// WatchStatus opens a status stream. The caller must Close the returned stream.
func (c *Client) WatchStatus(ctx context.Context, roomID string) (*connect.ServerStreamForClient[notification.Notification], error) {
	return c.watchStatus.CallServerStream(ctx, connect.NewRequest(&WatchStatusRequest{RoomID: roomID}))
}
