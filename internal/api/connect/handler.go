package connect

import (
	"net/http"

	"connectrpc.com/connect"
)

// PlaybackServiceName is the fully-qualified name of the playback service.
const PlaybackServiceName = "voicebox.v1.PlaybackService"

// Procedure paths of the playback service.
const (
	PlayProcedure              = "/" + PlaybackServiceName + "/Play"
	SkipProcedure              = "/" + PlaybackServiceName + "/Skip"
	PrevProcedure              = "/" + PlaybackServiceName + "/Prev"
	PauseProcedure             = "/" + PlaybackServiceName + "/Pause"
	ResumeProcedure            = "/" + PlaybackServiceName + "/Resume"
	StopProcedure              = "/" + PlaybackServiceName + "/Stop"
	SetVolumeProcedure         = "/" + PlaybackServiceName + "/SetVolume"
	RemoveFromQueueProcedure   = "/" + PlaybackServiceName + "/RemoveFromQueue"
	QueueViewProcedure         = "/" + PlaybackServiceName + "/QueueView"
	GetStatusProcedure         = "/" + PlaybackServiceName + "/GetStatus"
	ListRoomsProcedure         = "/" + PlaybackServiceName + "/ListRooms"
	SetAutoDisconnectProcedure = "/" + PlaybackServiceName + "/SetAutoDisconnect"
	ReportPresenceProcedure    = "/" + PlaybackServiceName + "/ReportPresence"
	FaveProcedure              = "/" + PlaybackServiceName + "/Fave"
	UnfaveProcedure            = "/" + PlaybackServiceName + "/Unfave"
	ListFavoritesProcedure     = "/" + PlaybackServiceName + "/ListFavorites"
	PlayLikedProcedure         = "/" + PlaybackServiceName + "/PlayLiked"
	WatchStatusProcedure       = "/" + PlaybackServiceName + "/WatchStatus"
)

// NewPlaybackServiceHandler builds an HTTP handler for every playback RPC. It returns the
// path on which to mount the handler and the handler itself.
func NewPlaybackServiceHandler(svc *PlaybackService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	handlers := map[string]http.Handler{
		PlayProcedure:              connect.NewUnaryHandler(PlayProcedure, svc.Play, opts...),
		SkipProcedure:              connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...),
		PrevProcedure:              connect.NewUnaryHandler(PrevProcedure, svc.Prev, opts...),
		PauseProcedure:             connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...),
		ResumeProcedure:            connect.NewUnaryHandler(ResumeProcedure, svc.Resume, opts...),
		StopProcedure:              connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...),
		SetVolumeProcedure:         connect.NewUnaryHandler(SetVolumeProcedure, svc.SetVolume, opts...),
		RemoveFromQueueProcedure:   connect.NewUnaryHandler(RemoveFromQueueProcedure, svc.RemoveFromQueue, opts...),
		QueueViewProcedure:         connect.NewUnaryHandler(QueueViewProcedure, svc.QueueView, opts...),
		GetStatusProcedure:         connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...),
		ListRoomsProcedure:         connect.NewUnaryHandler(ListRoomsProcedure, svc.ListRooms, opts...),
		SetAutoDisconnectProcedure: connect.NewUnaryHandler(SetAutoDisconnectProcedure, svc.SetAutoDisconnect, opts...),
		ReportPresenceProcedure:    connect.NewUnaryHandler(ReportPresenceProcedure, svc.ReportPresence, opts...),
		FaveProcedure:              connect.NewUnaryHandler(FaveProcedure, svc.Fave, opts...),
		UnfaveProcedure:            connect.NewUnaryHandler(UnfaveProcedure, svc.Unfave, opts...),
		ListFavoritesProcedure:     connect.NewUnaryHandler(ListFavoritesProcedure, svc.ListFavorites, opts...),
		PlayLikedProcedure:         connect.NewUnaryHandler(PlayLikedProcedure, svc.PlayLiked, opts...),
		WatchStatusProcedure:       connect.NewServerStreamHandler(WatchStatusProcedure, svc.WatchStatus, opts...),
	}

	return "/" + PlaybackServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}
