// Package ws pushes room status notifications to websocket clients, such as browser overlays.
package ws

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/notification"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	bufferSize = 32
)

var errBufferFull = errors.New("websocket send buffer full")

// Source provides notifications to forward.
type Source interface {
	Subscribe(roomID string, stream notification.Stream) string
	Unsubscribe(subscriptionID string)
	Latest(roomID string) (*notification.Notification, bool)
}

// Handler serves the status websocket. Clients pick a room with the "room" query
// parameter; without it they receive every room.
type Handler struct {
	source   Source
	token    string
	done     <-chan struct{}
	upgrader websocket.Upgrader
}

// NewHandler creates a status websocket handler. When token is non-empty, clients must
// pass it in the "token" query parameter. Connections end when done is closed.
func NewHandler(source Source, token string, done <-chan struct{}) *Handler {
	return &Handler{
		source: source,
		token:  token,
		done:   done,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Overlays are served from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(h.token)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := r.URL.Query().Get("room")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Debug().Msgf("ws: upgrade failed: error=%v", err)
		return
	}
	defer conn.Close()

	queue := &queueStream{ch: make(chan *notification.Notification, bufferSize)}
	if roomID != "" {
		if n, ok := h.source.Latest(roomID); ok {
			_ = queue.Send(n)
		}
	}
	subscriptionID := h.source.Subscribe(roomID, queue)
	defer h.source.Unsubscribe(subscriptionID)
	zlog.Debug().Msgf("ws: client connected: room=%q remote=%s", roomID, r.RemoteAddr)

	// Drain incoming messages so pongs and close frames are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			zlog.Debug().Msgf("ws: client disconnected: room=%q remote=%s", roomID, r.RemoteAddr)
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case n := <-queue.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				zlog.Debug().Msgf("ws: write failed: room=%q error=%v", roomID, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// queueStream buffers notifications for the connection's write loop.
// It never blocks the broadcaster; a client that falls behind misses notifications.
type queueStream struct {
	ch chan *notification.Notification
}

func (q *queueStream) Send(n *notification.Notification) error {
	select {
	case q.ch <- n:
		return nil
	default:
		return errBufferFull
	}
}
