// Package httpapi assembles the HTTP router that serves the RPC API, metrics and the status websocket.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/infra/metrics"
)

// Options configures the router.
type Options struct {
	RPCPath     string       // Mount path returned by the connect handler constructor
	RPCHandler  http.Handler // Connect playback service
	Status      http.Handler // Status websocket, optional
	StatusPath  string
	Metrics     *metrics.Metrics // Optional
	MetricsPath string
}

// NewRouter creates the HTTP router.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if opts.RPCHandler != nil {
		r.Handle(opts.RPCPath+"*", opts.RPCHandler)
	}
	if opts.Metrics != nil && opts.MetricsPath != "" {
		r.Handle(opts.MetricsPath, opts.Metrics.Handler())
	}
	if opts.Status != nil && opts.StatusPath != "" {
		r.Handle(opts.StatusPath, opts.Status)
	}

	return r
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		zlog.Debug().Msgf("http: method=%s path=%s status=%d bytes=%d duration=%v request_id=%s",
			r.Method, r.URL.Path, wrapped.Status(), wrapped.BytesWritten(), time.Since(start),
			middleware.GetReqID(r.Context()))
	})
}
