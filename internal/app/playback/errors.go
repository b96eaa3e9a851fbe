package playback

import (
	"github.com/cockroachdb/errors"
)

// User-input errors. Never retried; session state is unchanged when returned.
var (
	ErrWrongChannel    = errors.New("command must come from the channel the session is bound to")
	ErrInvalidVolume   = errors.New("volume must be between 0 and 100")
	ErrIndexOutOfRange = errors.New("queue index out of range")
	ErrNotPlaying      = errors.New("nothing is playing")
	ErrNoPrevious      = errors.New("no previous track")
	ErrEmptyQueue      = errors.New("queue is empty")
	ErrInvalidState    = errors.New("invalid state for this command")
	ErrRejected        = errors.New("request rejected")
)

// Transient backend errors, returned after the retry budget is exhausted.
var (
	ErrResolutionFailed = errors.New("track resolution failed")
	ErrSinkStartFailed  = errors.New("audio sink failed to start")
)

// Lifecycle errors.
var (
	ErrSessionClosed = errors.New("session is closed")
	ErrStale         = errors.New("session changed while the request was in flight")
)

// kinds maps sentinels to stable names used by the API and CLI.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrWrongChannel, "wrong_channel"},
	{ErrInvalidVolume, "invalid_volume"},
	{ErrIndexOutOfRange, "index_out_of_range"},
	{ErrNotPlaying, "not_playing"},
	{ErrNoPrevious, "no_previous"},
	{ErrEmptyQueue, "empty_queue"},
	{ErrInvalidState, "invalid_state"},
	{ErrRejected, "rejected"},
	{ErrResolutionFailed, "resolution_failed"},
	{ErrSinkStartFailed, "sink_start_failed"},
	{ErrSessionClosed, "session_closed"},
	{ErrStale, "stale"},
}

// Kind returns the stable kind name of err, or "internal" if err is not a playback error.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsUserError reports whether err is caused by the command itself rather than a backend.
func IsUserError(err error) bool {
	switch Kind(err) {
	case "wrong_channel", "invalid_volume", "index_out_of_range", "not_playing",
		"no_previous", "empty_queue", "invalid_state", "rejected":
		return true
	}
	return false
}

// IsTransient reports whether err came from a backend that may succeed on a later call.
func IsTransient(err error) bool {
	switch Kind(err) {
	case "resolution_failed", "sink_start_failed":
		return true
	}
	return false
}
