package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/app/filter"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/session"
)

const (
	// ErrorKindHeader carries the stable error kind, such as "wrong_channel".
	ErrorKindHeader = "Voicebox-Error-Kind"
	// RejectionCodeHeader carries the filter code when the kind is "rejected".
	RejectionCodeHeader = "Voicebox-Rejection-Code"
)

// codeFor maps a session error of the given kind to a connect code.
// User errors with a bad argument are InvalidArgument, the rest FailedPrecondition.
func codeFor(err error, kind string) connect.Code {
	switch {
	case kind == "no_session":
		return connect.CodeNotFound
	case kind == "stale":
		return connect.CodeAborted
	case playback.IsTransient(err):
		return connect.CodeUnavailable
	case kind == "wrong_channel", kind == "invalid_volume", kind == "index_out_of_range":
		return connect.CodeInvalidArgument
	case playback.IsUserError(err),
		kind == "session_closed", kind == "favorites_disabled", kind == "no_favorites":
		return connect.CodeFailedPrecondition
	default:
		return connect.CodeInternal
	}
}

// toConnectError converts a session error to a connect error whose message is the
// user-facing text and whose metadata carries the kind.
func (s *PlaybackService) toConnectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}

	kind := session.ErrorKind(err)
	connectErr := connect.NewError(codeFor(err, kind), errors.New(s.session.Message(err)))
	connectErr.Meta().Set(ErrorKindHeader, kind)
	if code := filter.RejectionCode(err); code != "" {
		connectErr.Meta().Set(RejectionCodeHeader, code)
	}
	return connectErr
}

// ErrorKind returns the error kind the server attached to err, or "" if there is none.
func ErrorKind(err error) string {
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		return ""
	}
	return connectErr.Meta().Get(ErrorKindHeader)
}

// RejectionCode returns the filter code the server attached to err, or "" if there is none.
func RejectionCode(err error) string {
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		return ""
	}
	return connectErr.Meta().Get(RejectionCodeHeader)
}

// ErrorMessage returns the user-facing message of err.
func ErrorMessage(err error) string {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr.Message()
	}
	return err.Error()
}
