package playback

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		user      bool
		transient bool
	}{
		{"nil", nil, "", false, false},
		{"wrong channel", ErrWrongChannel, "wrong_channel", true, false},
		{"wrapped invalid volume", errors.Wrap(ErrInvalidVolume, "set volume"), "invalid_volume", true, false},
		{"rejected with code", errors.Wrapf(ErrRejected, "%s", "duration_limit"), "rejected", true, false},
		{"marked resolution failure", errors.Mark(errors.New("timeout"), ErrResolutionFailed), "resolution_failed", false, true},
		{"sink start", ErrSinkStartFailed, "sink_start_failed", false, true},
		{"closed", ErrSessionClosed, "session_closed", false, false},
		{"stale", ErrStale, "stale", false, false},
		{"unknown", errors.New("boom"), "internal", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.Equal(t, tt.user, IsUserError(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}
