package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
)

type nopResolver struct{}

func (nopResolver) Resolve(_ context.Context, query string) (track.Source, error) {
	return track.Source{Locator: query, Title: query}, nil
}

type nopSink struct{}

func (nopSink) Start(context.Context, string, float64, func(error)) error { return nil }
func (nopSink) Stop() error                                               { return nil }
func (nopSink) Pause() error                                              { return nil }
func (nopSink) Resume() error                                             { return nil }
func (nopSink) SetVolume(float64) error                                   { return nil }
func (nopSink) IsActive() bool                                            { return false }

func newTestRooms() *Rooms {
	return NewRooms(func(roomID, channel string) *playback.Session {
		return playback.NewSession(playback.Options{
			RoomID:   roomID,
			Channel:  channel,
			Resolver: nopResolver{},
			Sink:     nopSink{},
		})
	})
}

func TestRooms_GetOrCreate(t *testing.T) {
	r := newTestRooms()
	defer r.CloseAll()

	s1, created := r.GetOrCreate("room-1", "general")
	require.True(t, created)
	assert.Equal(t, "general", s1.Channel())

	// Channel is ignored for an existing session
	s2, created := r.GetOrCreate("room-1", "other")
	assert.False(t, created)
	assert.Same(t, s1, s2)
	assert.Equal(t, "general", s2.Channel())

	assert.Equal(t, 1, r.Count())
}

func TestRooms_Get(t *testing.T) {
	r := newTestRooms()
	defer r.CloseAll()

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNoSession)

	created, _ := r.GetOrCreate("room-1", "general")
	got, err := r.Get("room-1")
	require.NoError(t, err)
	assert.Same(t, created, got)
}

func TestRooms_Close(t *testing.T) {
	r := newTestRooms()

	s, _ := r.GetOrCreate("room-1", "general")
	require.NoError(t, r.Close("room-1"))

	_, err := r.Get("room-1")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = s.Play(context.Background(), "general", "a")
	assert.ErrorIs(t, err, playback.ErrSessionClosed)

	// Unknown rooms are a no-op
	assert.NoError(t, r.Close("room-1"))

	// A new session can be created after close
	s2, created := r.GetOrCreate("room-1", "other")
	assert.True(t, created)
	assert.NotSame(t, s, s2)
	r.CloseAll()
}

func TestRooms_ConcurrentGetOrCreate(t *testing.T) {
	r := newTestRooms()
	defer r.CloseAll()

	var wg sync.WaitGroup
	results := make([]*playback.Session, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.GetOrCreate("room-1", "general")
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
	}
	assert.Equal(t, 1, r.Count())
}

func TestRooms_IDsSorted(t *testing.T) {
	r := newTestRooms()
	defer r.CloseAll()

	r.GetOrCreate("b", "c1")
	r.GetOrCreate("a", "c2")
	assert.Equal(t, []string{"a", "b"}, r.IDs())
	assert.Equal(t, 2, r.Count())
}
