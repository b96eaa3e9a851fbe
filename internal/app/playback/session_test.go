package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/domain/track"
)

const testChannel = "general"

// fakeResolver resolves every query to a track titled after the query.
type fakeResolver struct {
	mu    sync.Mutex
	errs  []error // consumed one per call
	calls int
	gate  chan struct{}
}

func (f *fakeResolver) Resolve(ctx context.Context, query string) (track.Source, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return track.Source{}, ctx.Err()
		}
	}
	if err != nil {
		return track.Source{}, err
	}
	return track.Source{Locator: "stream://" + query, Title: query}, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSink reports completion asynchronously when stopped.
type fakeSink struct {
	mu         sync.Mutex
	startErrs  []error // consumed one per Start
	stopErr    error
	active     bool
	paused     bool
	volume     float64
	started    []string
	stops      int
	onComplete func(error)
}

func (f *fakeSink) Start(_ context.Context, locator string, volume float64, onComplete func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return err
		}
	}
	f.active = true
	f.paused = false
	f.volume = volume
	f.started = append(f.started, locator)
	f.onComplete = onComplete
	return nil
}

func (f *fakeSink) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	cb := f.onComplete
	f.onComplete = nil
	f.active = false
	f.paused = false
	if cb != nil {
		go cb(nil)
	}
	return nil
}

func (f *fakeSink) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeSink) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeSink) SetVolume(volume float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = volume
	return nil
}

func (f *fakeSink) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// end simulates the current stream finishing on its own.
func (f *fakeSink) end(err error) {
	f.mu.Lock()
	cb := f.onComplete
	f.onComplete = nil
	f.active = false
	f.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

func (f *fakeSink) callback() func(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onComplete
}

func (f *fakeSink) startedLocators() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

type fakeDisplay struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (f *fakeDisplay) Render(_ context.Context, snap Snapshot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return "msg-1", nil
}

func (f *fakeDisplay) rendered() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Snapshot(nil), f.snaps...)
}

type rejectAll struct{}

func (rejectAll) Admit(context.Context, track.Source, View) error {
	return errors.Wrapf(ErrRejected, "%s", "test_filter")
}

type testEnv struct {
	session  *Session
	sink     *fakeSink
	resolver *fakeResolver
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	env := &testEnv{
		sink:     &fakeSink{},
		resolver: &fakeResolver{},
	}
	opts := Options{
		RoomID:   "room-1",
		Channel:  testChannel,
		Resolver: env.resolver,
		Sink:     env.sink,
		Config: Config{
			ResolveTimeout:   time.Second,
			SinkStartTimeout: time.Second,
			DisplayTimeout:   time.Second,
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.session = NewSession(opts)
	t.Cleanup(func() { _ = env.session.Close() })
	return env
}

func (e *testEnv) play(t *testing.T, query string) PlayResult {
	t.Helper()
	result, err := e.session.Play(context.Background(), testChannel, query)
	require.NoError(t, err)
	return result
}

func (e *testEnv) waitCurrent(t *testing.T, title string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		cur, ok := e.session.Current()
		return ok && cur.Title == title && e.session.State() == StatePlaying
	}, time.Second, 5*time.Millisecond)
}

func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return e.session.State() == StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestSession_PlayWhenIdleStarts(t *testing.T) {
	env := newTestEnv(t, nil)

	result := env.play(t, "a")
	assert.True(t, result.Started)
	assert.Equal(t, "a", result.Track.Title)
	assert.Equal(t, "a", result.Track.Query)

	assert.Equal(t, StatePlaying, env.session.State())
	assert.True(t, env.session.IsPlaying())
	assert.Equal(t, []string{"stream://a"}, env.sink.startedLocators())
}

func TestSession_PlayWhilePlayingQueues(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	b := env.play(t, "b")
	c := env.play(t, "c")

	assert.False(t, b.Started)
	assert.Equal(t, 1, b.Position)
	assert.Equal(t, 2, c.Position)

	view := env.session.QueueView()
	require.NotNil(t, view.Current)
	assert.Equal(t, "a", view.Current.Title)
	assert.Equal(t, []string{"b", "c"}, titles(view.Items))
	assert.Len(t, env.sink.startedLocators(), 1)
}

func TestSession_PlayWrongChannel(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.session.Play(context.Background(), "other", "a")
	assert.ErrorIs(t, err, ErrWrongChannel)
	assert.Equal(t, 0, env.resolver.callCount())
	assert.Equal(t, StateIdle, env.session.State())
}

func TestSession_NaturalEndAdvances(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	env.play(t, "b")

	env.sink.end(nil)
	env.waitCurrent(t, "b")

	view := env.session.QueueView()
	require.NotNil(t, view.Last)
	assert.Equal(t, "a", view.Last.Title)
	assert.Empty(t, view.Items)

	env.sink.end(nil)
	env.waitIdle(t)

	_, ok := env.session.Current()
	assert.False(t, ok)
	assert.True(t, env.session.IsIdle())
	assert.Equal(t, "b", env.session.QueueView().Last.Title)
}

func TestSession_Skip(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	env.play(t, "b")

	skipped, err := env.session.Skip()
	require.NoError(t, err)
	assert.Equal(t, "a", skipped.Title)

	env.waitCurrent(t, "b")
	assert.Equal(t, "a", env.session.QueueView().Last.Title)
	assert.Equal(t, []string{"stream://a", "stream://b"}, env.sink.startedLocators())
}

func TestSession_SkipLastTrackGoesIdle(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	_, err := env.session.Skip()
	require.NoError(t, err)

	env.waitIdle(t)
	assert.Equal(t, "a", env.session.QueueView().Last.Title)
}

func TestSession_SkipRequiresPlaying(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.session.Skip()
	assert.ErrorIs(t, err, ErrNotPlaying)

	env.play(t, "a")
	_, err = env.session.Pause()
	require.NoError(t, err)

	_, err = env.session.Skip()
	assert.ErrorIs(t, err, ErrNotPlaying)
	assert.Equal(t, StatePaused, env.session.State())
}

func TestSession_SkipWhenSinkStopFails(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	env.play(t, "b")
	env.sink.stopErr = errors.New("device busy")

	_, err := env.session.Skip()
	require.NoError(t, err)

	// Completed locally without waiting for a callback.
	cur, ok := env.session.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.Title)
	assert.Equal(t, StatePlaying, env.session.State())
}

func TestSession_Prev(t *testing.T) {
	t.Run("no previous track", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.session.Prev()
		assert.ErrorIs(t, err, ErrNoPrevious)
	})

	t.Run("while playing", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.play(t, "a")
		env.play(t, "b")
		env.sink.end(nil)
		env.waitCurrent(t, "b")

		prev, err := env.session.Prev()
		require.NoError(t, err)
		assert.Equal(t, "a", prev.Title)

		env.waitCurrent(t, "a")
		view := env.session.QueueView()
		assert.Equal(t, "b", view.Last.Title)
		assert.Empty(t, view.Items)
	})

	t.Run("while idle", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.play(t, "a")
		env.sink.end(nil)
		env.waitIdle(t)

		prev, err := env.session.Prev()
		require.NoError(t, err)
		assert.Equal(t, "a", prev.Title)

		env.waitCurrent(t, "a")
		assert.Nil(t, env.session.QueueView().Last)
	})

	t.Run("while paused", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.play(t, "a")
		env.play(t, "b")
		env.sink.end(nil)
		env.waitCurrent(t, "b")
		_, err := env.session.Pause()
		require.NoError(t, err)

		_, err = env.session.Prev()
		require.NoError(t, err)
		env.waitCurrent(t, "a")
	})
}

func TestSession_PauseResume(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.session.Pause()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = env.session.Resume()
	assert.ErrorIs(t, err, ErrInvalidState)

	env.play(t, "a")

	paused, err := env.session.Pause()
	require.NoError(t, err)
	assert.Equal(t, "a", paused.Title)
	assert.False(t, env.session.IsPlaying())

	// Paused keeps the current track.
	cur, ok := env.session.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.Title)

	_, err = env.session.Pause()
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.session.Resume()
	require.NoError(t, err)
	assert.True(t, env.session.IsPlaying())

	_, err = env.session.Resume()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSession_SetVolume(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		want    float64
		wantErr error
	}{
		{"half", 50, 0.5, nil},
		{"max", 100, 1.0, nil},
		{"zero clamps to minimum", 0, 0.01, nil},
		{"above range", 101, 0, ErrInvalidVolume},
		{"negative", -1, 0, ErrInvalidVolume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.play(t, "a")

			got, err := env.session.SetVolume(tt.percent)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 1.0, env.session.QueueView().Volume)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.0001)
			assert.InDelta(t, tt.want, env.sink.volume, 0.0001)
		})
	}
}

func TestSession_VolumeAppliesToNextTrack(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.session.SetVolume(30)
	require.NoError(t, err)

	env.play(t, "a")
	assert.InDelta(t, 0.3, env.sink.volume, 0.0001)
}

func TestSession_RemoveFromQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, q := range []string{"a", "b", "c", "d"} {
		env.play(t, q)
	}

	removed, err := env.session.RemoveFromQueue(2)
	require.NoError(t, err)
	assert.Equal(t, "c", removed.Title)
	assert.Equal(t, []string{"b", "d"}, titles(env.session.QueueView().Items))

	for _, index := range []int{0, 3, -1} {
		_, err := env.session.RemoveFromQueue(index)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", index)
	}
	assert.Equal(t, 2, len(env.session.QueueView().Items))
}

func TestSession_Stop(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	env.play(t, "b")
	env.sink.end(nil)
	env.waitCurrent(t, "b")
	env.play(t, "c")

	require.NoError(t, env.session.Stop())

	view := env.session.QueueView()
	assert.Equal(t, StateIdle, view.State)
	assert.Nil(t, view.Current)
	assert.Nil(t, view.Last)
	assert.Empty(t, view.Items)

	// The asynchronous completion from the stopped stream must not advance anything.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, env.session.IsIdle())
}

func TestSession_StopReturnsSinkError(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	env.sink.stopErr = errors.New("device gone")

	err := env.session.Stop()
	require.Error(t, err)
	assert.True(t, env.session.IsIdle())
}

func TestSession_StaleCompletionIgnored(t *testing.T) {
	env := newTestEnv(t, nil)

	env.play(t, "a")
	old := env.sink.callback()
	require.NotNil(t, old)

	require.NoError(t, env.session.Stop())
	env.play(t, "x")
	env.play(t, "y")

	old(nil)

	cur, ok := env.session.Current()
	require.True(t, ok)
	assert.Equal(t, "x", cur.Title)
	assert.Equal(t, []string{"y"}, titles(env.session.QueueView().Items))
}

func TestSession_StopDuringResolveIsStale(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.gate = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.session.Play(context.Background(), testChannel, "a")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return env.resolver.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, env.session.Stop())
	close(env.resolver.gate)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStale)
	case <-time.After(time.Second):
		t.Fatal("play did not return")
	}
	assert.True(t, env.session.IsIdle())
	assert.Empty(t, env.sink.startedLocators())
}

func TestSession_CloseDuringResolveIsStale(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.gate = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.session.Play(context.Background(), testChannel, "a")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return env.resolver.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, env.session.Close())
	close(env.resolver.gate)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStale)
		assert.NotErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("play did not return")
	}
	assert.Empty(t, env.sink.startedLocators())
}

func TestSession_ResolveRetries(t *testing.T) {
	t.Run("succeeds on third attempt", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.resolver.errs = []error{errors.New("timeout"), errors.New("timeout")}

		result := env.play(t, "a")
		assert.True(t, result.Started)
		assert.Equal(t, 3, env.resolver.callCount())
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.resolver.errs = []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}

		_, err := env.session.Play(context.Background(), testChannel, "a")
		assert.ErrorIs(t, err, ErrResolutionFailed)
		assert.Equal(t, "resolution_failed", Kind(err))
		assert.Equal(t, 3, env.resolver.callCount())
		assert.True(t, env.session.IsIdle())
	})
}

func TestSession_SinkStartRetries(t *testing.T) {
	t.Run("succeeds on second attempt", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.sink.startErrs = []error{errors.New("connect failed")}

		result := env.play(t, "a")
		assert.True(t, result.Started)
		assert.Equal(t, StatePlaying, env.session.State())
	})

	t.Run("falls back to idle after three attempts", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.sink.startErrs = []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}

		_, err := env.session.Play(context.Background(), testChannel, "a")
		assert.ErrorIs(t, err, ErrSinkStartFailed)
		assert.Equal(t, StateIdle, env.session.State())
		_, ok := env.session.Current()
		assert.False(t, ok)
	})
}

func TestSession_AdmitterRejects(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Admitter = rejectAll{} })

	_, err := env.session.Play(context.Background(), testChannel, "a")
	assert.ErrorIs(t, err, ErrRejected)
	assert.True(t, env.session.IsIdle())
	assert.Empty(t, env.sink.startedLocators())
}

func TestSession_Events(t *testing.T) {
	var mu sync.Mutex
	var events []EventType

	env := newTestEnv(t, func(o *Options) {
		o.OnEvent = func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "room-1", e.RoomID)
			events = append(events, e.Type)
		}
	})

	env.play(t, "a")
	env.play(t, "b")
	require.NoError(t, env.session.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventTrackStarted, EventTrackQueued, EventStopped}, events)
}

func TestSession_Display(t *testing.T) {
	display := &fakeDisplay{}
	env := newTestEnv(t, func(o *Options) { o.Display = display })

	env.play(t, "a")
	assert.Eventually(t, func() bool {
		return env.session.DisplayHandle() == "msg-1"
	}, time.Second, 5*time.Millisecond)

	env.play(t, "b")
	assert.Eventually(t, func() bool {
		snaps := display.rendered()
		last := snaps[len(snaps)-1]
		return last.Handle == "msg-1" && last.QueueSize == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.session.Close())

	snaps := display.rendered()
	final := snaps[len(snaps)-1]
	assert.True(t, final.Closed)
	assert.False(t, final.Controls)
	assert.Nil(t, final.Current)
}

func TestSession_ClosedRejectsCommands(t *testing.T) {
	env := newTestEnv(t, nil)
	env.play(t, "a")
	require.NoError(t, env.session.Close())

	_, err := env.session.Play(context.Background(), testChannel, "b")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = env.session.Skip()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = env.session.SetVolume(10)
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Closing twice is a no-op.
	assert.NoError(t, env.session.Close())

	select {
	case <-env.session.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSession_ConcurrentPlays(t *testing.T) {
	env := newTestEnv(t, nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.session.Play(context.Background(), testChannel, "t")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view := env.session.QueueView()
	require.NotNil(t, view.Current)
	assert.Len(t, view.Items, n-1)
	assert.Len(t, env.sink.startedLocators(), 1)
}

func TestSnapshot_Controls(t *testing.T) {
	next := src("b")
	snap := Snapshot{Controls: true, QueueSize: 1, HasPrevious: false, Volume: 0.35, Next: &next}
	assert.True(t, snap.CanSkip())
	assert.False(t, snap.CanGoBack())
	assert.Equal(t, 35, snap.VolumePercent())

	snap.Controls = false
	assert.False(t, snap.CanSkip())
}
