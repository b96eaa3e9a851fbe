package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/spotify"
)

type fakeSearcher struct {
	queries []string
	err     error
}

func (f *fakeSearcher) Resolve(_ context.Context, query string) (track.Source, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return track.Source{}, f.err
	}
	return track.Source{
		Locator:      "stream://" + query,
		Title:        "yt " + query,
		Author:       "uploader",
		URL:          "https://youtu.be/x",
		ThumbnailURL: "https://i.ytimg.com/x.jpg",
		Query:        query,
	}, nil
}

type fakeSpotify struct {
	info *spotify.TrackInfo
	err  error
}

func (f *fakeSpotify) GetTrack(context.Context, string) (*spotify.TrackInfo, error) {
	return f.info, f.err
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]track.Source
	sets  int
	err   error
}

func (m *memoryCache) GetTrack(_ context.Context, query string) (track.Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.items[query]
	return src, ok
}

func (m *memoryCache) SetTrack(_ context.Context, query string, src track.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]track.Source)
	}
	m.items[query] = src
	m.sets++
	return nil
}

func TestChain_FirstMatchingProvider(t *testing.T) {
	yt := &fakeSearcher{}
	sp := &fakeSpotify{info: &spotify.TrackInfo{
		Name:        "Never Gonna Give You Up",
		Artists:     []string{"Rick Astley"},
		AlbumArtURL: "https://i.scdn.co/image/abc",
		Duration:    213 * time.Second,
	}}

	chain := NewChain(NewSpotifyProvider(sp, yt), NewYtdlpProvider(yt))
	assert.Equal(t, []string{"spotify", "ytdlp"}, chain.Providers())

	t.Run("spotify link", func(t *testing.T) {
		link := "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"
		src, err := chain.Resolve(context.Background(), link)
		require.NoError(t, err)

		assert.Equal(t, "Rick Astley - Never Gonna Give You Up", yt.queries[len(yt.queries)-1])
		assert.Equal(t, "stream://Rick Astley - Never Gonna Give You Up", src.Locator)
		assert.Equal(t, "Never Gonna Give You Up", src.Title)
		assert.Equal(t, "Rick Astley", src.Author)
		assert.Equal(t, "https://i.scdn.co/image/abc", src.ThumbnailURL)
		assert.Equal(t, 213*time.Second, src.Duration)
		assert.Equal(t, link, src.Query)
	})

	t.Run("free text", func(t *testing.T) {
		src, err := chain.Resolve(context.Background(), "lofi beats")
		require.NoError(t, err)
		assert.Equal(t, "yt lofi beats", src.Title)
	})
}

func TestChain_Errors(t *testing.T) {
	_, err := NewChain().Resolve(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoProvider)

	sp := &fakeSpotify{err: errors.New("404")}
	chain := NewChain(NewSpotifyProvider(sp, &fakeSearcher{}))
	_, err = chain.Resolve(context.Background(), "spotify:track:abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider spotify")

	chain = NewChain(NewYtdlpProvider(&fakeSearcher{err: errors.New("no results")}))
	_, err = chain.Resolve(context.Background(), "x")
	assert.Error(t, err)
}

func (m *memoryCache) InvalidateTrack(_ context.Context, query string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.items, query)
	return nil
}

func TestCached(t *testing.T) {
	yt := &fakeSearcher{}
	cache := &memoryCache{}
	r := NewCached(yt, cache)

	first, err := r.Resolve(context.Background(), "song")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "song")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, yt.queries, 1, "Second lookup should be served from cache")
	assert.Equal(t, 1, cache.sets)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	yt := &fakeSearcher{err: errors.New("timeout")}
	cache := &memoryCache{}
	r := NewCached(yt, cache)

	_, err := r.Resolve(context.Background(), "song")
	assert.Error(t, err)
	assert.Equal(t, 0, cache.sets)
}

func TestCached_Invalidate(t *testing.T) {
	yt := &fakeSearcher{}
	cache := &memoryCache{}
	r := NewCached(yt, cache)

	_, err := r.Resolve(context.Background(), "song")
	require.NoError(t, err)
	r.Invalidate(context.Background(), "song")
	_, err = r.Resolve(context.Background(), "song")
	require.NoError(t, err)
	assert.Len(t, yt.queries, 2, "Invalidated entry should be resolved again")

	// Failures and empty queries are logged, not returned.
	cache.err = errors.New("redis down")
	r.Invalidate(context.Background(), "song")
	r.Invalidate(context.Background(), "")
	_, ok := cache.GetTrack(context.Background(), "song")
	assert.True(t, ok)
}

func TestNewChainFromConfig(t *testing.T) {
	cfg := &config.Config{
		Resolver: config.ResolverConfig{
			Providers: []config.ProviderConfig{
				{Type: "ytdlp"},
				{Type: "spotify"},
			},
		},
	}

	chain, err := NewChainFromConfig(cfg, &fakeSpotify{})
	require.NoError(t, err)
	assert.Equal(t, []string{"spotify", "ytdlp"}, chain.Providers())

	_, err = NewChainFromConfig(cfg, nil)
	assert.Error(t, err, "spotify without a client")

	cfg.Resolver.Providers = []config.ProviderConfig{{Type: "spotify"}}
	_, err = NewChainFromConfig(cfg, &fakeSpotify{})
	assert.Error(t, err, "spotify without ytdlp")

	cfg.Resolver.Providers = nil
	_, err = NewChainFromConfig(cfg, nil)
	assert.Error(t, err)
}

func TestInstrumented(t *testing.T) {
	var observed []error
	observe := func(d time.Duration, err error) {
		assert.GreaterOrEqual(t, d, time.Duration(0))
		observed = append(observed, err)
	}

	_, err := NewInstrumented(&fakeSearcher{}, observe).Resolve(context.Background(), "song")
	require.NoError(t, err)

	failing := &fakeSearcher{err: errors.New("timeout")}
	_, err = NewInstrumented(failing, observe).Resolve(context.Background(), "song")
	require.Error(t, err)

	require.Len(t, observed, 2)
	assert.NoError(t, observed[0])
	assert.Error(t, observed[1])
}
