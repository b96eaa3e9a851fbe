package ytdlp

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	name string
	args []string
}

func fakeRunner(out string, err error, calls *[]recordedRun) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, recordedRun{name: name, args: args})
		return []byte(out), err
	}
}

func defaultConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	return cfg
}

func TestClient_ResolveSearch(t *testing.T) {
	var calls []recordedRun
	out := "https://rr1.googlevideo.com/audio\tNever Gonna Give You Up\tRick Astley\thttps://www.youtube.com/watch?v=dQw4w9WgXcQ\thttps://i.ytimg.com/vi/dQw4w9WgXcQ/hq.jpg\t212.0\n"
	c := NewWithRunner(defaultConfig(t), fakeRunner(out, nil, &calls))

	src, err := c.Resolve(context.Background(), "never gonna give you up")
	require.NoError(t, err)

	assert.Equal(t, "https://rr1.googlevideo.com/audio", src.Locator)
	assert.Equal(t, "Never Gonna Give You Up", src.Title)
	assert.Equal(t, "Rick Astley", src.Author)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", src.URL)
	assert.Equal(t, 212*time.Second, src.Duration)
	assert.Equal(t, "never gonna give you up", src.Query)

	require.Len(t, calls, 1)
	assert.Equal(t, "yt-dlp", calls[0].name)
	assert.Equal(t, "ytsearch1:never gonna give you up", calls[0].args[len(calls[0].args)-1])
	assert.Contains(t, calls[0].args, "--no-playlist")
	assert.NotContains(t, calls[0].args, "-4")
}

func TestClient_ResolveURL(t *testing.T) {
	var calls []recordedRun
	cfg := defaultConfig(t)
	cfg.ForceIPv4 = true
	c := NewWithRunner(cfg, fakeRunner("https://stream\tLive Radio\tNA\thttps://youtu.be/x\tNA\tNA\n", nil, &calls))

	src, err := c.Resolve(context.Background(), "https://youtu.be/x")
	require.NoError(t, err)

	assert.Equal(t, "https://youtu.be/x", calls[0].args[len(calls[0].args)-1])
	assert.Contains(t, calls[0].args, "-4")
	assert.Equal(t, "", src.Author)
	assert.Equal(t, "", src.ThumbnailURL)
	assert.True(t, src.IsLive())
}

func TestClient_ResolveErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		out   string
		err   error
	}{
		{"empty query", "  ", "", nil},
		{"binary failed", "song", "", errors.New("exit status 1")},
		{"no output", "song", "\n\n", nil},
		{"no stream url", "song", "NA\tTitle\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []recordedRun
			c := NewWithRunner(defaultConfig(t), fakeRunner(tt.out, tt.err, &calls))
			_, err := c.Resolve(context.Background(), tt.query)
			assert.Error(t, err)
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"binary":     "/usr/local/bin/yt-dlp",
		"force_ipv4": "true",
		"extra_args": []any{"--cookies", "cookies.txt"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/yt-dlp", cfg.Binary)
	assert.True(t, cfg.ForceIPv4)
	assert.Equal(t, []string{"--cookies", "cookies.txt"}, cfg.ExtraArgs)
	assert.Equal(t, "ytsearch1:", cfg.SearchPrefix)
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://youtu.be/x"))
	assert.True(t, IsURL("http://example.com/a.mp3"))
	assert.False(t, IsURL("some song name"))
}
