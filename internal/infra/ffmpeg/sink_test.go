package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferOutput struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *bufferOutput) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferOutput) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *bufferOutput) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// blockingReader yields data then blocks until closed.
type blockingReader struct {
	data   *bytes.Reader
	closed chan struct{}
	once   sync.Once
}

func newBlockingReader(data []byte) *blockingReader {
	return &blockingReader{data: bytes.NewReader(data), closed: make(chan struct{})}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	if r.data.Len() > 0 {
		return r.data.Read(p)
	}
	<-r.closed
	return 0, io.EOF
}

func (r *blockingReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func testConfig() Config {
	return Config{
		Binary:          "ffmpeg",
		SampleRate:      8000,
		Channels:        1,
		FrameMs:         10,
		PrebufferFrames: 100,
		Output:          "null",
	}
}

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func completion() (func(error), <-chan error) {
	ch := make(chan error, 2)
	return func(err error) { ch <- err }, ch
}

func waitCompletion(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not complete")
		return nil
	}
}

func TestSink_StreamsToEnd(t *testing.T) {
	cfg := testConfig()
	data := bytes.Repeat(pcm(1000, -1000), cfg.frameBytes()) // several frames
	out := &bufferOutput{}

	sink := NewWithPipes("room", cfg,
		func(ctx context.Context, locator string) (io.ReadCloser, error) {
			assert.Equal(t, "https://cdn.example/a", locator)
			return io.NopCloser(bytes.NewReader(data)), nil
		},
		func(context.Context) (io.WriteCloser, error) { return out, nil },
	)

	onComplete, done := completion()
	require.NoError(t, sink.Start(context.Background(), "https://cdn.example/a", 1.0, onComplete))

	require.NoError(t, waitCompletion(t, done))
	assert.False(t, sink.IsActive())
	assert.Equal(t, data, out.Bytes())
	assert.True(t, out.closed)
	assert.Empty(t, done, "onComplete fires once")
}

func TestSink_StopReportsNormalCompletion(t *testing.T) {
	cfg := testConfig()
	src := newBlockingReader(pcm(1, 2, 3, 4))

	sink := NewWithPipes("room", cfg,
		func(ctx context.Context, _ string) (io.ReadCloser, error) {
			context.AfterFunc(ctx, func() { _ = src.Close() })
			return src, nil
		},
		func(context.Context) (io.WriteCloser, error) { return &bufferOutput{}, nil },
	)

	onComplete, done := completion()
	require.NoError(t, sink.Start(context.Background(), "x", 1.0, onComplete))
	assert.True(t, sink.IsActive())

	require.NoError(t, sink.Stop())
	assert.NoError(t, waitCompletion(t, done))
	assert.False(t, sink.IsActive())

	// Stop on an idle sink is a no-op
	assert.NoError(t, sink.Stop())
}

func TestSink_StartWhileActive(t *testing.T) {
	src := newBlockingReader(nil)
	sink := NewWithPipes("room", testConfig(),
		func(context.Context, string) (io.ReadCloser, error) { return src, nil },
		func(context.Context) (io.WriteCloser, error) { return &bufferOutput{}, nil },
	)

	onComplete, done := completion()
	require.NoError(t, sink.Start(context.Background(), "x", 1.0, onComplete))
	err := sink.Start(context.Background(), "y", 1.0, func(error) {})
	assert.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, sink.Stop())
	_ = src.Close()
	waitCompletion(t, done)
}

func TestSink_StartFailures(t *testing.T) {
	t.Run("decoder error", func(t *testing.T) {
		sink := NewWithPipes("room", testConfig(),
			func(context.Context, string) (io.ReadCloser, error) { return nil, errors.New("no such file") },
			func(context.Context) (io.WriteCloser, error) { return &bufferOutput{}, nil },
		)
		err := sink.Start(context.Background(), "x", 1.0, func(error) { t.Error("unexpected completion") })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such file")
		assert.False(t, sink.IsActive())
	})

	t.Run("output error", func(t *testing.T) {
		src := newBlockingReader(nil)
		sink := NewWithPipes("room", testConfig(),
			func(context.Context, string) (io.ReadCloser, error) { return src, nil },
			func(context.Context) (io.WriteCloser, error) { return nil, errors.New("device busy") },
		)
		err := sink.Start(context.Background(), "x", 1.0, func(error) { t.Error("unexpected completion") })
		require.Error(t, err)
		assert.False(t, sink.IsActive())
		select {
		case <-src.closed:
		default:
			t.Error("decoder should be closed")
		}
	})

	t.Run("expired context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sink := NewWithPipes("room", testConfig(),
			func(context.Context, string) (io.ReadCloser, error) { return newBlockingReader(nil), nil },
			func(context.Context) (io.WriteCloser, error) { return &bufferOutput{}, nil },
		)
		err := sink.Start(ctx, "x", 1.0, func(error) {})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSink_ReadErrorIsReported(t *testing.T) {
	sink := NewWithPipes("room", testConfig(),
		func(context.Context, string) (io.ReadCloser, error) {
			return io.NopCloser(io.MultiReader(bytes.NewReader(pcm(1, 2)), errReader{})), nil
		},
		func(context.Context) (io.WriteCloser, error) { return &bufferOutput{}, nil },
	)

	onComplete, done := completion()
	require.NoError(t, sink.Start(context.Background(), "x", 1.0, onComplete))
	err := waitCompletion(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSink_PauseHoldsOutput(t *testing.T) {
	cfg := testConfig()
	cfg.PrebufferFrames = 1
	frame := cfg.frameBytes()
	src := newBlockingReader(bytes.Repeat([]byte{0}, frame*50))
	out := &bufferOutput{}

	sink := NewWithPipes("room", cfg,
		func(ctx context.Context, _ string) (io.ReadCloser, error) {
			context.AfterFunc(ctx, func() { _ = src.Close() })
			return src, nil
		},
		func(context.Context) (io.WriteCloser, error) { return out, nil },
	)

	onComplete, done := completion()
	require.NoError(t, sink.Start(context.Background(), "x", 1.0, onComplete))
	require.NoError(t, sink.Pause())
	require.NoError(t, sink.Pause(), "pause is idempotent")

	time.Sleep(50 * time.Millisecond)
	held := len(out.Bytes())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, held, len(out.Bytes()), "no output while paused")
	assert.True(t, sink.IsActive())

	require.NoError(t, sink.Resume())
	assert.Eventually(t, func() bool { return len(out.Bytes()) > held }, time.Second, 5*time.Millisecond)

	require.NoError(t, sink.Stop())
	assert.NoError(t, waitCompletion(t, done))

	assert.ErrorIs(t, sink.Pause(), ErrNotActive)
	assert.ErrorIs(t, sink.Resume(), ErrNotActive)
}

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name     string
		volume   float64
		input    []int16
		expected []int16
	}{
		{"unity", 1.0, []int16{100, -100}, []int16{100, -100}},
		{"half", 0.5, []int16{100, -100, 7}, []int16{50, -50, 4}},
		{"clamped", 2.0, []int16{30000, -30000}, []int16{32767, -32768}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := pcm(tt.input...)
			applyVolume(buf, tt.volume)
			assert.Equal(t, pcm(tt.expected...), buf)
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", cfg.Binary)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Channels)
	assert.Equal(t, 3840, cfg.frameBytes())

	_, err = ParseConfig(map[string]any{"output": "command"})
	assert.Error(t, err, "command output needs a command")

	cfg, err = ParseConfig(map[string]any{
		"output":         "command",
		"output_command": []string{"ffplay", "-f", "s16le", "-"},
		"sample_rate":    "44100",
	})
	require.NoError(t, err)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, []string{"ffplay", "-f", "s16le", "-"}, cfg.OutputCommand)

	_, err = ParseConfig(map[string]any{"channels": 6})
	assert.Error(t, err)
}

func TestDecoderArgs(t *testing.T) {
	cfg := testConfig()

	args := decoderArgs(cfg, "https://cdn.example/a")
	assert.Contains(t, args, "-reconnect")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	args = decoderArgs(cfg, "/music/a.mp3")
	assert.NotContains(t, args, "-reconnect")
	assert.Contains(t, args, "8000")
}
