// Package ffmpeg provides an audio sink that decodes streams with ffmpeg and paces PCM output in real time.
package ffmpeg

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/osa030/voicebox/internal/infra/logger"
)

var (
	ErrAlreadyActive = errors.New("sink is already streaming")
	ErrNotActive     = errors.New("sink is not streaming")
)

// Config represents sink settings.
type Config struct {
	Binary          string   `mapstructure:"binary" default:"ffmpeg" validate:"required"`
	SampleRate      int      `mapstructure:"sample_rate" default:"48000" validate:"oneof=8000 16000 24000 44100 48000"`
	Channels        int      `mapstructure:"channels" default:"2" validate:"oneof=1 2"`
	FrameMs         int      `mapstructure:"frame_ms" default:"20" validate:"oneof=10 20 40 60"`
	PrebufferFrames int      `mapstructure:"prebuffer_frames" default:"10" validate:"gte=1,lte=500"`
	Output          string   `mapstructure:"output" default:"null" validate:"oneof=null command"`
	OutputCommand   []string `mapstructure:"output_command" validate:"required_if=Output command"`
}

// ParseConfig decodes sink settings, applies defaults and validates them.
func ParseConfig(settings map[string]any) (Config, error) {
	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return cfg, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, "validation failed")
	}
	return cfg, nil
}

// frameBytes returns the size of one s16le frame.
func (c Config) frameBytes() int {
	return c.SampleRate * c.Channels * 2 * c.FrameMs / 1000
}

func (c Config) frameDuration() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// Decoder opens a raw s16le PCM stream for a locator.
// The stream must stop when ctx is cancelled.
type Decoder func(ctx context.Context, locator string) (io.ReadCloser, error)

// OutputFactory opens the destination for one stream.
type OutputFactory func(ctx context.Context) (io.WriteCloser, error)

// Sink streams one track at a time for a room.
type Sink struct {
	mu sync.Mutex

	roomID string
	cfg    Config
	decode Decoder
	output OutputFactory
	logger zerolog.Logger

	volume   float64
	active   bool
	resumeCh chan struct{} // non-nil while paused
	cancel   context.CancelFunc
}

// New creates a sink that decodes with the ffmpeg binary and writes to the configured output.
func New(roomID string, cfg Config) *Sink {
	return NewWithPipes(roomID, cfg, CommandDecoder(cfg), OutputFromConfig(cfg))
}

// NewWithPipes creates a sink with a custom decoder and output.
func NewWithPipes(roomID string, cfg Config, decode Decoder, output OutputFactory) *Sink {
	return &Sink{
		roomID: roomID,
		cfg:    cfg,
		decode: decode,
		output: output,
		logger: logger.Component("ffmpeg").With().Str("room", roomID).Logger(),
		volume: 1.0,
	}
}

// Start opens locator and begins streaming it. onComplete is called once from the
// stream goroutine when the stream ends, fails, or is stopped.
func (s *Sink) Start(ctx context.Context, locator string, volume float64, onComplete func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrAlreadyActive
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	// Abort the open if the start timeout fires first
	stopOpen := context.AfterFunc(ctx, cancel)
	src, err := s.decode(streamCtx, locator)
	stopOpen()
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to open decoder")
	}
	if err := ctx.Err(); err != nil {
		cancel()
		_ = src.Close()
		return errors.Wrap(err, "sink start timed out")
	}

	out, err := s.output(streamCtx)
	if err != nil {
		cancel()
		_ = src.Close()
		return errors.Wrap(err, "failed to open output")
	}

	s.active = true
	s.resumeCh = nil
	s.volume = volume
	s.cancel = cancel

	s.logger.Debug().Msgf("stream started: volume=%.2f", volume)
	go s.pump(streamCtx, src, out, onComplete)
	return nil
}

// Stop stops the current stream. It does not wait for the stream goroutine.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}
	s.cancel()
	return nil
}

// Pause holds the stream until Resume.
func (s *Sink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrNotActive
	}
	if s.resumeCh == nil {
		s.resumeCh = make(chan struct{})
	}
	return nil
}

// Resume continues a paused stream.
func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrNotActive
	}
	if s.resumeCh != nil {
		close(s.resumeCh)
		s.resumeCh = nil
	}
	return nil
}

// SetVolume changes the volume of the current stream.
func (s *Sink) SetVolume(volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = volume
	return nil
}

// IsActive returns true while a stream is open, paused or not.
func (s *Sink) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Sink) currentVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// waitWhilePaused blocks while the sink is paused.
func (s *Sink) waitWhilePaused(ctx context.Context) error {
	s.mu.Lock()
	ch := s.resumeCh
	s.mu.Unlock()

	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) pump(ctx context.Context, src io.ReadCloser, out io.WriteCloser, onComplete func(error)) {
	limiter := rate.NewLimiter(rate.Every(s.cfg.frameDuration()), s.cfg.PrebufferFrames)
	buf := make([]byte, s.cfg.frameBytes())

	var err error
	frames := 0
	for {
		if err = s.waitWhilePaused(ctx); err != nil {
			break
		}
		if err = limiter.Wait(ctx); err != nil {
			break
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			applyVolume(buf[:n], s.currentVolume())
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				err = errors.Wrap(writeErr, "failed to write output")
				break
			}
			frames++
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			err = nil
			break
		}
		if readErr != nil {
			err = errors.Wrap(readErr, "failed to read decoder")
			break
		}
	}

	stopped := ctx.Err() != nil
	if stopped {
		// Stopped by Stop, not a failure
		err = nil
	}

	s.mu.Lock()
	s.cancel()
	s.active = false
	s.resumeCh = nil
	s.mu.Unlock()

	if closeErr := src.Close(); closeErr != nil && !stopped && err == nil {
		err = errors.Wrap(closeErr, "decoder exited with error")
	}
	_ = out.Close()

	s.logger.Debug().Msgf("stream ended: frames=%d stopped=%v error=%v", frames, stopped, err)
	onComplete(err)
}

// applyVolume scales s16le samples in place.
func applyVolume(pcm []byte, volume float64) {
	if volume >= 0.999 && volume <= 1.001 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		scaled := math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(sample*volume)))
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(scaled)))
	}
}
