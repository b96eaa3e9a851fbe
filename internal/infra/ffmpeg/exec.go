package ffmpeg

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/osa030/voicebox/internal/infra/logger"
)

// decoderArgs builds the ffmpeg arguments for decoding locator to raw PCM.
func decoderArgs(cfg Config, locator string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	if strings.HasPrefix(locator, "http") {
		// Optimize input for network streams
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-user_agent", "Mozilla/5.0",
		)
	}

	return append(args,
		"-i", locator,
		"-map", "0:a",
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.Channels),
		"pipe:1",
	)
}

// CommandDecoder returns a Decoder that runs the ffmpeg binary.
func CommandDecoder(cfg Config) Decoder {
	return func(ctx context.Context, locator string) (io.ReadCloser, error) {
		cmd := exec.CommandContext(ctx, cfg.Binary, decoderArgs(cfg, locator)...)
		return startPiped(cmd, logger.Component("ffmpeg"))
	}
}

// OutputFromConfig returns the OutputFactory selected by cfg.Output.
func OutputFromConfig(cfg Config) OutputFactory {
	switch cfg.Output {
	case "command":
		return func(ctx context.Context) (io.WriteCloser, error) {
			cmd := exec.CommandContext(ctx, cfg.OutputCommand[0], cfg.OutputCommand[1:]...)
			stdin, err := cmd.StdinPipe()
			if err != nil {
				return nil, errors.Wrap(err, "failed to open output stdin")
			}
			if err := cmd.Start(); err != nil {
				return nil, errors.Wrapf(err, "failed to start output command %s", cfg.OutputCommand[0])
			}
			return &commandWriter{WriteCloser: stdin, cmd: cmd}, nil
		}
	default:
		return func(context.Context) (io.WriteCloser, error) {
			return nopWriteCloser{Writer: io.Discard}, nil
		}
	}
}

// startPiped starts cmd and returns its stdout; stderr lines go to the log.
func startPiped(cmd *exec.Cmd, log zerolog.Logger) (io.ReadCloser, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", cmd.Path)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug().Msgf("ffmpeg: %s", scanner.Text())
		}
	}()

	return &commandReader{ReadCloser: stdout, cmd: cmd}, nil
}

type commandReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

// Close closes stdout and reaps the process.
func (r *commandReader) Close() error {
	_ = r.ReadCloser.Close()
	return r.cmd.Wait()
}

type commandWriter struct {
	io.WriteCloser
	cmd *exec.Cmd
}

// Close closes stdin and reaps the process.
func (w *commandWriter) Close() error {
	_ = w.WriteCloser.Close()
	return w.cmd.Wait()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
