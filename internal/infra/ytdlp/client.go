// Package ytdlp resolves queries and page URLs to audio streams with the yt-dlp binary.
package ytdlp

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"

	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/logger"
)

var (
	ErrNotFound = errors.New("no results")
)

// printTemplate selects the fields printed for the chosen format, tab separated.
const printTemplate = "%(url)s\t%(title)s\t%(uploader)s\t%(webpage_url)s\t%(thumbnail)s\t%(duration)s"

// Config represents yt-dlp settings.
type Config struct {
	Binary       string   `mapstructure:"binary" default:"yt-dlp" validate:"required"`
	Format       string   `mapstructure:"format" default:"bestaudio/best" validate:"required"`
	SearchPrefix string   `mapstructure:"search_prefix" default:"ytsearch1:" validate:"required"`
	ForceIPv4    bool     `mapstructure:"force_ipv4"`
	ExtraArgs    []string `mapstructure:"extra_args"`
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Client runs yt-dlp.
type Client struct {
	cfg    Config
	run    Runner
	logger zerolog.Logger
}

// New creates a client that runs the real binary.
func New(cfg Config) *Client {
	return NewWithRunner(cfg, execRunner)
}

// NewWithRunner creates a client with a custom command runner.
func NewWithRunner(cfg Config, run Runner) *Client {
	return &Client{
		cfg:    cfg,
		run:    run,
		logger: logger.Component("ytdlp"),
	}
}

// ParseConfig decodes provider settings, applies defaults and validates them.
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

// Resolve resolves a page URL, or searches for free text, and returns the first playable result.
func (c *Client) Resolve(ctx context.Context, query string) (track.Source, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return track.Source{}, errors.New("query is required")
	}

	target := query
	if !IsURL(query) {
		target = c.cfg.SearchPrefix + query
	}

	start := time.Now()
	out, err := c.run(ctx, c.cfg.Binary, c.args(target)...)
	if err != nil {
		return track.Source{}, errors.Wrapf(err, "yt-dlp failed for %q", query)
	}

	src, err := parseOutput(out)
	if err != nil {
		return track.Source{}, errors.Wrapf(err, "yt-dlp returned no playable result for %q", query)
	}
	src.Query = query

	c.logger.Debug().Msgf("resolved: query=%q title=%q elapsed=%v", query, src.Title, time.Since(start))
	return src, nil
}

func (c *Client) args(target string) []string {
	args := []string{
		"--print", printTemplate,
		"-f", c.cfg.Format,
		"--no-playlist",
		"--no-warnings",
		"--ignore-config",
	}
	if c.cfg.ForceIPv4 {
		args = append(args, "-4")
	}
	args = append(args, c.cfg.ExtraArgs...)
	return append(args, target)
}

// parseOutput reads the first printed line.
func parseOutput(out []byte) (track.Source, error) {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		for len(fields) < 6 {
			fields = append(fields, "")
		}
		for i, f := range fields {
			if f == "NA" {
				fields[i] = ""
			}
		}

		if fields[0] == "" {
			return track.Source{}, ErrNotFound
		}

		src := track.Source{
			Locator:      fields[0],
			Title:        fields[1],
			Author:       fields[2],
			URL:          fields[3],
			ThumbnailURL: fields[4],
		}
		if seconds, err := strconv.ParseFloat(fields[5], 64); err == nil && seconds > 0 {
			src.Duration = time.Duration(seconds * float64(time.Second))
		}
		if src.Title == "" {
			src.Title = src.URL
		}
		return src, nil
	}
	return track.Source{}, ErrNotFound
}

// IsURL reports whether query looks like a link rather than search text.
func IsURL(query string) bool {
	return strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://")
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrapf(err, "%s", msg)
		}
		return nil, err
	}
	return out, nil
}
