package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig creates a chain of every enabled registered filter, in name order.
// Filters whose settings fail validation are logged and left out.
func NewChainFromConfig(cfg *config.Config) *Chain {
	c := NewChain()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !cfg.IsFilterEnabled(name) {
			continue
		}

		f := registry[name]()
		if err := f.ValidateConfig(cfg.GetFilterSettings(name)); err != nil {
			zlog.Error().Msgf("failed to validate filter config: filter=%s error=%v", name, err)
			continue
		}

		c.Add(f)
		zlog.Info().Msgf("registered filter: name=%s", name)
	}

	return c
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, t track.Source, view playback.View) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, t, view)
		if !result.Accepted {
			zlog.Debug().Msgf("filter rejected track: filter=%s code=%s track=%q", f.Name(), result.Code, t.Title)
			return result
		}
	}
	return Accept()
}

// Admit runs the chain and turns a rejection into a *RejectedError marked as playback.ErrRejected.
func (c *Chain) Admit(ctx context.Context, t track.Source, view playback.View) error {
	result := c.Execute(ctx, t, view)
	if result.Accepted {
		return nil
	}
	return errors.Mark(&RejectedError{Code: result.Code}, playback.ErrRejected)
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}

// RejectedError is returned by Admit when a filter rejects a track.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Code
}

// RejectionCode extracts the filter code from an error returned by Admit.
func RejectionCode(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Code
	}
	return ""
}
