package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

var (
	ErrNoProvider = errors.New("no provider handles this query")
)

// Chain hands each query to the first provider that matches it.
type Chain struct {
	providers []Provider
}

// NewChain creates a new provider chain.
func NewChain(providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
	}
}

// Resolve resolves the query with the first matching provider.
func (c *Chain) Resolve(ctx context.Context, query string) (track.Source, error) {
	for i, p := range c.providers {
		if !p.Matches(query) {
			continue
		}

		zlog.Debug().Msgf("resolving with provider: index=%d total=%d provider=%s query=%q",
			i+1, len(c.providers), p.Name(), query)

		src, err := p.Resolve(ctx, query)
		if err != nil {
			return track.Source{}, errors.Wrapf(err, "provider %s", p.Name())
		}
		return src, nil
	}

	return track.Source{}, errors.Wrapf(ErrNoProvider, "%q", query)
}

// Providers returns the provider names in order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}
