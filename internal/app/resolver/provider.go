// Package resolver turns user queries into playable tracks through an ordered provider chain.
package resolver

import (
	"context"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Provider is the interface for track providers.
// Providers do not retry; the playback session owns the retry budget.
type Provider interface {
	// Name returns the provider name (used in config).
	Name() string
	// Matches returns true if this provider handles the query.
	Matches(query string) bool
	// Resolve resolves the query to a playable track.
	Resolve(ctx context.Context, query string) (track.Source, error)
}

// Searcher resolves free text or page URLs to a playable track.
type Searcher interface {
	Resolve(ctx context.Context, query string) (track.Source, error)
}
