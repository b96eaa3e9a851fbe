package resolver

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// TrackCache stores resolved tracks by query.
type TrackCache interface {
	GetTrack(ctx context.Context, query string) (track.Source, bool)
	SetTrack(ctx context.Context, query string, src track.Source) error
	InvalidateTrack(ctx context.Context, query string) error
}

// Cached wraps a resolver with a track cache.
// Cache failures never fail a resolution.
type Cached struct {
	next  Searcher
	cache TrackCache
}

// NewCached creates a caching resolver.
func NewCached(next Searcher, cache TrackCache) *Cached {
	return &Cached{
		next:  next,
		cache: cache,
	}
}

// Resolve returns the cached track for query, or resolves and caches it.
func (c *Cached) Resolve(ctx context.Context, query string) (track.Source, error) {
	if src, ok := c.cache.GetTrack(ctx, query); ok {
		return src, nil
	}

	src, err := c.next.Resolve(ctx, query)
	if err != nil {
		return track.Source{}, err
	}

	if err := c.cache.SetTrack(ctx, query, src); err != nil {
		zlog.Warn().Msgf("failed to cache resolved track: query=%q error=%v", query, err)
	}
	return src, nil
}

// Invalidate drops the cached resolution of query, so the next play resolves it again.
func (c *Cached) Invalidate(ctx context.Context, query string) {
	if query == "" {
		return
	}
	if err := c.cache.InvalidateTrack(ctx, query); err != nil {
		zlog.Warn().Msgf("failed to invalidate cached track: query=%q error=%v", query, err)
		return
	}
	zlog.Debug().Msgf("invalidated cached track: query=%q", query)
}
