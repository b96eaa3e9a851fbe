package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/spotify"
)

// SpotifyClient defines the Spotify operations needed by the provider.
type SpotifyClient interface {
	GetTrack(ctx context.Context, trackID string) (*spotify.TrackInfo, error)
}

// SpotifyProvider resolves Spotify track links.
// Spotify does not serve audio, so the link is turned into "Artist - Title" and searched for.
type SpotifyProvider struct {
	spotify  SpotifyClient
	searcher Searcher
}

// NewSpotifyProvider creates a new Spotify provider.
func NewSpotifyProvider(client SpotifyClient, searcher Searcher) *SpotifyProvider {
	return &SpotifyProvider{
		spotify:  client,
		searcher: searcher,
	}
}

// Name returns the provider name.
func (p *SpotifyProvider) Name() string {
	return "spotify"
}

// Matches returns true for Spotify track links.
func (p *SpotifyProvider) Matches(query string) bool {
	return spotify.IsTrackLink(query)
}

// Resolve looks up the track metadata and searches for a playable copy.
func (p *SpotifyProvider) Resolve(ctx context.Context, query string) (track.Source, error) {
	info, err := p.spotify.GetTrack(ctx, query)
	if err != nil {
		return track.Source{}, errors.Wrap(err, "failed to get spotify track")
	}

	search := info.SearchQuery()
	zlog.Debug().Msgf("spotify link resolved to search: query=%q search=%q", query, search)

	src, err := p.searcher.Resolve(ctx, search)
	if err != nil {
		return track.Source{}, errors.Wrapf(err, "no playable match for %q", search)
	}

	// Show the Spotify metadata; the stream comes from the search result.
	src.Title = info.Name
	src.Author = info.ArtistNames()
	if info.AlbumArtURL != "" {
		src.ThumbnailURL = info.AlbumArtURL
	}
	if src.Duration == 0 {
		src.Duration = info.Duration
	}
	src.Query = query
	return src, nil
}
