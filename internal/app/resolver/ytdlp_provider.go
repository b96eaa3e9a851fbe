package resolver

import (
	"context"

	"github.com/osa030/voicebox/internal/domain/track"
)

// YtdlpProvider resolves page URLs and free-text searches with yt-dlp.
// It matches every query, so it belongs at the end of the chain.
type YtdlpProvider struct {
	client Searcher
}

// NewYtdlpProvider creates a new yt-dlp provider.
func NewYtdlpProvider(client Searcher) *YtdlpProvider {
	return &YtdlpProvider{client: client}
}

// Name returns the provider name.
func (p *YtdlpProvider) Name() string {
	return "ytdlp"
}

// Matches returns true for any query.
func (p *YtdlpProvider) Matches(query string) bool {
	return true
}

// Resolve resolves the query.
func (p *YtdlpProvider) Resolve(ctx context.Context, query string) (track.Source, error) {
	return p.client.Resolve(ctx, query)
}
