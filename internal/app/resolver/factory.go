package resolver

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/ytdlp"
)

// NewChainFromConfig creates a provider chain from configuration.
// The spotify provider searches through the ytdlp provider, so ytdlp must be configured with it.
// The ytdlp provider is always tried last.
func NewChainFromConfig(cfg *config.Config, spotifyClient SpotifyClient) (*Chain, error) {
	if len(cfg.Resolver.Providers) == 0 {
		return nil, errors.New("no resolver providers configured")
	}

	var searcher Searcher
	for _, pcfg := range cfg.Resolver.Providers {
		if pcfg.Type != "ytdlp" {
			continue
		}
		ycfg, err := ytdlp.ParseConfig(pcfg.Settings)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse ytdlp provider settings")
		}
		searcher = ytdlp.New(ycfg)
		break
	}

	var providers []Provider
	var catchAll Provider

	for i, pcfg := range cfg.Resolver.Providers {
		var provider Provider
		zlog.Debug().Msgf("creating resolver provider: index=%d type=%s settings=%+v", i+1, pcfg.Type, pcfg.Settings)

		switch pcfg.Type {
		case "ytdlp":
			// Matches everything, so it always goes last
			catchAll = NewYtdlpProvider(searcher)
			zlog.Info().Msgf("registered resolver provider: index=%d type=%s", i+1, pcfg.Type)
			continue

		case "spotify":
			if spotifyClient == nil {
				return nil, errors.Newf("spotify provider requires a spotify client (provider index %d)", i)
			}
			if searcher == nil {
				return nil, errors.Newf("spotify provider requires a ytdlp provider to search with (provider index %d)", i)
			}
			provider = NewSpotifyProvider(spotifyClient, searcher)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		providers = append(providers, provider)
		zlog.Info().Msgf("registered resolver provider: index=%d type=%s", i+1, pcfg.Type)
	}

	if catchAll != nil {
		providers = append(providers, catchAll)
	}

	return NewChain(providers...), nil
}
