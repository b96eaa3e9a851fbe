package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
)

// QueueLimitConfig represents the configuration for QueueLimitFilter.
type QueueLimitConfig struct {
	MaxTracks int `yaml:"max_tracks" mapstructure:"max_tracks" default:"50" validate:"gte=1,lte=1000"`
}

// QueueLimitFilter rejects requests once the queue holds MaxTracks pending tracks.
type QueueLimitFilter struct {
	config QueueLimitConfig
}

// NewQueueLimitFilter creates a queue limit filter with the default limit.
func NewQueueLimitFilter() *QueueLimitFilter {
	f := &QueueLimitFilter{}
	_ = defaults.Set(&f.config)
	return f
}

func (f *QueueLimitFilter) Name() string {
	return "queue_limit_filter"
}

func (f *QueueLimitFilter) Description() string {
	return "Rejects requests when the queue is full"
}

func (f *QueueLimitFilter) ReturnCodes() []string {
	return []string{"queue_full"}
}

func (f *QueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config QueueLimitConfig
	if err := mapstructure.WeakDecode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = config
	return nil
}

func (f *QueueLimitFilter) Check(ctx context.Context, t track.Source, view playback.View) Result {
	if len(view.Items) >= f.config.MaxTracks {
		return Reject("queue_full")
	}
	return Accept()
}

func init() {
	Register("queue_limit_filter", func() Filter {
		return NewQueueLimitFilter()
	})
}
