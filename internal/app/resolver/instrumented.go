package resolver

import (
	"context"
	"time"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Observer records the outcome of one resolution.
type Observer func(d time.Duration, err error)

// Instrumented reports the latency of every resolution to an observer.
type Instrumented struct {
	next    Searcher
	observe Observer
}

// NewInstrumented wraps next with an observer.
func NewInstrumented(next Searcher, observe Observer) *Instrumented {
	return &Instrumented{next: next, observe: observe}
}

// Resolve resolves query through the wrapped resolver.
func (i *Instrumented) Resolve(ctx context.Context, query string) (track.Source, error) {
	start := time.Now()
	src, err := i.next.Resolve(ctx, query)
	i.observe(time.Since(start), err)
	return src, err
}
