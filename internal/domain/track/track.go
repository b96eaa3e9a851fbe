// Package track provides the resolved track value shared by resolvers, sessions and displays.
package track

import (
	"fmt"
	"time"
)

// Source is a resolved, playable track.
// It is created by a resolver and never mutated afterwards, so it is passed by value.
type Source struct {
	Locator      string        // Stream locator the audio sink can open
	Title        string        // Track title
	Author       string        // Uploader or artist
	URL          string        // Page URL shown to users
	ThumbnailURL string        // Thumbnail image URL
	Duration     time.Duration // Zero if unknown (live streams)
	Query        string        // Query the track was resolved from
}

// DisplayTitle returns "Title - Author", or just the title when the author is unknown.
func (s Source) DisplayTitle() string {
	if s.Author == "" {
		return s.Title
	}
	return fmt.Sprintf("%s - %s", s.Title, s.Author)
}

// IsLive reports whether the track has no known duration.
func (s Source) IsLive() bool {
	return s.Duration <= 0
}

// ReplayQuery returns the query to use when the track has to be resolved again.
// Stream locators expire, so favorites and history replay from the page URL when one is known.
func (s Source) ReplayQuery() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Query
}
