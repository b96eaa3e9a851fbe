package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
)

var (
	// Remaster and version markers
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}

	// Upload decorations added by video sites
	uploadPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[]\s*official\s+(music\s+)?(video|audio|mv)\s*[\)\]]`), // "(Official Video)"
		regexp.MustCompile(`\s*[\(\[]\s*(lyrics?|lyric\s+video)\s*[\)\]]`),                // "(Lyrics)"
		regexp.MustCompile(`\s*[\(\[]\s*(mv|m/v|hd|hq|4k)\s*[\)\]]`),                      // "[MV]"
		regexp.MustCompile(`\s*[\(\[]\s*audio\s*[\)\]]`),                                  // "(Audio)"
	}

	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*-?\s*live`),             // "- Live"
		regexp.MustCompile(`\s*\(live\)`),              // "(Live)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}

	whitespacePattern = regexp.MustCompile(`\s+`)
	authorSuffix      = regexp.MustCompile(`(\s*-\s*topic|vevo|\s*official)$`)
)

// DuplicateTrackFilter checks for duplicate tracks in the session.
// Detects:
// - Same page URL as the current or a queued track
// - Re-uploads (normalized title + same author)
// Excludes:
// - Cover songs (same title but different author)
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks that are already playing or queued, including remasters and re-uploads. Covers are allowed"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate of the current track or anything queued.
func (f *DuplicateTrackFilter) Check(ctx context.Context, requested track.Source, view playback.View) Result {
	candidates := view.Items
	if view.Current != nil {
		candidates = append([]track.Source{*view.Current}, candidates...)
	}

	for _, existing := range candidates {
		if isSameSource(existing, requested) || isRemaster(existing, requested) {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

// isSameSource checks if two tracks point at the same page or stream.
func isSameSource(a, b track.Source) bool {
	if a.URL != "" && a.URL == b.URL {
		return true
	}
	return a.Locator != "" && a.Locator == b.Locator
}

// isRemaster checks if two tracks are the same song (remaster, re-upload or different version).
// Returns true if:
// - Normalized titles match
// - Authors are the same
func isRemaster(a, b track.Source) bool {
	if normalizeTrackName(a.Title) != normalizeTrackName(b.Title) {
		return false
	}

	// Same normalized title - check if same author
	// If different authors, it's a cover song (allowed)
	return isSameArtist(a, b)
}

// normalizeTrackName removes remaster information, upload decorations and version details.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range uploadPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	normalized = strings.TrimRight(normalized, " -")

	return normalized
}

// normalizeAuthor strips channel suffixes like "VEVO" and "- Topic".
func normalizeAuthor(author string) string {
	return strings.TrimSpace(authorSuffix.ReplaceAllString(strings.ToLower(strings.TrimSpace(author)), ""))
}

// isSameArtist checks if two tracks have the same author, case-insensitive.
func isSameArtist(a, b track.Source) bool {
	authorA, authorB := normalizeAuthor(a.Author), normalizeAuthor(b.Author)
	if authorA == "" || authorB == "" {
		return false
	}
	return authorA == authorB
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
