package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_DisplayTitle(t *testing.T) {
	tests := []struct {
		name   string
		source Source
		want   string
	}{
		{
			name:   "title and author",
			source: Source{Title: "Song A", Author: "Band"},
			want:   "Song A - Band",
		},
		{
			name:   "title only",
			source: Source{Title: "Song A"},
			want:   "Song A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.source.DisplayTitle())
		})
	}
}

func TestSource_IsLive(t *testing.T) {
	assert.True(t, Source{}.IsLive())
	assert.False(t, Source{Duration: 3 * time.Minute}.IsLive())
}

func TestSource_ReplayQuery(t *testing.T) {
	s := Source{Query: "song a", URL: "https://www.youtube.com/watch?v=abc"}
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", s.ReplayQuery())

	s.URL = ""
	assert.Equal(t, "song a", s.ReplayQuery())
}
