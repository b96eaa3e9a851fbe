package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/domain/track"
)

func src(title string) track.Source {
	return track.Source{Locator: "stream://" + title, Title: title}
}

func titles(items []track.Source) []string {
	result := make([]string, 0, len(items))
	for _, it := range items {
		result = append(result, it.Title)
	}
	return result
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.IsEmpty())

	q.Enqueue(src("a"))
	q.Enqueue(src("b"))
	q.Enqueue(src("c"))
	assert.Equal(t, 3, q.Size())

	got, err := q.Dequeue(0)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title)
	assert.Equal(t, []string{"b", "c"}, titles(q.Items()))
}

func TestQueue_DequeueMiddle(t *testing.T) {
	q := NewQueue()
	for _, title := range []string{"a", "b", "c", "d"} {
		q.Enqueue(src(title))
	}

	got, err := q.Dequeue(2)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Title)
	assert.Equal(t, []string{"a", "b", "d"}, titles(q.Items()))
}

func TestQueue_DequeueOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		index int
	}{
		{"empty queue", 0, 0},
		{"negative index", 2, -1},
		{"index equals size", 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue()
			for i := 0; i < tt.size; i++ {
				q.Enqueue(src("x"))
			}
			_, err := q.Dequeue(tt.index)
			assert.ErrorIs(t, err, ErrEmptyQueue)
			assert.Equal(t, tt.size, q.Size())
		})
	}
}

func TestQueue_PushFront(t *testing.T) {
	q := NewQueue()
	q.Enqueue(src("b"))
	q.PushFront(src("a"))

	head, ok := q.Peek(0)
	require.True(t, ok)
	assert.Equal(t, "a", head.Title)
	assert.Equal(t, []string{"a", "b"}, titles(q.Items()))
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue()
	q.Enqueue(src("a"))
	q.Enqueue(src("b"))

	removed := q.Clear()
	assert.Len(t, removed, 2)
	assert.True(t, q.IsEmpty())

	_, ok := q.Peek(0)
	assert.False(t, ok)
}

func TestQueue_ItemsIsCopy(t *testing.T) {
	q := NewQueue()
	q.Enqueue(src("a"))

	items := q.Items()
	items[0].Title = "changed"

	head, _ := q.Peek(0)
	assert.Equal(t, "a", head.Title)
}
