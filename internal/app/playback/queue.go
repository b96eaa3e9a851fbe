package playback

import (
	"github.com/osa030/voicebox/internal/domain/track"
)

// Queue is an ordered list of pending tracks for one room.
// It has no locking of its own; the owning Session serializes access.
type Queue struct {
	items []track.Source
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items: make([]track.Source, 0),
	}
}

// Enqueue appends a track to the end of the queue.
func (q *Queue) Enqueue(t track.Source) {
	q.items = append(q.items, t)
}

// PushFront inserts a track at the head of the queue.
func (q *Queue) PushFront(t track.Source) {
	q.items = append([]track.Source{t}, q.items...)
}

// Dequeue removes and returns the track at index.
// Returns ErrEmptyQueue if index is out of range, which includes an empty queue.
func (q *Queue) Dequeue(index int) (track.Source, error) {
	if index < 0 || index >= len(q.items) {
		return track.Source{}, ErrEmptyQueue
	}

	t := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	return t, nil
}

// Peek returns the track at index without removing it.
func (q *Queue) Peek(index int) (track.Source, bool) {
	if index < 0 || index >= len(q.items) {
		return track.Source{}, false
	}
	return q.items[index], true
}

// Size returns the number of pending tracks.
func (q *Queue) Size() int {
	return len(q.items)
}

// IsEmpty returns true if nothing is pending.
func (q *Queue) IsEmpty() bool {
	return len(q.items) == 0
}

// Clear removes all tracks and returns them.
func (q *Queue) Clear() []track.Source {
	removed := q.items
	q.items = make([]track.Source, 0)
	return removed
}

// Items returns a copy of the pending tracks.
func (q *Queue) Items() []track.Source {
	result := make([]track.Source, len(q.items))
	copy(result, q.items)
	return result
}
