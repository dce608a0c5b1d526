// Package queue implements the per-guild ordered song queue: a slice of
// songs with a cursor marking the in-progress item. Consumed history below
// the cursor is kept so playback can go back; the view exposed to callers
// is always the subsequence from the cursor onward.
package queue

import (
	"errors"
	"math/rand"
	"sync"

	"Bt1QDJ/model"
)

// ErrOutOfRange is returned when a cursor move or an index argument falls
// outside the queue.
var ErrOutOfRange = errors.New("queue index out of range")

// Queue is safe for concurrent use. External index arguments are 1-based
// over the upcoming view; internal storage is 0-based.
type Queue struct {
	mu     sync.Mutex
	items  []model.Song
	cursor int
}

// New returns an empty queue with the cursor at 0.
func New() *Queue {
	return &Queue{}
}

// Add inserts a song. Playlist songs always append, so bulk additions never
// jump ahead of anything. A non-playlist song is inserted after the last
// contiguous run of non-playlist songs following the in-progress item, giving
// ad-hoc requests priority over queued playlist blocks. The item at the
// cursor never moves, so the current song stays current. toFront places the
// song immediately after the in-progress item instead.
func (q *Queue) Add(song model.Song, toFront bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if song.Playlist != nil {
		q.items = append(q.items, song)
		return
	}

	var at int
	if toFront {
		at = q.cursor + 1
		if at > len(q.items) {
			at = len(q.items)
		}
	} else {
		at = q.cursor
		if at < len(q.items) {
			at++ // the in-progress item is pinned
		}
		for at < len(q.items) && q.items[at].Playlist == nil {
			at++
		}
	}
	q.items = append(q.items[:at], append([]model.Song{song}, q.items[at:]...)...)
}

// Forward moves the cursor to the next item.
func (q *Queue) Forward() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor+1 >= len(q.items) {
		return ErrOutOfRange
	}
	q.cursor++
	return nil
}

// Back moves the cursor to the previous item.
func (q *Queue) Back() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor == 0 {
		return ErrOutOfRange
	}
	q.cursor--
	return nil
}

// Current returns a copy of the item at the cursor, or nil when the cursor
// is past the end.
func (q *Queue) Current() *model.Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor >= len(q.items) {
		return nil
	}
	song := q.items[q.cursor]
	return &song
}

// Get returns a copy of the upcoming view: the items from the cursor onward.
func (q *Queue) Get() []model.Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	view := make([]model.Song, len(q.items)-q.cursor)
	copy(view, q.items[q.cursor:])
	return view
}

// Size returns the total number of items, history included.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// UpcomingSize returns the length of the upcoming view.
func (q *Queue) UpcomingSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.cursor
}

// Shuffle randomly permutes the items strictly after the cursor. The
// in-progress item never moves.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor+1 >= len(q.items) {
		return
	}
	rest := q.items[q.cursor+1:]
	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
}

// Move relocates the 1-indexed upcoming item from to position to and
// returns it.
func (q *Queue) Move(from, to int) (model.Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	upcoming := len(q.items) - q.cursor
	if from < 1 || from > upcoming || to < 1 || to > upcoming {
		return model.Song{}, ErrOutOfRange
	}

	src := q.cursor + from - 1
	dst := q.cursor + to - 1

	item := q.items[src]
	q.items = append(q.items[:src], q.items[src+1:]...)
	q.items = append(q.items[:dst], append([]model.Song{item}, q.items[dst:]...)...)
	return item, nil
}

// RemoveRange deletes count contiguous upcoming items starting at the
// 1-indexed position start.
func (q *Queue) RemoveRange(start, count int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	upcoming := len(q.items) - q.cursor
	if start < 1 || count < 1 || start+count-1 > upcoming {
		return ErrOutOfRange
	}

	begin := q.cursor + start - 1
	end := begin + count
	q.items = append(q.items[:begin], q.items[end:]...)
	return nil
}

// Clear drops everything except the in-progress item. History is discarded
// and the kept item becomes the first one.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor >= len(q.items) {
		q.items = nil
		q.cursor = 0
		return
	}
	q.items = []model.Song{q.items[q.cursor]}
	q.cursor = 0
}

// Reset drops every item, history included, and rewinds the cursor.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.cursor = 0
}

// RewindToStart moves the cursor back to the first item without discarding
// anything. Used when looping the whole queue.
func (q *Queue) RewindToStart() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cursor = 0
}
