package queue

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/tuneverse/tuneverse/internal/library"
)

// Queue maintains the ordered list of songs the player can navigate and the
// current position. Navigation wraps at both ends. The player session
// advances it from its own goroutine while the UI mutates it, so every
// method takes the lock.
type Queue struct {
	mu       sync.Mutex
	items    []library.Song
	current  int
	shuffled bool
	original []library.Song
}

var ErrEmpty = errors.New("queue is empty")

func New() *Queue {
	return &Queue{items: []library.Song{}, current: -1}
}

func (q *Queue) Items() []library.Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]library.Song, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Current() (library.Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current < 0 || q.current >= len(q.items) {
		return library.Song{}, ErrEmpty
	}
	return q.items[q.current], nil
}

func (q *Queue) CurrentIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

func (q *Queue) Add(songs ...library.Song) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, songs...)
	if q.current == -1 && len(q.items) > 0 {
		q.current = 0
	}
}

// Replace swaps the whole queue for a fresh song list, keeping the current
// song selected when it survives the refresh. The catalog is refreshed
// wholesale from the backend, never merged.
func (q *Queue) Replace(songs []library.Song) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var currentID string
	if q.current >= 0 && q.current < len(q.items) {
		currentID = q.items[q.current].ID
	}
	q.items = make([]library.Song, len(songs))
	copy(q.items, songs)
	q.original = nil
	q.shuffled = false
	q.current = -1
	if currentID != "" {
		for i, s := range q.items {
			if s.ID == currentID {
				q.current = i
				break
			}
		}
	}
	if q.current == -1 && len(q.items) > 0 {
		q.current = 0
	}
}

func (q *Queue) Remove(idx int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx < 0 || idx >= len(q.items) {
		return errors.New("index out of range")
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	if len(q.items) == 0 {
		q.current = -1
		return nil
	}
	if idx < q.current {
		q.current--
	} else if idx == q.current && q.current >= len(q.items) {
		q.current = len(q.items) - 1
	}
	return nil
}

func (q *Queue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if from < 0 || from >= len(q.items) || to < 0 || to >= len(q.items) {
		return errors.New("index out of range")
	}
	if from == to {
		return nil
	}
	item := q.items[from]
	if from < to {
		copy(q.items[from:], q.items[from+1:to+1])
	} else {
		copy(q.items[to+1:], q.items[to:from])
	}
	q.items[to] = item
	if q.current == from {
		q.current = to
	} else if from < q.current && to >= q.current {
		q.current--
	} else if from > q.current && to <= q.current {
		q.current++
	}
	return nil
}

func (q *Queue) ToggleShuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuffled = !q.shuffled
	if q.shuffled {
		q.original = make([]library.Song, len(q.items))
		copy(q.original, q.items)

		currentSong := library.Song{}
		if q.current >= 0 && q.current < len(q.items) {
			currentSong = q.items[q.current]
		}

		rand.Shuffle(len(q.items), func(i, j int) {
			q.items[i], q.items[j] = q.items[j], q.items[i]
		})

		if currentSong.ID != "" {
			for i, s := range q.items {
				if s.ID == currentSong.ID {
					q.current = i
					break
				}
			}
		}
	} else {
		if q.original != nil {
			currentSong := library.Song{}
			if q.current >= 0 && q.current < len(q.items) {
				currentSong = q.items[q.current]
			}

			q.items = q.original
			q.original = nil

			if currentSong.ID != "" {
				for i, s := range q.items {
					if s.ID == currentSong.ID {
						q.current = i
						break
					}
				}
			}
		}
	}
}

func (q *Queue) IsShuffled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffled
}

// Next advances by one, wrapping to the first song past the end.
func (q *Queue) Next() (library.Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return library.Song{}, ErrEmpty
	}
	q.current = (q.current + 1) % len(q.items)
	return q.items[q.current], nil
}

// Prev decrements by one, wrapping to the last song before index 0.
func (q *Queue) Prev() (library.Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return library.Song{}, ErrEmpty
	}
	if q.current <= 0 {
		q.current = len(q.items) - 1
	} else {
		q.current--
	}
	return q.items[q.current], nil
}

// IndexOf returns the position of a song by ID, or -1.
func (q *Queue) IndexOf(songID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range q.items {
		if s.ID == songID {
			return i
		}
	}
	return -1
}

func (q *Queue) SetCurrent(idx int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx < 0 || idx >= len(q.items) {
		return errors.New("index out of range")
	}
	q.current = idx
	return nil
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.current = -1
}
