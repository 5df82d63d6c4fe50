// Package slots provides a fixed-capacity FIFO container with in-place slot construction.
//
// Store is the only shared mutable structure of the background queue:
//   - Construct: multi-producer, builds the new tail entry directly in its slot.
//   - ConsumeFront: single consumer, detaches the head entry.
//   - RemoveIf / Clear: selective and full removal (cancellation).
//
// Every mutation happens under one mutex, so no caller ever observes a
// half-built entry. Visitors run after the lock is released: a visitor may
// call back into the Store without deadlocking.
package slots

import "sync"

// Store is a bounded ring of T values. The zero value is not usable; use New.
type Store[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int
	count int
}

// New returns an empty Store holding at most capacity entries.
// Capacity is fixed for the life of the Store; values below 1 are clamped to 1.
func New[T any](capacity int) *Store[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Store[T]{buf: make([]T, capacity)}
}

// Construct reserves the next tail slot and runs build on it.
// It returns false without mutating anything when the Store is full.
func (s *Store[T]) Construct(build func(slot *T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == len(s.buf) {
		return false
	}
	idx := (s.head + s.count) % len(s.buf)
	var zero T
	s.buf[idx] = zero
	if build != nil {
		build(&s.buf[idx])
	}
	s.count++
	return true
}

// ConsumeFront detaches the head entry and passes it to visit.
// The slot is vacated before visit runs, so producers can reuse it immediately.
// It returns false when the Store is empty.
func (s *Store[T]) ConsumeFront(visit func(entry *T)) bool {
	s.mu.Lock()
	if s.count == 0 {
		s.mu.Unlock()
		return false
	}
	var zero T
	entry := s.buf[s.head]
	s.buf[s.head] = zero
	s.head = (s.head + 1) % len(s.buf)
	s.count--
	s.mu.Unlock()

	if visit != nil {
		visit(&entry)
	}
	return true
}

// RemoveIf removes every entry for which match returns true, keeping the
// survivors in their original order. Removed entries are handed to visit
// (in queue order) once the lock is released. It returns the number removed.
//
// match runs under the Store lock and must not call back into the Store.
func (s *Store[T]) RemoveIf(match func(entry *T) bool, visit func(entry *T)) int {
	if match == nil {
		return 0
	}
	s.mu.Lock()
	var removed []T
	var zero T
	n := len(s.buf)
	kept := 0
	for i := 0; i < s.count; i++ {
		src := (s.head + i) % n
		if match(&s.buf[src]) {
			removed = append(removed, s.buf[src])
			s.buf[src] = zero
			continue
		}
		dst := (s.head + kept) % n
		if dst != src {
			s.buf[dst] = s.buf[src]
			s.buf[src] = zero
		}
		kept++
	}
	s.count = kept
	s.mu.Unlock()

	if visit != nil {
		for i := range removed {
			visit(&removed[i])
		}
	}
	return len(removed)
}

// Clear removes every entry and hands each one to visit (in queue order)
// after the lock is released. It returns the number removed.
func (s *Store[T]) Clear(visit func(entry *T)) int {
	s.mu.Lock()
	removed := make([]T, 0, s.count)
	var zero T
	n := len(s.buf)
	for i := 0; i < s.count; i++ {
		idx := (s.head + i) % n
		removed = append(removed, s.buf[idx])
		s.buf[idx] = zero
	}
	s.head = 0
	s.count = 0
	s.mu.Unlock()

	if visit != nil {
		for i := range removed {
			visit(&removed[i])
		}
	}
	return len(removed)
}

// Size is a point-in-time snapshot of the number of queued entries.
func (s *Store[T]) Size() int {
	s.mu.Lock()
	n := s.count
	s.mu.Unlock()
	return n
}

// Cap returns the fixed capacity.
func (s *Store[T]) Cap() int { return len(s.buf) }

// Full reports whether every slot is occupied. It is a snapshot and may be
// stale by the time the caller acts on it.
func (s *Store[T]) Full() bool { return s.Size() == len(s.buf) }

// Empty reports whether no slot is occupied. Same snapshot caveat as Full.
func (s *Store[T]) Empty() bool { return s.Size() == 0 }
