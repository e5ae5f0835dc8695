// Package slotstore provides a collection that hands out stable integer
// slots for its elements. A slot stays valid until the element is removed,
// which makes it suitable as a backing store for listener registries and
// other "stable handle, infrequent removal" workloads. Tight packing is
// deliberately traded away: insertion scans for a free slot instead of
// appending.
package slotstore

import "iter"

// minCapacity is the smallest backing array allocated on first insert.
const minCapacity = 4

// Store assigns each added element a stable index. The zero value of T is
// reserved as the empty-slot sentinel, so a Store cannot hold T's zero
// value. This is a usage restriction, not something the type system can
// enforce; Add panics when it is violated.
//
// A Store is not safe for concurrent use.
type Store[T comparable] struct {
	slots []T
	// watermark is the lowest index that might be free. Slots below it are
	// known to be occupied.
	watermark int
	length    int
}

// New returns an empty store.
func New[T comparable]() *Store[T] {
	return &Store[T]{}
}

// Len reports the number of occupied slots.
func (s *Store[T]) Len() int {
	return s.length
}

// Cap reports the size of the backing array, occupied or not.
func (s *Store[T]) Cap() int {
	return len(s.slots)
}

// Add stores item in the lowest-numbered free slot at or above the
// watermark and returns that slot's index. The backing array doubles when
// no free slot exists. Add panics if item is the zero value of T.
func (s *Store[T]) Add(item T) int {
	var empty T
	if item == empty {
		panic("slotstore: cannot store the zero value, it is the empty-slot sentinel")
	}

	for i := s.watermark; i < len(s.slots); i++ {
		if s.slots[i] == empty {
			s.slots[i] = item
			s.watermark = i + 1
			s.length++
			return i
		}
	}

	// No free slot: grow and take the first new one.
	index := len(s.slots)
	s.grow()
	s.slots[index] = item
	s.watermark = index + 1
	s.length++
	return index
}

// RemoveAt clears the slot at index back to the empty sentinel. Removing an
// already-empty slot is a no-op. RemoveAt panics if index is out of range.
func (s *Store[T]) RemoveAt(index int) {
	var empty T
	if s.slots[index] == empty {
		return
	}
	s.slots[index] = empty
	s.length--
	if index < s.watermark {
		s.watermark = index
	}
}

// Get returns the element at index and whether the slot is occupied.
func (s *Store[T]) Get(index int) (T, bool) {
	var empty T
	if index < 0 || index >= len(s.slots) || s.slots[index] == empty {
		return empty, false
	}
	return s.slots[index], true
}

// IndexOf linearly scans for item and returns its slot, or -1 when absent.
// As a side effect it lowers the watermark to the first free slot it passes,
// amortizing the scan cost of a subsequent Add.
func (s *Store[T]) IndexOf(item T) int {
	var empty T
	lowestFree := -1
	for i, slot := range s.slots {
		if slot == empty {
			if lowestFree == -1 {
				lowestFree = i
			}
			continue
		}
		if slot == item {
			if lowestFree != -1 && lowestFree < s.watermark {
				s.watermark = lowestFree
			}
			return i
		}
	}
	if lowestFree != -1 && lowestFree < s.watermark {
		s.watermark = lowestFree
	}
	return -1
}

// All iterates over occupied slots in index order, yielding each slot index
// and its element. The sequence is a single forward pass and is not safe
// against mutation of the store while iterating.
func (s *Store[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		var empty T
		for i, slot := range s.slots {
			if slot == empty {
				continue
			}
			if !yield(i, slot) {
				return
			}
		}
	}
}

func (s *Store[T]) grow() {
	newCap := len(s.slots) * 2
	if newCap < minCapacity {
		newCap = minCapacity
	}
	grown := make([]T, newCap)
	copy(grown, s.slots)
	s.slots = grown
}
