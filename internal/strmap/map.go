// Package strmap implements a hash map specialized for string keys. Its
// reason to exist over the built-in map is the byte-span call forms:
// lookups, inserts, and removals can be driven by a borrowed []byte without
// materializing a string first, which keeps hot asset-path resolution free
// of per-call allocations. An owned string is only created when a new entry
// is actually inserted.
//
// The map is not safe for concurrent use; callers serialize access
// externally. Detected corruption from disallowed concurrent mutation is
// treated as unrecoverable and panics rather than risking wrong lookups.
package strmap

import (
	"fmt"
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
)

// InsertBehavior selects what Insert does when the key already exists.
type InsertBehavior int

const (
	// KeepExisting leaves the present value untouched.
	KeepExisting InsertBehavior = iota
	// Overwrite replaces the present value.
	Overwrite
	// ErrorOnExisting makes Insert return a DuplicateKeyError.
	ErrorOnExisting
)

// DuplicateKeyError is returned by Insert with ErrorOnExisting when the key
// is already present.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("strmap: key %q already present", e.Key)
}

// maxChainLength is the collision-depth threshold beyond which the map
// assumes adversarial key choice and switches to a randomized seed. The
// switch rehashes every live entry immediately so the "stored hash equals
// computed hash" invariant holds at all times.
const maxChainLength = 100

// primes is the table-size progression. Prime bucket counts reduce
// clustering when key hashes share low-bit patterns. Sizes beyond the table
// are computed on the fly.
var primes = []int{
	3, 7, 17, 37, 79, 163, 331, 673, 1361, 2729, 5471, 10949, 21911, 43853,
	87719, 175447, 350899, 701819, 1403641, 2807303, 5614657, 11229331,
	22458671, 44917381, 89834777, 179669557, 359339171, 718678369, 1437356741,
}

// freeListBase encodes free-slot chain pointers in the entry next field.
// Live entries have next >= -1; a freed entry stores freeListBase-nextFree,
// which is always <= -2 and therefore unambiguous.
const freeListBase = -3

type entry[V any] struct {
	hash  uint32
	next  int
	key   string
	value V
}

// Map is a chained hash table over parallel bucket and entry arrays.
type Map[V any] struct {
	buckets []int
	entries []entry[V]

	count     int // entry slots handed out, including freed ones
	freeList  int // head of the freed-slot chain, -1 when empty
	freeCount int

	seed       maphash.Seed
	randomized bool
}

// New returns an empty map. No storage is allocated until the first insert.
func New[V any]() *Map[V] {
	return &Map[V]{freeList: -1}
}

// Len reports the number of live entries.
func (m *Map[V]) Len() int {
	return m.count - m.freeCount
}

func (m *Map[V]) hashString(key string) uint32 {
	if m.randomized {
		return uint32(maphash.String(m.seed, key))
	}
	return uint32(xxhash.Sum64String(key))
}

func (m *Map[V]) hashBytes(span []byte) uint32 {
	if m.randomized {
		return uint32(maphash.Bytes(m.seed, span))
	}
	return uint32(xxhash.Sum64(span))
}

// Lookup returns the value stored under key.
func (m *Map[V]) Lookup(key string) (V, bool) {
	i := m.findEntry(m.hashString(key), func(k string) bool { return k == key })
	if i < 0 {
		var zero V
		return zero, false
	}
	return m.entries[i].value, true
}

// LookupBytes is Lookup for a borrowed byte span. It never allocates.
func (m *Map[V]) LookupBytes(span []byte) (V, bool) {
	i := m.findEntry(m.hashBytes(span), func(k string) bool { return k == string(span) })
	if i < 0 {
		var zero V
		return zero, false
	}
	return m.entries[i].value, true
}

// ContainsKey reports whether key is present.
func (m *Map[V]) ContainsKey(key string) bool {
	_, ok := m.Lookup(key)
	return ok
}

// ContainsKeyBytes reports whether the span's content is present as a key.
func (m *Map[V]) ContainsKeyBytes(span []byte) bool {
	_, ok := m.LookupBytes(span)
	return ok
}

// Insert stores value under key according to behavior. It reports whether a
// new entry was created. The only error case is ErrorOnExisting meeting a
// present key.
func (m *Map[V]) Insert(key string, value V, behavior InsertBehavior) (bool, error) {
	return m.insert(key, value, behavior, m.hashString(key))
}

// InsertBytes is Insert for a borrowed byte span. The span is copied into an
// owned string only when a new entry is actually created.
func (m *Map[V]) InsertBytes(span []byte, value V, behavior InsertBehavior) (bool, error) {
	hash := m.hashBytes(span)
	i := m.findEntry(hash, func(k string) bool { return k == string(span) })
	if i >= 0 {
		return m.handleExisting(i, value, behavior)
	}
	m.addEntry(string(span), value, hash)
	return true, nil
}

// Remove deletes key and returns the removed value.
func (m *Map[V]) Remove(key string) (V, bool) {
	return m.remove(m.hashString(key), func(k string) bool { return k == key })
}

// RemoveBytes is Remove for a borrowed byte span.
func (m *Map[V]) RemoveBytes(span []byte) (V, bool) {
	return m.remove(m.hashBytes(span), func(k string) bool { return k == string(span) })
}

// Keys appends every live key to dst and returns it. Order is unspecified.
func (m *Map[V]) Keys(dst []string) []string {
	for i := 0; i < m.count; i++ {
		if m.entries[i].next >= -1 {
			dst = append(dst, m.entries[i].key)
		}
	}
	return dst
}

// Values appends every live value to dst and returns it. Order is unspecified.
func (m *Map[V]) Values(dst []V) []V {
	for i := 0; i < m.count; i++ {
		if m.entries[i].next >= -1 {
			dst = append(dst, m.entries[i].value)
		}
	}
	return dst
}

func (m *Map[V]) insert(key string, value V, behavior InsertBehavior, hash uint32) (bool, error) {
	i := m.findEntry(hash, func(k string) bool { return k == key })
	if i >= 0 {
		return m.handleExisting(i, value, behavior)
	}
	m.addEntry(key, value, hash)
	return true, nil
}

func (m *Map[V]) handleExisting(i int, value V, behavior InsertBehavior) (bool, error) {
	switch behavior {
	case Overwrite:
		m.entries[i].value = value
		return false, nil
	case ErrorOnExisting:
		return false, &DuplicateKeyError{Key: m.entries[i].key}
	default:
		return false, nil
	}
}

// findEntry walks the bucket chain for hash, returning the entry index whose
// key satisfies match, or -1. A chain longer than the entry array means the
// forward pointers form a loop, which only disallowed concurrent mutation
// can produce.
func (m *Map[V]) findEntry(hash uint32, match func(key string) bool) int {
	if len(m.buckets) == 0 {
		return -1
	}
	probes := 0
	for i := m.buckets[int(hash)%len(m.buckets)]; i >= 0; i = m.entries[i].next {
		if m.entries[i].hash == hash && match(m.entries[i].key) {
			return i
		}
		probes++
		if probes > len(m.entries) {
			panic("strmap: chain loop detected, map was mutated concurrently")
		}
	}
	return -1
}

func (m *Map[V]) addEntry(key string, value V, hash uint32) {
	if len(m.buckets) == 0 {
		m.resize(primes[0])
	}

	var index int
	if m.freeCount > 0 {
		index = m.freeList
		m.freeList = freeListBase - m.entries[index].next
		m.freeCount--
	} else {
		if m.count == len(m.entries) {
			m.resize(nextPrime(m.count * 2))
			// resize leaves hash valid: bucket count changed, seed did not.
		}
		index = m.count
		m.count++
	}

	bucket := int(hash) % len(m.buckets)
	m.entries[index] = entry[V]{hash: hash, next: m.buckets[bucket], key: key, value: value}
	m.buckets[bucket] = index

	if !m.randomized && m.chainLength(bucket) > maxChainLength {
		m.randomize()
	}
}

func (m *Map[V]) remove(hash uint32, match func(key string) bool) (V, bool) {
	var zero V
	if len(m.buckets) == 0 {
		return zero, false
	}
	bucket := int(hash) % len(m.buckets)
	prev := -1
	probes := 0
	for i := m.buckets[bucket]; i >= 0; i = m.entries[i].next {
		if m.entries[i].hash == hash && match(m.entries[i].key) {
			if prev < 0 {
				m.buckets[bucket] = m.entries[i].next
			} else {
				m.entries[prev].next = m.entries[i].next
			}
			removed := m.entries[i].value
			m.entries[i] = entry[V]{next: freeListBase - m.freeList}
			m.freeList = i
			m.freeCount++
			return removed, true
		}
		prev = i
		probes++
		if probes > len(m.entries) {
			panic("strmap: chain loop detected, map was mutated concurrently")
		}
	}
	return zero, false
}

func (m *Map[V]) chainLength(bucket int) int {
	n := 0
	for i := m.buckets[bucket]; i >= 0; i = m.entries[i].next {
		n++
		if n > len(m.entries) {
			panic("strmap: chain loop detected, map was mutated concurrently")
		}
	}
	return n
}

// randomize switches to a seeded hash and rehashes every live entry in the
// same step. Deferring the rehash would leave entries whose stored hash no
// longer matches the active hash function.
func (m *Map[V]) randomize() {
	m.randomized = true
	m.seed = maphash.MakeSeed()
	m.rehash(len(m.buckets), true)
}

// resize grows the table to newSize buckets and entry slots, compacting
// freed slots away.
func (m *Map[V]) resize(newSize int) {
	grown := make([]entry[V], newSize)
	live := 0
	for i := 0; i < m.count; i++ {
		if m.entries[i].next >= -1 {
			grown[live] = m.entries[i]
			live++
		}
	}
	m.entries = grown
	m.count = live
	m.freeList = -1
	m.freeCount = 0
	m.rebucket(newSize, false)
}

// rehash recomputes entry hashes (when reseed is set) and rebuilds buckets.
func (m *Map[V]) rehash(bucketCount int, reseed bool) {
	compact := make([]entry[V], len(m.entries))
	live := 0
	for i := 0; i < m.count; i++ {
		if m.entries[i].next >= -1 {
			compact[live] = m.entries[i]
			live++
		}
	}
	m.entries = compact
	m.count = live
	m.freeList = -1
	m.freeCount = 0
	m.rebucket(bucketCount, reseed)
}

func (m *Map[V]) rebucket(bucketCount int, reseed bool) {
	m.buckets = make([]int, bucketCount)
	for i := range m.buckets {
		m.buckets[i] = -1
	}
	for i := 0; i < m.count; i++ {
		if reseed {
			m.entries[i].hash = m.hashString(m.entries[i].key)
		}
		bucket := int(m.entries[i].hash) % bucketCount
		m.entries[i].next = m.buckets[bucket]
		m.buckets[bucket] = i
	}
}

// nextPrime returns the first value in the prime progression >= n, computing
// beyond the precomputed range when necessary.
func nextPrime(n int) int {
	for _, p := range primes {
		if p >= n {
			return p
		}
	}
	for candidate := n | 1; ; candidate += 2 {
		if isPrime(candidate) {
			return candidate
		}
	}
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for d := 3; d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return n%2 != 0 || n == 2
}
