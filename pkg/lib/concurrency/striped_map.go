package concurrency

import (
	"hash/crc32"
	"sync"
)

const (
	defaultStripeCount int = 16
)

// StripedMap is a string-keyed map sharded across independently locked
// stripes, so unrelated keys never contend on one lock. Entry tables index
// millions of independent objects; a single map mutex would serialize them.
type StripedMap[K ~string, T any] struct {
	stripeCount int
	maps        []map[K]T
	locks       []sync.RWMutex
}

func NewStripedMap[K ~string, T any](numStripes int) *StripedMap[K, T] {
	count := numStripes
	if count == 0 {
		count = defaultStripeCount
	}

	s := &StripedMap[K, T]{
		stripeCount: count,
	}

	for i := 0; i < count; i++ {
		s.maps = append(s.maps, make(map[K]T))
		s.locks = append(s.locks, sync.RWMutex{})
	}

	return s
}

func (s *StripedMap[K, T]) Put(key K, value T) {
	idx := s.hash(key)

	s.locks[idx].Lock()
	s.maps[idx][key] = value
	s.locks[idx].Unlock()
}

func (s *StripedMap[K, T]) Get(key K) (T, bool) {
	idx := s.hash(key)

	s.locks[idx].RLock()
	defer s.locks[idx].RUnlock()

	v, ok := s.maps[idx][key]
	return v, ok
}

// GetOrPut returns the existing value for key, or stores and returns the
// value produced by create. The create function runs under the stripe lock,
// so exactly one value wins for concurrent callers.
func (s *StripedMap[K, T]) GetOrPut(key K, create func() T) (T, bool) {
	idx := s.hash(key)

	s.locks[idx].Lock()
	defer s.locks[idx].Unlock()

	if v, ok := s.maps[idx][key]; ok {
		return v, true
	}
	v := create()
	s.maps[idx][key] = v
	return v, false
}

func (s *StripedMap[K, T]) Delete(key K) {
	idx := s.hash(key)

	s.locks[idx].Lock()
	defer s.locks[idx].Unlock()

	delete(s.maps[idx], key)
}

func (s *StripedMap[K, T]) Len() int {
	count := 0

	for i := 0; i < s.stripeCount; i++ {
		s.locks[i].RLock()
		count += len(s.maps[i])
		s.locks[i].RUnlock()
	}

	return count
}

// Iter calls fn for every entry, one stripe at a time under that stripe's
// read lock. Iteration stops early when fn returns false.
func (s *StripedMap[K, T]) Iter(fn func(key K, value T) bool) {
	for i := 0; i < s.stripeCount; i++ {
		s.locks[i].RLock()
		for k, v := range s.maps[i] {
			if !fn(k, v) {
				s.locks[i].RUnlock()
				return
			}
		}
		s.locks[i].RUnlock()
	}
}

// Keys returns a snapshot of all keys.
func (s *StripedMap[K, T]) Keys() []K {
	keys := make([]K, 0, s.Len())
	s.Iter(func(k K, _ T) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func (s *StripedMap[K, T]) hash(key K) int {
	hashSum := crc32.ChecksumIEEE([]byte(key))
	return int(hashSum) % s.stripeCount
}
