// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package syncutil

import "sync"

// Set is like a Go map[V]struct{} but is safe for concurrent use by multiple
// goroutines without additional locking or coordination. The zero Set is
// empty and ready for use.
type Set[V comparable] struct {
	m sync.Map
}

// Add adds the value to the set. Returns true if the value was not already in
// the set.
func (s *Set[V]) Add(value V) bool {
	_, loaded := s.m.LoadOrStore(value, struct{}{})
	return !loaded
}

// Remove removes the value from the set. Returns true if the value was in the
// set.
func (s *Set[V]) Remove(value V) bool {
	_, loaded := s.m.LoadAndDelete(value)
	return loaded
}

// Contains returns whether the value is in the set.
func (s *Set[V]) Contains(value V) bool {
	_, ok := s.m.Load(value)
	return ok
}

// Range calls f sequentially for each value present in the set. If f returns
// false, range stops the iteration. Values added or removed concurrently may
// or may not be visited.
func (s *Set[V]) Range(f func(value V) bool) {
	s.m.Range(func(key, _ any) bool {
		return f(key.(V))
	})
}
