// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/util/metric"
	"golang.org/x/sync/errgroup"
)

// mergeIterator merges an overlay iterator and a base iterator, both
// ascending in (SortKey, Key), into a single ascending sequence.
//
// When both sources hold the same key, the overlay entry is emitted and both
// sources advance. Every base entry is first checked against the overlay and
// dropped if the overlay's record for its key consists only of tombstones,
// so keys deleted in the overlay never surface from the base. Entries with
// equal sort keys but different raw keys are ordered by raw key and neither
// is dropped.
//
// The iterator is primed lazily: the first call to Next fetches the head of
// both sources concurrently. Errors are sticky.
type mergeIterator struct {
	a, b    kvstore.Iterator
	overlay kvstore.Store
	masked  *metric.Counter

	// aCur and bCur are the lookahead entries of the overlay and the base. A
	// nil entry means the source is exhausted. bCur has already passed delete
	// masking.
	aCur, bCur *kvstore.Entry
	primed     bool
	done       bool
	err        error
}

var _ kvstore.Iterator = &mergeIterator{}

func newMergeIterator(
	a, b kvstore.Iterator, overlay kvstore.Store, masked *metric.Counter,
) *mergeIterator {
	return &mergeIterator{a: a, b: b, overlay: overlay, masked: masked}
}

// Next implements kvstore.Iterator.
func (m *mergeIterator) Next(ctx context.Context) (*kvstore.Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.done {
		return nil, nil
	}
	if !m.primed {
		if err := m.fillBoth(ctx); err != nil {
			m.err = err
			return nil, err
		}
		m.primed = true
	}

	a, b := m.aCur, m.bCur
	if a == nil && b == nil {
		m.done = true
		return nil, nil
	}
	var err error
	switch c := compareLookahead(a, b); {
	case c < 0:
		err = m.fillA(ctx)
		b = nil
	case c > 0:
		err = m.fillB(ctx)
		a = nil
	default:
		err = m.fillBoth(ctx)
	}
	if err != nil {
		m.err = err
		return nil, err
	}
	if a != nil {
		return a, nil
	}
	return b, nil
}

// compareLookahead orders two lookahead entries, with an exhausted (nil)
// source sorting after everything.
func compareLookahead(a, b *kvstore.Entry) int {
	switch {
	case b == nil:
		return -1
	case a == nil:
		return 1
	default:
		return kvstore.Compare(a, b)
	}
}

// fillBoth refills both lookaheads concurrently and waits for both.
func (m *mergeIterator) fillBoth(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.fillA(gCtx) })
	g.Go(func() error { return m.fillB(gCtx) })
	return g.Wait()
}

func (m *mergeIterator) fillA(ctx context.Context) error {
	e, err := m.a.Next(ctx)
	if err != nil {
		return errors.Wrap(err, "reading overlay")
	}
	m.aCur = e
	return nil
}

// fillB advances the base to its next entry that is not masked by a
// tombstone in the overlay.
func (m *mergeIterator) fillB(ctx context.Context) error {
	for {
		e, err := m.b.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "reading base")
		}
		if e == nil {
			m.bCur = nil
			return nil
		}
		rs, err := m.overlay.Get(ctx, e.Key, kvstore.GetOptions{IncludeDeleted: true})
		if err != nil {
			return errors.Wrap(err, "checking overlay")
		}
		if rs.AllDeleted() {
			m.masked.Inc(1)
			continue
		}
		m.bCur = e
		return nil
	}
}

// Close implements kvstore.Iterator.
func (m *mergeIterator) Close() error {
	return errors.CombineErrors(m.a.Close(), m.b.Close())
}
