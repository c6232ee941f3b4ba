// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package kvstore

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Collect drains it into a slice and closes it.
func Collect(ctx context.Context, it Iterator) (_ []Entry, retErr error) {
	defer func() {
		retErr = errors.CombineErrors(retErr, it.Close())
	}()
	var entries []Entry
	for {
		e, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return entries, nil
		}
		entries = append(entries, *e)
	}
}

// sliceIterator yields a fixed slice of entries.
type sliceIterator struct {
	entries []Entry
	closed  bool
}

// NewSliceIterator returns an Iterator over entries. The slice is not
// copied and must not be modified while the iterator is in use.
func NewSliceIterator(entries []Entry) Iterator {
	return &sliceIterator{entries: entries}
}

func (it *sliceIterator) Next(context.Context) (*Entry, error) {
	if it.closed {
		return nil, ErrClosed
	}
	if len(it.entries) == 0 {
		return nil, nil
	}
	e := it.entries[0]
	it.entries = it.entries[1:]
	return &e, nil
}

func (it *sliceIterator) Close() error {
	it.closed = true
	it.entries = nil
	return nil
}

type errorIterator struct {
	err error
}

// NewErrorIterator returns an Iterator whose Next always fails with err.
func NewErrorIterator(err error) Iterator {
	return errorIterator{err: err}
}

func (it errorIterator) Next(context.Context) (*Entry, error) { return nil, it.err }
func (it errorIterator) Close() error                         { return nil }
