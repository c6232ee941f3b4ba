// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package pebblestore

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
)

// cursor wraps a pebble iterator with the positioning state shared by the
// store's iterators. Pebble iterators read a consistent view of the store as
// of their creation.
type cursor struct {
	iter    *pebble.Iterator
	reverse bool
	started bool
	err     error
	closed  bool
}

// advance positions the cursor on the next row, returning false when the
// rows are exhausted or an error occurred.
func (c *cursor) advance() bool {
	var valid bool
	switch {
	case !c.started && c.reverse:
		valid = c.iter.Last()
	case !c.started:
		valid = c.iter.First()
	case c.reverse:
		valid = c.iter.Prev()
	default:
		valid = c.iter.Next()
	}
	c.started = true
	if !valid {
		if err := c.iter.Error(); err != nil {
			c.err = errors.Wrap(err, "iterating store")
		}
	}
	return valid
}

func (c *cursor) check() error {
	if c.closed {
		return kvstore.ErrClosed
	}
	return c.err
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.iter.Close()
}

type latestIterator struct {
	cursor
	ordering kvstore.Ordering
	opts     kvstore.IterOptions
	prefix   kvstore.Key
}

func (it *latestIterator) Next(context.Context) (*kvstore.Entry, error) {
	if err := it.check(); err != nil {
		return nil, err
	}
	for it.advance() {
		key, err := decodeLatestKey(it.iter.Key())
		if err != nil {
			it.err = err
			return nil, err
		}
		if !kvstore.HasPathPrefix(key, it.prefix) {
			continue
		}
		e := &kvstore.Entry{Key: key, SortKey: it.ordering.SortKey(key)}
		if err := decodeRecord(it.iter.Value(), e); err != nil {
			it.err = err
			return nil, err
		}
		if e.Deleted && !it.opts.IncludeDeleted {
			continue
		}
		return e, nil
	}
	return nil, it.err
}

type historyIterator struct {
	cursor
	ordering kvstore.Ordering
}

func (it *historyIterator) Next(context.Context) (*kvstore.Entry, error) {
	if err := it.check(); err != nil {
		return nil, err
	}
	if !it.advance() {
		return nil, it.err
	}
	e := &kvstore.Entry{}
	if err := decodeKeyRecord(it.iter.Value(), e); err != nil {
		it.err = err
		return nil, err
	}
	e.SortKey = it.ordering.SortKey(e.Key)
	return e, nil
}

type keyHistoryIterator struct {
	cursor
	key     kvstore.Key
	sortKey []byte
}

func (it *keyHistoryIterator) Next(context.Context) (*kvstore.Entry, error) {
	if err := it.check(); err != nil {
		return nil, err
	}
	if !it.advance() {
		return nil, it.err
	}
	e := &kvstore.Entry{Key: append(kvstore.Key(nil), it.key...), SortKey: it.sortKey}
	if err := decodeRecord(it.iter.Value(), e); err != nil {
		it.err = err
		return nil, err
	}
	return e, nil
}
