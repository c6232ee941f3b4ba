// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
)

// concatIterator drains its inputs one after the other, closing each as it
// is exhausted.
type concatIterator struct {
	iters []kvstore.Iterator
	// pos is the index of the input currently being drained. Inputs before
	// pos are closed.
	pos int
	err error
}

func newConcatIterator(iters ...kvstore.Iterator) *concatIterator {
	return &concatIterator{iters: iters}
}

// Next implements kvstore.Iterator.
func (c *concatIterator) Next(ctx context.Context) (*kvstore.Entry, error) {
	if c.err != nil {
		return nil, c.err
	}
	for c.pos < len(c.iters) {
		e, err := c.iters[c.pos].Next(ctx)
		if err != nil {
			c.err = err
			return nil, err
		}
		if e != nil {
			return e, nil
		}
		err = c.iters[c.pos].Close()
		c.pos++
		if err != nil {
			c.err = err
			return nil, err
		}
	}
	return nil, nil
}

// Close implements kvstore.Iterator.
func (c *concatIterator) Close() error {
	var err error
	for ; c.pos < len(c.iters); c.pos++ {
		err = errors.CombineErrors(err, c.iters[c.pos].Close())
	}
	return err
}
