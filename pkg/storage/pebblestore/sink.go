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
	"github.com/cockroachdb/stagekv/pkg/util/log"
)

// writeSink buffers instructions in an indexed batch and commits it each
// time it grows past the store's MaxBatchBytes, and on Finish. A sink that
// fails part way may therefore leave earlier flushes applied.
type writeSink struct {
	s       *Store
	batch   *pebble.Batch
	pending []kvstore.Key
	flushes int
	closed  bool
}

// Write implements kvstore.WriteSink.
func (w *writeSink) Write(ctx context.Context, ins kvstore.Instruction) error {
	if w.closed {
		return kvstore.ErrClosed
	}
	if err := ins.Validate(); err != nil {
		return err
	}
	ok, err := func() (bool, error) {
		w.s.mu.Lock()
		defer w.s.mu.Unlock()
		if w.s.mu.closed {
			return false, kvstore.ErrClosed
		}
		// Sequence numbers are allocated as instructions are written so that
		// the history of concurrent writers interleaves in seq order.
		return w.s.apply(w.batch, ins, &w.s.mu.seq)
	}()
	if err != nil {
		return err
	}
	if ok {
		w.pending = append(w.pending, ins.Key)
	}
	if w.batch.Len() >= w.s.maxBatchBytes {
		return w.flush(ctx)
	}
	return nil
}

func (w *writeSink) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := func() error {
		w.s.mu.Lock()
		defer w.s.mu.Unlock()
		if w.s.mu.closed {
			return kvstore.ErrClosed
		}
		return w.s.commitLocked(w.batch, w.s.mu.seq)
	}(); err != nil {
		return err
	}
	w.flushes++
	log.VEventf(ctx, 2, "write sink flushed %d instructions", len(w.pending))
	for _, key := range w.pending {
		w.s.watches.Notify(key)
	}
	w.pending = nil
	if err := w.batch.Close(); err != nil {
		return errors.Wrap(err, "closing batch")
	}
	w.batch = w.s.db.NewIndexedBatch()
	return nil
}

// Finish implements kvstore.WriteSink.
func (w *writeSink) Finish(ctx context.Context) error {
	if w.closed {
		return kvstore.ErrClosed
	}
	err := w.flush(ctx)
	return errors.CombineErrors(err, w.Close())
}

// Close implements kvstore.WriteSink.
func (w *writeSink) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.batch.Close()
}
