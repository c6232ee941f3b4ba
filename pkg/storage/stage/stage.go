// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package stage implements a staging area over a kvstore.Store.
//
// A Stage accumulates writes in an ephemeral overlay store while reads see
// the overlay layered on top of the base store. Commit replays the overlay
// into the base and Revert discards it. In both cases the overlay is replaced
// by a fresh, empty instance rather than cleared, so iterators opened
// earlier keep reading the instance they started with.
//
// Commit is not atomic. If it fails part way, some instructions may already
// have been applied to the base while the overlay is retained, so a retried
// Commit replays them again. The stores in this module apply repeated puts
// of the same value and repeated deletes as no-ops, which makes the retry
// safe.
//
// A Stage is itself a kvstore.Store, so stages can be stacked.
package stage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/storage/memstore"
	"github.com/cockroachdb/stagekv/pkg/util/metric"
	"github.com/cockroachdb/stagekv/pkg/util/syncutil"
)

// OverlayFactory creates an empty overlay store using the given ordering.
type OverlayFactory func(kvstore.Ordering) kvstore.Store

// An Option configures a Stage.
type Option func(*Stage)

// WithOverlayFactory overrides the store used for overlays. The default is
// an in-memory memstore.
func WithOverlayFactory(f OverlayFactory) Option {
	return func(s *Stage) { s.newOverlay = f }
}

// WithMetrics registers the stage's metrics with r. A registry can only hold
// the metrics of one stage.
func WithMetrics(r *metric.Registry) Option {
	return func(s *Stage) { s.registry = r }
}

// Stage is a staged view over a base store.
type Stage struct {
	base       kvstore.Store
	newOverlay OverlayFactory
	registry   *metric.Registry
	metrics    *Metrics
	watches    kvstore.WatchRegistry

	mu struct {
		syncutil.RWMutex
		overlay kvstore.Store
		closed  bool
	}
}

var _ kvstore.Store = &Stage{}

// New creates a Stage over base. The base store remains owned by the
// caller; closing the Stage does not close it.
func New(base kvstore.Store, opts ...Option) (*Stage, error) {
	if base == nil {
		return nil, errors.New("base store required")
	}
	s := &Stage{
		base: base,
		newOverlay: func(o kvstore.Ordering) kvstore.Store {
			return memstore.New(o)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = metric.NewRegistry()
	}
	s.metrics = makeMetrics(s.registry)

	overlay := s.newOverlay(base.Ordering())
	if got, want := overlay.Ordering().Name(), base.Ordering().Name(); got != want {
		return nil, errors.Newf("overlay ordering %q does not match base ordering %q", got, want)
	}
	s.mu.overlay = overlay
	return s, nil
}

// Overlay returns the live overlay store.
func (s *Stage) Overlay() kvstore.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mu.overlay
}

// Metrics returns the stage's metrics.
func (s *Stage) Metrics() *Metrics {
	return s.metrics
}

// Ordering implements kvstore.Store.
func (s *Stage) Ordering() kvstore.Ordering {
	return s.base.Ordering()
}

// Get implements kvstore.Store. If the overlay holds any record for key,
// tombstones included, the overlay is authoritative and its live entries are
// returned, which may be none. Otherwise the lookup falls through to the
// base store.
func (s *Stage) Get(
	ctx context.Context, key kvstore.Key, opts kvstore.GetOptions,
) (kvstore.RecordSet, error) {
	rs, err := s.Overlay().Get(ctx, key, kvstore.GetOptions{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	if len(rs) > 0 {
		if opts.IncludeDeleted {
			return rs, nil
		}
		return rs.Live(), nil
	}
	return s.base.Get(ctx, key, opts)
}

// Put implements kvstore.Store by staging the write in the overlay.
func (s *Stage) Put(ctx context.Context, key kvstore.Key, value []byte) error {
	if err := s.Overlay().Put(ctx, key, value); err != nil {
		return err
	}
	s.watches.Notify(key)
	return nil
}

// Del implements kvstore.Store by staging a tombstone in the overlay.
func (s *Stage) Del(ctx context.Context, key kvstore.Key) error {
	if err := s.Overlay().Del(ctx, key); err != nil {
		return err
	}
	s.watches.Notify(key)
	return nil
}

// Batch implements kvstore.Store by staging the instructions in the
// overlay.
func (s *Stage) Batch(ctx context.Context, ops []kvstore.Instruction) error {
	if err := s.Overlay().Batch(ctx, ops); err != nil {
		return err
	}
	for _, ins := range ops {
		s.watches.Notify(ins.Key)
	}
	return nil
}

// NewIterator implements kvstore.Store. The result merges the overlay over
// the base; see mergeIterator.
func (s *Stage) NewIterator(opts kvstore.IterOptions) kvstore.Iterator {
	overlay := s.Overlay()
	return newMergeIterator(
		overlay.NewIterator(opts), s.base.NewIterator(opts), overlay, s.metrics.IterMasked,
	)
}

// NewHistoryIterator implements kvstore.Store. The histories of the two
// stores are concatenated rather than interleaved: by default the base
// history precedes the overlay's, and with opts.Reverse the overlay's
// (newest-first) history precedes the base's.
func (s *Stage) NewHistoryIterator(opts kvstore.HistoryOptions) kvstore.Iterator {
	overlay := s.Overlay()
	if opts.Reverse {
		return newConcatIterator(overlay.NewHistoryIterator(opts), s.base.NewHistoryIterator(opts))
	}
	return newConcatIterator(s.base.NewHistoryIterator(opts), overlay.NewHistoryIterator(opts))
}

// NewKeyHistoryIterator implements kvstore.Store. The overlay's history of
// key precedes the base's.
func (s *Stage) NewKeyHistoryIterator(key kvstore.Key) kvstore.Iterator {
	overlay := s.Overlay()
	return newConcatIterator(overlay.NewKeyHistoryIterator(key), s.base.NewKeyHistoryIterator(key))
}

// Watch implements kvstore.Store. Watchers are notified of staged writes
// below prefix, and of every commit and revert. They stay registered across
// overlay swaps.
func (s *Stage) Watch(prefix kvstore.Key) kvstore.Watcher {
	return s.watches.Watch(prefix)
}

// NewWriteSink implements kvstore.Store. The sink stages instructions in the
// current overlay.
func (s *Stage) NewWriteSink() kvstore.WriteSink {
	return &stagedSink{WriteSink: s.Overlay().NewWriteSink(), s: s}
}

// Revert discards all staged writes by installing a fresh overlay. The base
// store is not touched and iterators opened earlier are unaffected. Revert
// on a closed Stage does nothing.
func (s *Stage) Revert() {
	if !s.swapOverlay() {
		return
	}
	s.metrics.RevertCount.Inc(1)
	s.watches.NotifyAll()
}

// swapOverlay installs a fresh overlay unless the Stage is closed. It
// reports whether it did.
func (s *Stage) swapOverlay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return false
	}
	s.mu.overlay = s.newOverlay(s.base.Ordering())
	return true
}

// replaceOverlay installs a fresh overlay if old is still the live one. It
// reports whether it did.
func (s *Stage) replaceOverlay(old kvstore.Store) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed || s.mu.overlay != old {
		return false
	}
	s.mu.overlay = s.newOverlay(s.base.Ordering())
	return true
}

// Close implements kvstore.Store. It closes the live overlay but not the
// base store.
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return nil
	}
	s.mu.closed = true
	return s.mu.overlay.Close()
}

// List drains a full iteration of st.
func List(ctx context.Context, st kvstore.Store, opts kvstore.IterOptions) ([]kvstore.Entry, error) {
	return kvstore.Collect(ctx, st.NewIterator(opts))
}

type stagedSink struct {
	kvstore.WriteSink
	s *Stage
}

func (w *stagedSink) Write(ctx context.Context, ins kvstore.Instruction) error {
	if err := w.WriteSink.Write(ctx, ins); err != nil {
		return err
	}
	w.s.watches.Notify(ins.Key)
	return nil
}
