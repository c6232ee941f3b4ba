// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package memstore implements an in-memory kvstore.Store. It is the default
// overlay of a stage and a convenient base store for tests.
package memstore

import (
	"bytes"
	"context"

	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/util/syncutil"
	"github.com/google/btree"
)

// entryItem is the btree item holding the latest record of a key.
type entryItem struct {
	kvstore.Entry
}

var _ btree.Item = &entryItem{}

// Less implements btree.Item.
func (i *entryItem) Less(than btree.Item) bool {
	return kvstore.Compare(&i.Entry, &than.(*entryItem).Entry) < 0
}

// Store is an in-memory kvstore.Store. The latest record of every key lives
// in a btree ordered by (SortKey, Key); every write is also appended to a
// history log. Iterators work on copy-on-write snapshots of the tree and
// are unaffected by later writes.
type Store struct {
	ordering kvstore.Ordering
	watches  kvstore.WatchRegistry

	mu struct {
		syncutil.RWMutex
		latest  *btree.BTree
		history []kvstore.Entry
		// keyHistory maps a key to the indexes of its writes in history.
		keyHistory map[string][]int
		seq        uint64
		closed     bool
	}
}

var _ kvstore.Store = &Store{}

// New returns an empty store using the given ordering.
func New(ordering kvstore.Ordering) *Store {
	s := &Store{ordering: ordering}
	s.mu.latest = btree.New(8)
	s.mu.keyHistory = map[string][]int{}
	return s
}

// Ordering implements kvstore.Store.
func (s *Store) Ordering() kvstore.Ordering {
	return s.ordering
}

// Len returns the number of keys with a record, tombstones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mu.latest.Len()
}

// Get implements kvstore.Store.
func (s *Store) Get(
	_ context.Context, key kvstore.Key, opts kvstore.GetOptions,
) (kvstore.RecordSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mu.closed {
		return nil, kvstore.ErrClosed
	}
	cur := s.getLocked(key)
	if cur == nil || (cur.Deleted && !opts.IncludeDeleted) {
		return nil, nil
	}
	return kvstore.RecordSet{cur.Entry}, nil
}

func (s *Store) getLocked(key kvstore.Key) *entryItem {
	search := &entryItem{Entry: kvstore.Entry{Key: key, SortKey: s.ordering.SortKey(key)}}
	if i := s.mu.latest.Get(search); i != nil {
		return i.(*entryItem)
	}
	return nil
}

// Put implements kvstore.Store.
func (s *Store) Put(ctx context.Context, key kvstore.Key, value []byte) error {
	return s.Batch(ctx, []kvstore.Instruction{kvstore.Put(key, value)})
}

// Del implements kvstore.Store.
func (s *Store) Del(ctx context.Context, key kvstore.Key) error {
	return s.Batch(ctx, []kvstore.Instruction{kvstore.Del(key)})
}

// Batch implements kvstore.Store. The batch is validated up front and then
// applied under a single lock acquisition.
func (s *Store) Batch(_ context.Context, ops []kvstore.Instruction) error {
	for _, ins := range ops {
		if err := ins.Validate(); err != nil {
			return err
		}
	}
	written, err := s.applyBatch(ops)
	if err != nil {
		return err
	}
	for _, key := range written {
		s.watches.Notify(key)
	}
	return nil
}

func (s *Store) applyBatch(ops []kvstore.Instruction) ([]kvstore.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return nil, kvstore.ErrClosed
	}
	var written []kvstore.Key
	for _, ins := range ops {
		if s.applyLocked(ins) {
			written = append(written, ins.Key)
		}
	}
	return written, nil
}

// applyLocked applies a validated instruction and reports whether it
// changed the store. Re-putting the current live value and deleting an
// already deleted key are no-ops.
func (s *Store) applyLocked(ins kvstore.Instruction) bool {
	s.mu.AssertHeld()
	deleted := ins.Type == kvstore.InstructionDel
	if cur := s.getLocked(ins.Key); cur != nil {
		if deleted && cur.Deleted {
			return false
		}
		if !deleted && !cur.Deleted && bytes.Equal(cur.Value, ins.Value) {
			return false
		}
	}
	s.mu.seq++
	e := kvstore.Entry{
		Key:     append(kvstore.Key(nil), ins.Key...),
		Deleted: deleted,
		SortKey: s.ordering.SortKey(ins.Key),
		Seq:     s.mu.seq,
	}
	if !deleted {
		e.Value = append([]byte{}, ins.Value...)
	}
	s.mu.latest.ReplaceOrInsert(&entryItem{Entry: e})
	s.mu.keyHistory[string(e.Key)] = append(s.mu.keyHistory[string(e.Key)], len(s.mu.history))
	s.mu.history = append(s.mu.history, e)
	return true
}

// NewIterator implements kvstore.Store.
func (s *Store) NewIterator(opts kvstore.IterOptions) kvstore.Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return kvstore.NewErrorIterator(kvstore.ErrClosed)
	}
	lower, upper := kvstore.SortKeySpan(s.ordering, opts.Prefix)
	return &iterator{
		tree:   s.mu.latest.Clone(),
		opts:   opts,
		prefix: append(kvstore.Key(nil), opts.Prefix...),
		lower:  lower,
		upper:  upper,
	}
}

// NewHistoryIterator implements kvstore.Store.
func (s *Store) NewHistoryIterator(opts kvstore.HistoryOptions) kvstore.Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mu.closed {
		return kvstore.NewErrorIterator(kvstore.ErrClosed)
	}
	// The history log is append-only, so a slice of its current length is a
	// stable snapshot.
	snap := s.mu.history[:len(s.mu.history):len(s.mu.history)]
	if !opts.Reverse {
		return kvstore.NewSliceIterator(snap)
	}
	rev := make([]kvstore.Entry, len(snap))
	for i := range snap {
		rev[len(snap)-1-i] = snap[i]
	}
	return kvstore.NewSliceIterator(rev)
}

// NewKeyHistoryIterator implements kvstore.Store.
func (s *Store) NewKeyHistoryIterator(key kvstore.Key) kvstore.Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mu.closed {
		return kvstore.NewErrorIterator(kvstore.ErrClosed)
	}
	idxs := s.mu.keyHistory[string(key)]
	entries := make([]kvstore.Entry, 0, len(idxs))
	for i := len(idxs) - 1; i >= 0; i-- {
		entries = append(entries, s.mu.history[idxs[i]])
	}
	return kvstore.NewSliceIterator(entries)
}

// Watch implements kvstore.Store.
func (s *Store) Watch(prefix kvstore.Key) kvstore.Watcher {
	return s.watches.Watch(prefix)
}

// NewWriteSink implements kvstore.Store. Instructions are applied as they
// are written.
func (s *Store) NewWriteSink() kvstore.WriteSink {
	return &writeSink{s: s}
}

// Close implements kvstore.Store. Iterators created before Close keep
// working on their snapshots.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.closed = true
	return nil
}

type iterator struct {
	tree   *btree.BTree
	opts   kvstore.IterOptions
	prefix kvstore.Key
	lower  []byte
	upper  []byte
	// pos is the last item returned, nil before the first call to Next.
	pos    *entryItem
	done   bool
	closed bool
}

func (it *iterator) Next(context.Context) (*kvstore.Entry, error) {
	if it.closed {
		return nil, kvstore.ErrClosed
	}
	if it.done {
		return nil, nil
	}
	start := it.pos
	if start == nil {
		start = &entryItem{Entry: kvstore.Entry{SortKey: it.lower}}
	}
	var next *entryItem
	it.tree.AscendGreaterOrEqual(start, func(i btree.Item) bool {
		item := i.(*entryItem)
		if it.pos != nil && !it.pos.Less(item) {
			return true
		}
		if it.upper != nil && bytes.Compare(item.SortKey, it.upper) >= 0 {
			return false
		}
		if item.Deleted && !it.opts.IncludeDeleted {
			return true
		}
		if !kvstore.HasPathPrefix(item.Key, it.prefix) {
			return true
		}
		next = item
		return false
	})
	if next == nil {
		it.done = true
		return nil, nil
	}
	it.pos = next
	e := next.Entry
	return &e, nil
}

func (it *iterator) Close() error {
	it.closed = true
	it.tree = nil
	return nil
}

type writeSink struct {
	s      *Store
	closed bool
}

func (w *writeSink) Write(ctx context.Context, ins kvstore.Instruction) error {
	if w.closed {
		return kvstore.ErrClosed
	}
	return w.s.Batch(ctx, []kvstore.Instruction{ins})
}

func (w *writeSink) Finish(context.Context) error {
	if w.closed {
		return kvstore.ErrClosed
	}
	w.closed = true
	return nil
}

func (w *writeSink) Close() error {
	w.closed = true
	return nil
}
