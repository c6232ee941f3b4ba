// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package pebblestore implements a durable kvstore.Store on top of a pebble
// LSM. See keys.go for the row layout.
package pebblestore

import (
	"bytes"
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/util/encoding"
	"github.com/cockroachdb/stagekv/pkg/util/log"
	"github.com/cockroachdb/stagekv/pkg/util/syncutil"
	"github.com/dustin/go-humanize"
)

// DefaultMaxBatchBytes is the size at which a write sink commits its
// buffered batch.
const DefaultMaxBatchBytes = 4 << 20

// DefaultCacheSize is the block cache size used when none is configured.
const DefaultCacheSize = 8 << 20

// Options configures Open.
type Options struct {
	// Dir is the directory holding the store. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the store in an in-memory filesystem.
	InMemory bool
	// FS overrides the filesystem, e.g. for fault injection in tests.
	FS vfs.FS
	// Ordering defaults to kvstore.RawOrdering.
	Ordering kvstore.Ordering
	// CacheSize is the block cache size in bytes.
	CacheSize int64
	// MaxBatchBytes bounds the batch buffered by a write sink.
	MaxBatchBytes int
}

// Store is a pebble-backed kvstore.Store.
type Store struct {
	db            *pebble.DB
	ordering      kvstore.Ordering
	maxBatchBytes int
	watches       kvstore.WatchRegistry

	// mu serializes writers. Readers go straight to pebble.
	mu struct {
		syncutil.Mutex
		seq    uint64
		closed bool
	}
}

var _ kvstore.Store = &Store{}

// Open opens (creating if necessary) a store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	ctx = logtags.AddTag(ctx, "pebble", nil)
	if opts.Ordering == nil {
		opts.Ordering = kvstore.RawOrdering
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = DefaultMaxBatchBytes
	}
	fs := opts.FS
	dir := opts.Dir
	switch {
	case fs != nil:
	case opts.InMemory:
		fs = vfs.NewMem()
		dir = ""
	default:
		if dir == "" {
			return nil, errors.New("store directory required")
		}
		fs = vfs.Default
	}

	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()
	db, err := pebble.Open(dir, &pebble.Options{
		FS:     fs,
		Cache:  cache,
		Logger: pebbleLogger{ctx: ctx},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening store at %q", dir)
	}

	s := &Store{db: db, ordering: opts.Ordering, maxBatchBytes: opts.MaxBatchBytes}
	if err := s.loadSeq(); err != nil {
		return nil, errors.CombineErrors(err, db.Close())
	}
	if err := s.checkOrdering(); err != nil {
		return nil, errors.CombineErrors(err, db.Close())
	}
	log.Infof(ctx, "opened store (dir=%q, ordering=%s, cache=%s, seq=%d)",
		dir, opts.Ordering.Name(), humanize.IBytes(uint64(opts.CacheSize)), s.mu.seq)
	return s, nil
}

func (s *Store) loadSeq() error {
	v, closer, err := s.db.Get(seqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "loading sequence")
	}
	defer closer.Close()
	_, seq, err := encoding.DecodeUint64Ascending(v)
	if err != nil {
		return errors.Wrap(err, "decoding sequence")
	}
	s.mu.seq = seq
	return nil
}

// checkOrdering verifies that the store was created with the same ordering
// it is being opened with, recording the ordering on first open. Row keys
// embed sort keys, so reading them under another ordering would split each
// key into unrelated rows.
func (s *Store) checkOrdering() error {
	want := s.ordering.Name()
	v, closer, err := s.db.Get(orderingKey)
	if errors.Is(err, pebble.ErrNotFound) {
		if err := s.db.Set(orderingKey, []byte(want), pebble.Sync); err != nil {
			return errors.Wrap(err, "recording ordering")
		}
		return nil
	} else if err != nil {
		return errors.Wrap(err, "loading ordering")
	}
	defer closer.Close()
	if got := string(v); got != want {
		return errors.Newf("store was created with ordering %q, cannot open it with ordering %q", got, want)
	}
	return nil
}

// Ordering implements kvstore.Store.
func (s *Store) Ordering() kvstore.Ordering {
	return s.ordering
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return kvstore.ErrClosed
	}
	return nil
}

// reader is implemented by both *pebble.DB and indexed *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// readLatest returns the latest record for key, or nil if there is none.
func readLatest(r reader, sortKey []byte, key kvstore.Key) (*kvstore.Entry, error) {
	v, closer, err := r.Get(makeLatestKey(sortKey, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "reading latest record")
	}
	defer closer.Close()
	e := &kvstore.Entry{Key: append(kvstore.Key(nil), key...), SortKey: sortKey}
	if err := decodeRecord(v, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Get implements kvstore.Store.
func (s *Store) Get(
	_ context.Context, key kvstore.Key, opts kvstore.GetOptions,
) (kvstore.RecordSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	e, err := readLatest(s.db, s.ordering.SortKey(key), key)
	if err != nil {
		return nil, err
	}
	if e == nil || (e.Deleted && !opts.IncludeDeleted) {
		return nil, nil
	}
	return kvstore.RecordSet{*e}, nil
}

// Put implements kvstore.Store.
func (s *Store) Put(ctx context.Context, key kvstore.Key, value []byte) error {
	return s.Batch(ctx, []kvstore.Instruction{kvstore.Put(key, value)})
}

// Del implements kvstore.Store.
func (s *Store) Del(ctx context.Context, key kvstore.Key) error {
	return s.Batch(ctx, []kvstore.Instruction{kvstore.Del(key)})
}

// Batch implements kvstore.Store. The instructions are committed in a
// single pebble batch.
func (s *Store) Batch(ctx context.Context, ops []kvstore.Instruction) error {
	for _, ins := range ops {
		if err := ins.Validate(); err != nil {
			return err
		}
	}
	b := s.db.NewIndexedBatch()
	defer b.Close()

	var written []kvstore.Key
	if err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.mu.closed {
			return kvstore.ErrClosed
		}
		seq := s.mu.seq
		for _, ins := range ops {
			ok, err := s.apply(b, ins, &seq)
			if err != nil {
				return err
			}
			if ok {
				written = append(written, ins.Key)
			}
		}
		if len(written) == 0 {
			return nil
		}
		return s.commitLocked(b, seq)
	}(); err != nil {
		return err
	}
	for _, key := range written {
		s.watches.Notify(key)
	}
	log.VEventf(ctx, 3, "applied %d instructions, %d changed", len(ops), len(written))
	return nil
}

// apply stages a validated instruction in b, allocating sequence numbers
// from *seq. Re-putting the current live value and deleting an already
// deleted key are no-ops. It reports whether anything was staged.
func (s *Store) apply(b *pebble.Batch, ins kvstore.Instruction, seq *uint64) (bool, error) {
	sortKey := s.ordering.SortKey(ins.Key)
	cur, err := readLatest(b, sortKey, ins.Key)
	if err != nil {
		return false, err
	}
	deleted := ins.Type == kvstore.InstructionDel
	if cur != nil {
		if deleted && cur.Deleted {
			return false, nil
		}
		if !deleted && !cur.Deleted && bytes.Equal(cur.Value, ins.Value) {
			return false, nil
		}
	}
	*seq++
	e := &kvstore.Entry{Key: ins.Key, Deleted: deleted, SortKey: sortKey, Seq: *seq}
	if !deleted {
		e.Value = ins.Value
	}
	rec := encodeRecord(e)
	if err := b.Set(makeLatestKey(sortKey, ins.Key), rec, nil); err != nil {
		return false, errors.Wrap(err, "staging latest record")
	}
	if err := b.Set(makeKeyHistoryKey(sortKey, ins.Key, *seq), rec, nil); err != nil {
		return false, errors.Wrap(err, "staging key history record")
	}
	if err := b.Set(makeHistoryKey(*seq), encodeKeyRecord(e), nil); err != nil {
		return false, errors.Wrap(err, "staging history record")
	}
	return true, nil
}

// commitLocked records seq as the last allocated sequence number and
// commits b.
func (s *Store) commitLocked(b *pebble.Batch, seq uint64) error {
	s.mu.AssertHeld()
	if seq < s.mu.seq {
		seq = s.mu.seq
	}
	if err := b.Set(seqKey, encoding.EncodeUint64Ascending(nil, seq), nil); err != nil {
		return errors.Wrap(err, "staging sequence")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "committing batch")
	}
	s.mu.seq = seq
	return nil
}

// NewIterator implements kvstore.Store.
func (s *Store) NewIterator(opts kvstore.IterOptions) kvstore.Iterator {
	if err := s.checkOpen(); err != nil {
		return kvstore.NewErrorIterator(err)
	}
	lower, upper := kvstore.SortKeySpan(s.ordering, opts.Prefix)
	start, end := latestSpan(lower, upper)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return kvstore.NewErrorIterator(errors.Wrap(err, "creating iterator"))
	}
	return &latestIterator{
		cursor:   cursor{iter: iter},
		ordering: s.ordering,
		opts:     opts,
		prefix:   append(kvstore.Key(nil), opts.Prefix...),
	}
}

// NewHistoryIterator implements kvstore.Store.
func (s *Store) NewHistoryIterator(opts kvstore.HistoryOptions) kvstore.Iterator {
	if err := s.checkOpen(); err != nil {
		return kvstore.NewErrorIterator(err)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: historyPrefix,
		UpperBound: encoding.PrefixEnd(historyPrefix),
	})
	if err != nil {
		return kvstore.NewErrorIterator(errors.Wrap(err, "creating history iterator"))
	}
	return &historyIterator{
		cursor:   cursor{iter: iter, reverse: opts.Reverse},
		ordering: s.ordering,
	}
}

// NewKeyHistoryIterator implements kvstore.Store.
func (s *Store) NewKeyHistoryIterator(key kvstore.Key) kvstore.Iterator {
	if err := s.checkOpen(); err != nil {
		return kvstore.NewErrorIterator(err)
	}
	sortKey := s.ordering.SortKey(key)
	prefix := makeKeyHistoryPrefix(sortKey, key)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: encoding.PrefixEnd(prefix),
	})
	if err != nil {
		return kvstore.NewErrorIterator(errors.Wrap(err, "creating key history iterator"))
	}
	return &keyHistoryIterator{
		cursor:  cursor{iter: iter},
		key:     append(kvstore.Key(nil), key...),
		sortKey: sortKey,
	}
}

// Watch implements kvstore.Store.
func (s *Store) Watch(prefix kvstore.Key) kvstore.Watcher {
	return s.watches.Watch(prefix)
}

// NewWriteSink implements kvstore.Store.
func (s *Store) NewWriteSink() kvstore.WriteSink {
	return &writeSink{s: s, batch: s.db.NewIndexedBatch()}
}

// Close implements kvstore.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return nil
	}
	s.mu.closed = true
	return errors.Wrap(s.db.Close(), "closing store")
}
