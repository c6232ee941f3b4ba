// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package kvstore defines the interface shared by every sorted, versioned
// key-value store in this module, along with the entry, option and
// instruction types that flow through it.
//
// A store keeps, for every key, the latest record (possibly a tombstone)
// plus an append-only history of every write. Full-range iteration is in
// ascending (SortKey, Key) order, where the SortKey is derived from the key
// by the store's Ordering.
package kvstore

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Key is a raw user key. Keys are '/'-separated paths.
type Key []byte

// ErrEmptyKey is returned when a write names an empty key.
var ErrEmptyKey = errors.New("empty key")

// ErrClosed is returned by operations on a closed store, iterator or sink.
var ErrClosed = errors.New("closed")

// Entry is a single versioned record for a key.
type Entry struct {
	Key     Key
	Value   []byte
	Deleted bool
	// SortKey is derived from Key by the owning store's Ordering and
	// determines iteration order.
	SortKey []byte
	// Seq is the store-local sequence number of the write that produced the
	// entry.
	Seq uint64
}

// RecordSet is the result of a point lookup: zero or more concurrent entries
// for a single key. An empty RecordSet is a valid result meaning the store
// holds no record for the key.
type RecordSet []Entry

// Live returns the subset of entries that are not tombstones.
func (rs RecordSet) Live() RecordSet {
	var live RecordSet
	for i := range rs {
		if !rs[i].Deleted {
			live = append(live, rs[i])
		}
	}
	return live
}

// AllDeleted returns true if the set is non-empty and every entry in it is a
// tombstone.
func (rs RecordSet) AllDeleted() bool {
	if len(rs) == 0 {
		return false
	}
	for i := range rs {
		if !rs[i].Deleted {
			return false
		}
	}
	return true
}

// GetOptions configures Store.Get.
type GetOptions struct {
	// IncludeDeleted returns tombstones as well as live entries.
	IncludeDeleted bool
}

// IterOptions configures Store.NewIterator.
type IterOptions struct {
	// Prefix restricts iteration to keys equal to Prefix or nested below it
	// in the '/'-separated key path. An empty prefix means the whole store.
	Prefix Key
	// IncludeDeleted yields tombstones as well as live entries.
	IncludeDeleted bool
}

// HistoryOptions configures Store.NewHistoryIterator.
type HistoryOptions struct {
	// Reverse yields the newest write first. The default is oldest first.
	Reverse bool
}

// Iterator is a single-pass, single-consumer cursor over entries.
type Iterator interface {
	// Next returns the next entry, or nil once the iterator is exhausted.
	// Errors are sticky: once Next returns an error, it keeps returning it.
	Next(ctx context.Context) (*Entry, error)
	// Close releases the iterator's resources.
	Close() error
}

// WriteSink accepts a stream of instructions and applies them to a store.
// Implementations may apply instructions before Finish is called, so a
// failed sink may have applied a prefix of its input.
type WriteSink interface {
	Write(ctx context.Context, ins Instruction) error
	// Finish applies any buffered instructions. The sink may not be used
	// afterwards.
	Finish(ctx context.Context) error
	// Close abandons any buffered instructions.
	Close() error
}

// Store is a sorted, versioned key-value store.
type Store interface {
	// Get returns the record set for key. Tombstones are only included when
	// opts.IncludeDeleted is set.
	Get(ctx context.Context, key Key, opts GetOptions) (RecordSet, error)
	Put(ctx context.Context, key Key, value []byte) error
	// Del writes a tombstone for key.
	Del(ctx context.Context, key Key) error
	Batch(ctx context.Context, ops []Instruction) error
	// NewIterator iterates the latest record of each key in ascending
	// (SortKey, Key) order. Construction errors are returned by the first
	// call to Next.
	NewIterator(opts IterOptions) Iterator
	// NewHistoryIterator iterates every write ever applied to the store.
	NewHistoryIterator(opts HistoryOptions) Iterator
	// NewKeyHistoryIterator iterates the writes to a single key, newest
	// first.
	NewKeyHistoryIterator(key Key) Iterator
	// Watch returns a Watcher notified of writes to keys under prefix.
	Watch(prefix Key) Watcher
	NewWriteSink() WriteSink
	Ordering() Ordering
	Close() error
}
