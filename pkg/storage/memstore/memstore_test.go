// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memstore

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/storage/storetest"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, o kvstore.Ordering) kvstore.Store {
		return New(o)
	})
}

func TestIteratorSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.RawOrdering)
	require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("1")))
	require.NoError(t, s.Put(ctx, kvstore.Key("c"), []byte("3")))

	it := s.NewIterator(kvstore.IterOptions{})
	hist := s.NewHistoryIterator(kvstore.HistoryOptions{})
	require.NoError(t, s.Put(ctx, kvstore.Key("b"), []byte("2")))
	require.NoError(t, s.Del(ctx, kvstore.Key("c")))

	entries, err := kvstore.Collect(ctx, it)
	require.NoError(t, err)
	require.Equal(t, []string{"a=1", "c=3"}, storetest.Format(entries))

	entries, err = kvstore.Collect(ctx, hist)
	require.NoError(t, err)
	require.Equal(t, []string{"a=1", "c=3"}, storetest.Format(entries))

	require.Equal(t, 3, s.Len())
}

func TestSequenceNumbers(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.RawOrdering)
	require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("1")))
	require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("1")))
	require.NoError(t, s.Put(ctx, kvstore.Key("b"), []byte("1")))

	entries, err := kvstore.Collect(ctx, s.NewHistoryIterator(kvstore.HistoryOptions{}))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].Seq)
	require.Equal(t, uint64(2), entries[1].Seq)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.RawOrdering)
	require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("1")))
	it := s.NewIterator(kvstore.IterOptions{})
	require.NoError(t, s.Close())

	_, err := s.Get(ctx, kvstore.Key("a"), kvstore.GetOptions{})
	require.True(t, errors.Is(err, kvstore.ErrClosed))
	require.True(t, errors.Is(s.Put(ctx, kvstore.Key("b"), nil), kvstore.ErrClosed))
	_, err = kvstore.Collect(ctx, s.NewIterator(kvstore.IterOptions{}))
	require.True(t, errors.Is(err, kvstore.ErrClosed))

	// Iterators opened before Close still read their snapshot.
	entries, err := kvstore.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
