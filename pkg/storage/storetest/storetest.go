// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package storetest contains a conformance suite that every kvstore.Store
// implementation is expected to pass.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

// Factory creates an empty store using the given ordering. The suite closes
// the store when the subtest ends.
type Factory func(t *testing.T, o kvstore.Ordering) kvstore.Store

// Format renders entries as "key=value", with "key=<del>" for tombstones.
func Format(entries []kvstore.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			out = append(out, fmt.Sprintf("%s=<del>", e.Key))
		} else {
			out = append(out, fmt.Sprintf("%s=%s", e.Key, e.Value))
		}
	}
	return out
}

// Scan collects a full iteration of s.
func Scan(t *testing.T, s kvstore.Store, opts kvstore.IterOptions) []string {
	t.Helper()
	entries, err := kvstore.Collect(context.Background(), s.NewIterator(opts))
	require.NoError(t, err)
	return Format(entries)
}

// History collects the history of s.
func History(t *testing.T, s kvstore.Store, opts kvstore.HistoryOptions) []string {
	t.Helper()
	entries, err := kvstore.Collect(context.Background(), s.NewHistoryIterator(opts))
	require.NoError(t, err)
	return Format(entries)
}

// KeyHistory collects the history of a single key of s.
func KeyHistory(t *testing.T, s kvstore.Store, key string) []string {
	t.Helper()
	entries, err := kvstore.Collect(context.Background(), s.NewKeyHistoryIterator(kvstore.Key(key)))
	require.NoError(t, err)
	return Format(entries)
}

// SortedByOrdering returns the given "key=value" strings sorted the way o
// orders their keys.
func SortedByOrdering(o kvstore.Ordering, kvs map[string]string) []string {
	entries := make([]kvstore.Entry, 0, len(kvs))
	for k, v := range kvs {
		entries = append(entries, kvstore.Entry{
			Key: kvstore.Key(k), Value: []byte(v), SortKey: o.SortKey(kvstore.Key(k)),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return kvstore.Compare(&entries[i], &entries[j]) < 0 })
	return Format(entries)
}

func requireEqual(t *testing.T, expected, actual []string) {
	t.Helper()
	if diff := pretty.Diff(expected, actual); len(diff) > 0 {
		t.Fatalf("unexpected result:\n%s", pretty.Sprint(diff))
	}
}

// Run runs the conformance suite against stores created by factory, once
// per ordering.
func Run(t *testing.T, factory Factory) {
	for _, o := range []kvstore.Ordering{kvstore.RawOrdering, kvstore.HashedPathOrdering} {
		t.Run(o.Name(), func(t *testing.T) {
			for _, tc := range []struct {
				name string
				fn   func(t *testing.T, s kvstore.Store)
			}{
				{"get-put-del", testGetPutDel},
				{"empty-key", testEmptyKey},
				{"idempotent", testIdempotent},
				{"iterate", testIterate},
				{"iterate-prefix", testIteratePrefix},
				{"history", testHistory},
				{"key-history", testKeyHistory},
				{"batch", testBatch},
				{"write-sink", testWriteSink},
				{"watch", testWatch},
			} {
				t.Run(tc.name, func(t *testing.T) {
					s := factory(t, o)
					defer func() { require.NoError(t, s.Close()) }()
					require.Equal(t, o.Name(), s.Ordering().Name())
					tc.fn(t, s)
				})
			}
		})
	}
}

func testGetPutDel(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	rs, err := s.Get(ctx, kvstore.Key("a"), kvstore.GetOptions{})
	require.NoError(t, err)
	require.Empty(t, rs)

	require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("1")))
	require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("2")))
	rs, err = s.Get(ctx, kvstore.Key("a"), kvstore.GetOptions{})
	require.NoError(t, err)
	requireEqual(t, []string{"a=2"}, Format(rs))

	require.NoError(t, s.Del(ctx, kvstore.Key("a")))
	rs, err = s.Get(ctx, kvstore.Key("a"), kvstore.GetOptions{})
	require.NoError(t, err)
	require.Empty(t, rs)

	rs, err = s.Get(ctx, kvstore.Key("a"), kvstore.GetOptions{IncludeDeleted: true})
	require.NoError(t, err)
	requireEqual(t, []string{"a=<del>"}, Format(rs))
	require.True(t, rs.AllDeleted())

	// Deleting a key that was never written still records a tombstone.
	require.NoError(t, s.Del(ctx, kvstore.Key("b")))
	rs, err = s.Get(ctx, kvstore.Key("b"), kvstore.GetOptions{IncludeDeleted: true})
	require.NoError(t, err)
	requireEqual(t, []string{"b=<del>"}, Format(rs))
}

func testEmptyKey(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	require.True(t, errors.Is(s.Put(ctx, nil, []byte("x")), kvstore.ErrEmptyKey))
	require.True(t, errors.Is(s.Del(ctx, kvstore.Key("")), kvstore.ErrEmptyKey))
	err := s.Batch(ctx, []kvstore.Instruction{
		kvstore.Put(kvstore.Key("ok"), nil), kvstore.Put(nil, nil),
	})
	require.True(t, errors.Is(err, kvstore.ErrEmptyKey))
	// A batch is validated before any of it is applied.
	requireEqual(t, []string{}, Scan(t, s, kvstore.IterOptions{}))
}

func testIdempotent(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("v")))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Del(ctx, kvstore.Key("b")))
	}
	requireEqual(t, []string{"a=v"}, KeyHistory(t, s, "a"))
	requireEqual(t, []string{"b=<del>"}, KeyHistory(t, s, "b"))
}

func testIterate(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	kvs := map[string]string{"c": "3", "a": "1", "b/x": "2", "d": "4", "b": "5"}
	for _, k := range []string{"c", "a", "b/x", "d", "b"} {
		require.NoError(t, s.Put(ctx, kvstore.Key(k), []byte(kvs[k])))
	}
	expected := SortedByOrdering(s.Ordering(), kvs)
	requireEqual(t, expected, Scan(t, s, kvstore.IterOptions{}))

	require.NoError(t, s.Del(ctx, kvstore.Key("d")))
	delete(kvs, "d")
	requireEqual(t, SortedByOrdering(s.Ordering(), kvs), Scan(t, s, kvstore.IterOptions{}))

	all := Scan(t, s, kvstore.IterOptions{IncludeDeleted: true})
	require.Len(t, all, 5)
	require.Contains(t, all, "d=<del>")
}

func testIteratePrefix(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	for _, k := range []string{"a", "a/b", "a/c", "a/b/d", "ab", "b", "b/a"} {
		require.NoError(t, s.Put(ctx, kvstore.Key(k), []byte(k)))
	}
	require.NoError(t, s.Del(ctx, kvstore.Key("a/c")))
	expected := SortedByOrdering(s.Ordering(), map[string]string{
		"a": "a", "a/b": "a/b", "a/b/d": "a/b/d",
	})
	requireEqual(t, expected, Scan(t, s, kvstore.IterOptions{Prefix: kvstore.Key("a")}))
	requireEqual(t, expected, Scan(t, s, kvstore.IterOptions{Prefix: kvstore.Key("a/")}))
	requireEqual(t, []string{"a/b/d=a/b/d"}, Scan(t, s, kvstore.IterOptions{Prefix: kvstore.Key("a/b/d")}))
	requireEqual(t, []string{}, Scan(t, s, kvstore.IterOptions{Prefix: kvstore.Key("c")}))
}

func testHistory(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, kvstore.Key("b"), []byte("1")))
	require.NoError(t, s.Put(ctx, kvstore.Key("a"), []byte("2")))
	require.NoError(t, s.Del(ctx, kvstore.Key("b")))
	require.NoError(t, s.Put(ctx, kvstore.Key("b"), []byte("3")))

	requireEqual(t, []string{"b=1", "a=2", "b=<del>", "b=3"}, History(t, s, kvstore.HistoryOptions{}))
	requireEqual(t, []string{"b=3", "b=<del>", "a=2", "b=1"}, History(t, s, kvstore.HistoryOptions{Reverse: true}))
}

func testKeyHistory(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, kvstore.Key("k"), []byte("1")))
	require.NoError(t, s.Put(ctx, kvstore.Key("other"), []byte("x")))
	require.NoError(t, s.Del(ctx, kvstore.Key("k")))
	require.NoError(t, s.Put(ctx, kvstore.Key("k"), []byte("2")))

	requireEqual(t, []string{"k=2", "k=<del>", "k=1"}, KeyHistory(t, s, "k"))
	requireEqual(t, []string{}, KeyHistory(t, s, "missing"))
}

func testBatch(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Batch(ctx, []kvstore.Instruction{
		kvstore.Put(kvstore.Key("a"), []byte("1")),
		kvstore.Put(kvstore.Key("b"), []byte("2")),
		kvstore.Del(kvstore.Key("a")),
	}))
	requireEqual(t, []string{"b=2"}, Scan(t, s, kvstore.IterOptions{}))
	requireEqual(t, []string{"a=1", "b=2", "a=<del>"}, History(t, s, kvstore.HistoryOptions{}))
}

func testWriteSink(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, kvstore.Key("z"), []byte("old")))

	sink := s.NewWriteSink()
	for _, ins := range []kvstore.Instruction{
		kvstore.Put(kvstore.Key("x"), []byte("1")),
		kvstore.Put(kvstore.Key("y"), []byte("2")),
		kvstore.Del(kvstore.Key("z")),
	} {
		require.NoError(t, sink.Write(ctx, ins))
	}
	require.NoError(t, sink.Finish(ctx))
	require.NoError(t, sink.Close())

	expected := SortedByOrdering(s.Ordering(), map[string]string{"x": "1", "y": "2"})
	requireEqual(t, expected, Scan(t, s, kvstore.IterOptions{}))

	sink = s.NewWriteSink()
	require.True(t, errors.Is(sink.Write(ctx, kvstore.Del(nil)), kvstore.ErrEmptyKey))
	require.NoError(t, sink.Close())
}

func testWatch(t *testing.T, s kvstore.Store) {
	ctx := context.Background()
	w := s.Watch(kvstore.Key("dir"))
	defer func() { require.NoError(t, w.Close()) }()

	require.NoError(t, s.Put(ctx, kvstore.Key("other"), []byte("1")))
	select {
	case <-w.Changes():
		t.Fatal("unexpected notification")
	case <-time.After(10 * time.Millisecond):
	}

	require.NoError(t, s.Put(ctx, kvstore.Key("dir/a"), []byte("1")))
	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("expected notification")
	}
}
