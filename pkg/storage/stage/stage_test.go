// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stage

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/storage/memstore"
	"github.com/cockroachdb/stagekv/pkg/storage/pebblestore"
	"github.com/cockroachdb/stagekv/pkg/storage/storetest"
	"github.com/cockroachdb/stagekv/pkg/util/metric"
	"github.com/stretchr/testify/require"
)

func newStage(t *testing.T, base kvstore.Store, opts ...Option) *Stage {
	t.Helper()
	s, err := New(base, opts...)
	require.NoError(t, err)
	return s
}

func put(t *testing.T, s kvstore.Store, kvs ...string) {
	t.Helper()
	for i := 0; i < len(kvs); i += 2 {
		require.NoError(t, s.Put(context.Background(), kvstore.Key(kvs[i]), []byte(kvs[i+1])))
	}
}

func get(t *testing.T, s kvstore.Store, key string) []string {
	t.Helper()
	rs, err := s.Get(context.Background(), kvstore.Key(key), kvstore.GetOptions{})
	require.NoError(t, err)
	return storetest.Format(rs)
}

func TestConformance(t *testing.T) {
	t.Run("memstore", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T, o kvstore.Ordering) kvstore.Store {
			return newStage(t, memstore.New(o))
		})
	})
	t.Run("pebblestore", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T, o kvstore.Ordering) kvstore.Store {
			base, err := pebblestore.Open(context.Background(), pebblestore.Options{InMemory: true, Ordering: o})
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, base.Close()) })
			return newStage(t, base)
		})
	})
	t.Run("nested", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T, o kvstore.Ordering) kvstore.Store {
			return newStage(t, newStage(t, memstore.New(o)))
		})
	})
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(memstore.New(kvstore.RawOrdering), WithOverlayFactory(func(kvstore.Ordering) kvstore.Store {
		return memstore.New(kvstore.HashedPathOrdering)
	}))
	require.Error(t, err)
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()
	for _, o := range []kvstore.Ordering{kvstore.RawOrdering, kvstore.HashedPathOrdering} {
		t.Run(o.Name(), func(t *testing.T) {
			t.Run("put-overrides-base", func(t *testing.T) {
				base := memstore.New(o)
				put(t, base, "a", "a", "b", "b", "c", "c")
				s := newStage(t, base)
				put(t, s, "b", "new")
				require.Equal(t, []string{"b=new"}, get(t, s, "b"))
				require.Equal(t, []string{"a=a"}, get(t, s, "a"))
				require.Equal(t, []string{"b=b"}, get(t, base, "b"))
			})

			t.Run("del-hides-base", func(t *testing.T) {
				base := memstore.New(o)
				put(t, base, "a", "a", "b", "b", "c", "c")
				s := newStage(t, base)
				require.NoError(t, s.Del(ctx, kvstore.Key("a")))
				require.Equal(t, []string{}, get(t, s, "a"))
				require.Equal(t, []string{"a=a"}, get(t, base, "a"))

				rs, err := s.Get(ctx, kvstore.Key("a"), kvstore.GetOptions{IncludeDeleted: true})
				require.NoError(t, err)
				require.Equal(t, []string{"a=<del>"}, storetest.Format(rs))
			})

			t.Run("iterate-merges", func(t *testing.T) {
				base := memstore.New(o)
				put(t, base, "a", "a", "c", "c")
				s := newStage(t, base)
				put(t, s, "b", "b")
				expected := storetest.SortedByOrdering(o, map[string]string{"a": "a", "b": "b", "c": "c"})
				require.Equal(t, expected, storetest.Scan(t, s, kvstore.IterOptions{}))
			})

			t.Run("insertion-order-independent", func(t *testing.T) {
				base := memstore.New(o)
				put(t, base, "a", "a", "c", "c", "b", "b")
				s := newStage(t, base)
				put(t, s, "b", "B", "d", "d")
				expected := storetest.SortedByOrdering(o, map[string]string{"a": "a", "b": "B", "c": "c", "d": "d"})
				require.Equal(t, expected, storetest.Scan(t, s, kvstore.IterOptions{}))

				other := memstore.New(o)
				put(t, other, "d", "d", "b", "B", "c", "c", "a", "a")
				require.Equal(t, storetest.Scan(t, other, kvstore.IterOptions{}), storetest.Scan(t, s, kvstore.IterOptions{}))
			})

			t.Run("commit", func(t *testing.T) {
				base := memstore.New(o)
				put(t, base, "a", "a", "b", "b", "c", "c")
				s := newStage(t, base)
				put(t, s, "d", "d", "e", "e", "f", "f")
				require.NoError(t, s.Commit(ctx))

				expected := storetest.SortedByOrdering(o, map[string]string{
					"a": "a", "b": "b", "c": "c", "d": "d", "e": "e", "f": "f",
				})
				require.Equal(t, expected, storetest.Scan(t, base, kvstore.IterOptions{}))
				require.Equal(t, expected, storetest.Scan(t, s, kvstore.IterOptions{}))
				require.Equal(t, []string{}, storetest.Scan(t, s.Overlay(), kvstore.IterOptions{IncludeDeleted: true}))
			})
		})
	}
}

func TestPrecedenceAndFallthrough(t *testing.T) {
	ctx := context.Background()
	base := memstore.New(kvstore.RawOrdering)
	put(t, base, "k", "base", "gone", "x")
	s := newStage(t, base)

	// Never staged: falls through.
	require.Equal(t, []string{"k=base"}, get(t, s, "k"))
	// Staged tombstone over a key missing from base is still authoritative.
	require.NoError(t, s.Del(ctx, kvstore.Key("missing")))
	require.Equal(t, []string{}, get(t, s, "missing"))
	// Staged delete then put: the put wins.
	require.NoError(t, s.Del(ctx, kvstore.Key("gone")))
	put(t, s, "gone", "back")
	require.Equal(t, []string{"gone=back"}, get(t, s, "gone"))
}

func TestIterateMasking(t *testing.T) {
	ctx := context.Background()
	reg := metric.NewRegistry()
	base := memstore.New(kvstore.RawOrdering)
	put(t, base, "a", "1", "b", "2", "c", "3", "d", "4")
	s := newStage(t, base, WithMetrics(reg))

	require.NoError(t, s.Del(ctx, kvstore.Key("a")))
	require.NoError(t, s.Del(ctx, kvstore.Key("b")))
	require.NoError(t, s.Del(ctx, kvstore.Key("d")))
	require.Equal(t, []string{"c=3"}, storetest.Scan(t, s, kvstore.IterOptions{}))
	require.Equal(t, int64(3), s.Metrics().IterMasked.Count())

	require.Equal(t,
		[]string{"a=<del>", "b=<del>", "c=3", "d=<del>"},
		storetest.Scan(t, s, kvstore.IterOptions{IncludeDeleted: true}))
}

// firstByteOrdering maps every key to its first byte so that distinct keys
// share sort keys.
type firstByteOrdering struct{}

func (firstByteOrdering) Name() string { return "first-byte" }

func (firstByteOrdering) SortKey(key kvstore.Key) []byte {
	if len(key) == 0 {
		return nil
	}
	return []byte{key[0]}
}

// Equal sort keys with different raw keys are ordered by raw key, and
// neither side is skipped.
func TestSortKeyCollision(t *testing.T) {
	base := memstore.New(firstByteOrdering{})
	put(t, base, "ab", "base-ab", "ad", "base-ad", "b", "base-b")
	s := newStage(t, base)
	put(t, s, "aa", "ov-aa", "ac", "ov-ac", "ad", "ov-ad", "ae", "ov-ae")

	require.Equal(t, []string{
		"aa=ov-aa", "ab=base-ab", "ac=ov-ac", "ad=ov-ad", "ae=ov-ae", "b=base-b",
	}, storetest.Scan(t, s, kvstore.IterOptions{}))
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	reg := metric.NewRegistry()
	base := memstore.New(kvstore.RawOrdering)
	put(t, base, "a", "1", "b", "2")
	s := newStage(t, base, WithMetrics(reg))

	put(t, s, "c", "3")
	require.NoError(t, s.Del(ctx, kvstore.Key("a")))
	old := s.Overlay()
	it := s.NewIterator(kvstore.IterOptions{})

	s.Revert()
	require.NotSame(t, old, s.Overlay())
	require.Equal(t, storetest.Scan(t, base, kvstore.IterOptions{}), storetest.Scan(t, s, kvstore.IterOptions{}))
	require.Equal(t, []string{}, storetest.Scan(t, s.Overlay(), kvstore.IterOptions{IncludeDeleted: true}))
	require.Equal(t, []string{"a=1"}, get(t, s, "a"))
	require.Equal(t, int64(1), s.Metrics().RevertCount.Count())

	// Iterators opened before the revert keep reading the old overlay.
	entries, err := kvstore.Collect(ctx, it)
	require.NoError(t, err)
	require.Equal(t, []string{"b=2", "c=3"}, storetest.Format(entries))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	base := memstore.New(kvstore.RawOrdering)
	put(t, base, "k", "b1", "x", "b2")
	s := newStage(t, base)
	put(t, s, "k", "s1")
	require.NoError(t, s.Del(ctx, kvstore.Key("k")))

	require.Equal(t,
		[]string{"k=b1", "x=b2", "k=s1", "k=<del>"},
		storetest.History(t, s, kvstore.HistoryOptions{}))
	require.Equal(t,
		[]string{"k=<del>", "k=s1", "x=b2", "k=b1"},
		storetest.History(t, s, kvstore.HistoryOptions{Reverse: true}))
	require.Equal(t,
		[]string{"k=<del>", "k=s1", "k=b1"},
		storetest.KeyHistory(t, s, "k"))
}

// faultyStore wraps a store with a write sink that fails on the n-th write,
// and iterators that fail after n entries.
type faultyStore struct {
	kvstore.Store
	sinkFailAt int
	iterFailAt int
}

var errInjected = errors.New("injected failure")

func (f *faultyStore) NewWriteSink() kvstore.WriteSink {
	return &faultySink{WriteSink: f.Store.NewWriteSink(), failAt: f.sinkFailAt}
}

func (f *faultyStore) NewIterator(opts kvstore.IterOptions) kvstore.Iterator {
	return &faultyIterator{Iterator: f.Store.NewIterator(opts), failAt: f.iterFailAt}
}

type faultySink struct {
	kvstore.WriteSink
	failAt int
	n      int
}

func (f *faultySink) Write(ctx context.Context, ins kvstore.Instruction) error {
	f.n++
	if f.failAt > 0 && f.n >= f.failAt {
		return errInjected
	}
	return f.WriteSink.Write(ctx, ins)
}

type faultyIterator struct {
	kvstore.Iterator
	failAt int
	n      int
}

func (f *faultyIterator) Next(ctx context.Context) (*kvstore.Entry, error) {
	f.n++
	if f.failAt > 0 && f.n >= f.failAt {
		return nil, errInjected
	}
	return f.Iterator.Next(ctx)
}

func TestCommitFailureRetainsOverlay(t *testing.T) {
	ctx := context.Background()
	reg := metric.NewRegistry()
	inner := memstore.New(kvstore.RawOrdering)
	put(t, inner, "a", "1", "z", "26")
	base := &faultyStore{Store: inner, sinkFailAt: 3}
	s := newStage(t, base, WithMetrics(reg))

	put(t, s, "b", "2", "c", "3", "d", "4")
	require.NoError(t, s.Del(ctx, kvstore.Key("z")))
	overlay := s.Overlay()

	err := s.Commit(ctx)
	require.True(t, errors.Is(err, errInjected), "%v", err)
	require.Same(t, overlay, s.Overlay())
	require.Equal(t, int64(1), s.Metrics().CommitErrors.Count())
	require.Equal(t, int64(0), s.Metrics().CommitCount.Count())

	// The memstore sink applies writes immediately, so the first two
	// instructions reached the base.
	require.Equal(t, []string{"a=1", "b=2", "c=3", "z=26"}, storetest.Scan(t, inner, kvstore.IterOptions{}))
	// The staged view is unchanged.
	require.Equal(t, []string{"a=1", "b=2", "c=3", "d=4"}, storetest.Scan(t, s, kvstore.IterOptions{}))

	// Retrying replays the already applied instructions harmlessly.
	base.sinkFailAt = 0
	require.NoError(t, s.Commit(ctx))
	require.Equal(t, []string{"a=1", "b=2", "c=3", "d=4"}, storetest.Scan(t, inner, kvstore.IterOptions{}))
	require.Equal(t, []string{"b=2"}, storetest.KeyHistory(t, inner, "b"))
	require.Equal(t, int64(1), s.Metrics().CommitCount.Count())
	require.Equal(t, int64(4), s.Metrics().CommitInstructions.Count())
}

func TestCommitReadFailure(t *testing.T) {
	ctx := context.Background()
	base := memstore.New(kvstore.RawOrdering)
	s := newStage(t, base, WithOverlayFactory(func(o kvstore.Ordering) kvstore.Store {
		return &faultyStore{Store: memstore.New(o), iterFailAt: 2}
	}))
	put(t, s, "a", "1", "b", "2")
	overlay := s.Overlay()

	require.True(t, errors.Is(s.Commit(ctx), errInjected))
	require.Same(t, overlay, s.Overlay())
	require.Equal(t, []string{"a=1"}, storetest.Scan(t, base, kvstore.IterOptions{}))
}

func TestIteratorErrorsAreSticky(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New(kvstore.RawOrdering)
	put(t, inner, "a", "1", "b", "2", "c", "3")
	s := newStage(t, &faultyStore{Store: inner, iterFailAt: 3})

	it := s.NewIterator(kvstore.IterOptions{})
	defer func() { require.NoError(t, it.Close()) }()
	e, err := it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", string(e.Key))
	_, err = it.Next(ctx)
	require.True(t, errors.Is(err, errInjected))
	_, err = it.Next(ctx)
	require.True(t, errors.Is(err, errInjected))
}

func TestExhaustedIteratorStaysExhausted(t *testing.T) {
	ctx := context.Background()
	s := newStage(t, memstore.New(kvstore.RawOrdering))
	put(t, s, "a", "1")
	it := s.NewIterator(kvstore.IterOptions{})
	_, err := it.Next(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		e, err := it.Next(ctx)
		require.NoError(t, err)
		require.Nil(t, e)
	}
	require.NoError(t, it.Close())
}

func TestRevertAfterClose(t *testing.T) {
	reg := metric.NewRegistry()
	s := newStage(t, memstore.New(kvstore.RawOrdering), WithMetrics(reg))
	w := s.Watch(nil)
	defer func() { require.NoError(t, w.Close()) }()

	require.NoError(t, s.Close())
	old := s.Overlay()
	s.Revert()
	require.Same(t, old, s.Overlay())
	require.Equal(t, int64(0), s.Metrics().RevertCount.Count())
	select {
	case <-w.Changes():
		t.Fatal("unexpected notification after revert on a closed stage")
	default:
	}
}

func TestWatchAcrossSwaps(t *testing.T) {
	ctx := context.Background()
	s := newStage(t, memstore.New(kvstore.RawOrdering))
	w := s.Watch(kvstore.Key("dir"))
	defer func() { require.NoError(t, w.Close()) }()

	expect := func() {
		t.Helper()
		select {
		case <-w.Changes():
		case <-time.After(5 * time.Second):
			t.Fatal("expected notification")
		}
	}
	put(t, s, "dir/a", "1")
	expect()
	require.NoError(t, s.Commit(ctx))
	expect()
	require.NoError(t, s.Batch(ctx, []kvstore.Instruction{kvstore.Del(kvstore.Key("dir/a"))}))
	expect()
	s.Revert()
	expect()
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newStage(t, memstore.New(kvstore.RawOrdering))
	put(t, s, "b", "2", "a", "1")
	entries, err := List(ctx, s, kvstore.IterOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"a=1", "b=2"}, storetest.Format(entries))
}
