// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package kvstore

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/util/encoding"
)

// PathSeparator separates the segments of a key path.
const PathSeparator = '/'

// An Ordering derives the sort key that positions a key in iteration order.
type Ordering interface {
	// Name identifies the ordering. Two stores with the same ordering name
	// produce identical sort keys.
	Name() string
	// SortKey returns the sort key for key. The result must not alias key.
	SortKey(key Key) []byte
}

// RawOrdering sorts keys by their raw bytes.
var RawOrdering Ordering = rawOrdering{}

// HashedPathOrdering sorts keys by the concatenated 64-bit hashes of their
// path segments, so that all keys below a path share a sort key prefix
// while siblings are spread independent of their names.
var HashedPathOrdering Ordering = hashedPathOrdering{}

type rawOrdering struct{}

func (rawOrdering) Name() string { return "raw" }

func (rawOrdering) SortKey(key Key) []byte {
	return append([]byte(nil), key...)
}

type hashedPathOrdering struct{}

func (hashedPathOrdering) Name() string { return "hashed" }

func (hashedPathOrdering) SortKey(key Key) []byte {
	sk := make([]byte, 0, 8*(bytes.Count(key, []byte{PathSeparator})+1))
	for {
		i := bytes.IndexByte(key, PathSeparator)
		if i == -1 {
			return binary.BigEndian.AppendUint64(sk, xxhash.Sum64(key))
		}
		sk = binary.BigEndian.AppendUint64(sk, xxhash.Sum64(key[:i]))
		key = key[i+1:]
	}
}

// OrderingByName returns the ordering with the given name.
func OrderingByName(name string) (Ordering, error) {
	switch name {
	case RawOrdering.Name():
		return RawOrdering, nil
	case HashedPathOrdering.Name():
		return HashedPathOrdering, nil
	default:
		return nil, errors.Newf("unknown ordering %q", name)
	}
}

// Compare orders two entries by SortKey, then by raw Key.
func Compare(a, b *Entry) int {
	if c := bytes.Compare(a.SortKey, b.SortKey); c != 0 {
		return c
	}
	return bytes.Compare(a.Key, b.Key)
}

// HasPathPrefix returns true if key equals prefix or is nested below it. A
// trailing separator on prefix is ignored and an empty prefix matches every
// key.
func HasPathPrefix(key, prefix Key) bool {
	prefix = trimSeparator(prefix)
	if len(prefix) == 0 {
		return true
	}
	if !bytes.HasPrefix(key, prefix) {
		return false
	}
	return len(key) == len(prefix) || key[len(prefix)] == PathSeparator
}

// SortKeySpan returns the [lower, upper) sort key bounds covering every key
// with the given path prefix under ordering o. Nil bounds are unbounded. The
// span may also cover keys outside the prefix, which callers must filter
// with HasPathPrefix.
func SortKeySpan(o Ordering, prefix Key) (lower, upper []byte) {
	prefix = trimSeparator(prefix)
	if len(prefix) == 0 {
		return nil, nil
	}
	lower = o.SortKey(prefix)
	return lower, encoding.PrefixEnd(lower)
}

func trimSeparator(prefix Key) Key {
	for len(prefix) > 0 && prefix[len(prefix)-1] == PathSeparator {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix
}
