// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package pebblestore

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/util/encoding"
)

// Row layout. Every row key starts with a single byte naming its index:
//
//	l <bytes sortkey> <bytes key>                  -> record    latest record per key
//	h <uint64 seq>                                 -> keyRecord every write, by seq
//	k <bytes sortkey> <bytes key> <uint64desc seq> -> record    writes per key, newest first
//	m seq                                          -> uint64    last allocated seq
//	m ord                                          -> name      ordering of the sort keys
var (
	latestPrefix     = []byte("l")
	historyPrefix    = []byte("h")
	keyHistoryPrefix = []byte("k")
	seqKey           = []byte("mseq")
	orderingKey      = []byte("mord")
)

const (
	flagLive    byte = 0
	flagDeleted byte = 1
)

func makeLatestKey(sortKey []byte, key kvstore.Key) []byte {
	b := append([]byte(nil), latestPrefix...)
	b = encoding.EncodeBytesAscending(b, sortKey)
	return encoding.EncodeBytesAscending(b, key)
}

func makeHistoryKey(seq uint64) []byte {
	return encoding.EncodeUint64Ascending(append([]byte(nil), historyPrefix...), seq)
}

func makeKeyHistoryPrefix(sortKey []byte, key kvstore.Key) []byte {
	b := append([]byte(nil), keyHistoryPrefix...)
	b = encoding.EncodeBytesAscending(b, sortKey)
	return encoding.EncodeBytesAscending(b, key)
}

func makeKeyHistoryKey(sortKey []byte, key kvstore.Key, seq uint64) []byte {
	return encoding.EncodeUint64Descending(makeKeyHistoryPrefix(sortKey, key), seq)
}

// latestSpan returns the row key bounds covering every latest record whose
// sort key falls in [lower, upper). Nil sort key bounds are unbounded.
func latestSpan(lower, upper []byte) (start, end []byte) {
	start = encoding.EncodeBytesAscendingPrefix(append([]byte(nil), latestPrefix...), lower)
	if lower == nil {
		start = append([]byte(nil), latestPrefix...)
	}
	if upper == nil {
		return start, encoding.PrefixEnd(latestPrefix)
	}
	return start, encoding.EncodeBytesAscendingPrefix(append([]byte(nil), latestPrefix...), upper)
}

// encodeRecord encodes the value of a latest or key history row.
func encodeRecord(e *kvstore.Entry) []byte {
	b := encoding.EncodeUvarintAscending(nil, e.Seq)
	if e.Deleted {
		return append(b, flagDeleted)
	}
	b = append(b, flagLive)
	return append(b, e.Value...)
}

// decodeRecord decodes a record into e. The value is copied.
func decodeRecord(b []byte, e *kvstore.Entry) error {
	b, seq, err := encoding.DecodeUvarintAscending(b)
	if err != nil {
		return errors.Wrap(err, "decoding record seq")
	}
	if len(b) == 0 {
		return errors.AssertionFailedf("record missing flag")
	}
	e.Seq = seq
	switch b[0] {
	case flagLive:
		e.Deleted = false
		e.Value = append([]byte{}, b[1:]...)
	case flagDeleted:
		e.Deleted = true
		e.Value = nil
	default:
		return errors.AssertionFailedf("unknown record flag %d", b[0])
	}
	return nil
}

// encodeKeyRecord encodes the value of a history row, which also carries
// the key.
func encodeKeyRecord(e *kvstore.Entry) []byte {
	return append(encoding.EncodeBytesAscending(nil, e.Key), encodeRecord(e)...)
}

func decodeKeyRecord(b []byte, e *kvstore.Entry) error {
	b, key, err := encoding.DecodeBytesAscending(b, nil)
	if err != nil {
		return errors.Wrap(err, "decoding history key")
	}
	e.Key = append(kvstore.Key(nil), key...)
	return decodeRecord(b, e)
}

// decodeLatestKey extracts the user key from a latest row key.
func decodeLatestKey(b []byte) (kvstore.Key, error) {
	if len(b) == 0 || b[0] != latestPrefix[0] {
		return nil, errors.AssertionFailedf("not a latest row key: %x", b)
	}
	b, _, err := encoding.DecodeBytesAscending(b[1:], nil)
	if err != nil {
		return nil, err
	}
	_, key, err := encoding.DecodeBytesAscending(b, nil)
	if err != nil {
		return nil, err
	}
	return append(kvstore.Key(nil), key...), nil
}
