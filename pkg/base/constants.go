// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

const (
	// DefaultStoreDir is the directory used for the base store when none is
	// configured.
	DefaultStoreDir = "stagekv-data"

	// DefaultCacheSize is the default size of the base store's block cache.
	DefaultCacheSize = 64 << 20

	// DefaultMaxBatchBytes is the size at which the base store's write sink
	// commits a batch during a stage commit.
	DefaultMaxBatchBytes = 4 << 20

	// DefaultOrdering names the default key ordering.
	DefaultOrdering = "raw"
)
