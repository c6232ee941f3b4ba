// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stage

import "github.com/cockroachdb/stagekv/pkg/util/metric"

// Metrics holds the counters maintained by a Stage.
type Metrics struct {
	CommitCount        *metric.Counter
	CommitErrors       *metric.Counter
	CommitInstructions *metric.Counter
	RevertCount        *metric.Counter
	IterMasked         *metric.Counter
}

func makeMetrics(r *metric.Registry) *Metrics {
	return &Metrics{
		CommitCount:        r.Counter("stage.commit.count", "Number of successful commits"),
		CommitErrors:       r.Counter("stage.commit.errors", "Number of failed commits"),
		CommitInstructions: r.Counter("stage.commit.instructions", "Number of instructions replayed into the base store"),
		RevertCount:        r.Counter("stage.revert.count", "Number of reverts"),
		IterMasked:         r.Counter("stage.iter.masked", "Number of base entries hidden by staged deletes during iteration"),
	}
}
