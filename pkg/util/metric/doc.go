// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

/*
Package metric provides process metrics (a.k.a. transient stats) backed by a
prometheus registry.

# Adding a new metric

First, create or obtain a Registry. Next, call methods such as Counter() on
the Registry to register the metric. For example:

	m := &Metrics{
		...
		CommitCount: registry.Counter("stage.commit.count", "Number of commits"),
		...
	}

This code block registers the metric "stage.commit.count", exported to
prometheus as "stage_commit_count". The metric can then be updated as
follows:

	func (s *Stage) Commit(ctx context.Context) error {
		...
		s.metrics.CommitCount.Inc(1)
	}

# Testing

After your test does something to trigger your new metric update, read the
value back with Count() or walk the registry with Each().
*/
package metric
