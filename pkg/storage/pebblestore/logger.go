// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package pebblestore

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/stagekv/pkg/util/log"
)

// pebbleLogger routes pebble's internal logging to pkg/util/log. Pebble is
// chatty at info level, so its info messages are only emitted at
// verbosity 2.
type pebbleLogger struct {
	ctx context.Context
}

var _ pebble.Logger = pebbleLogger{}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	if log.V(2) {
		log.InfofDepth(l.ctx, 1, format, args...)
	}
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Errorf(l.ctx, format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatalf(l.ctx, format, args...)
}
