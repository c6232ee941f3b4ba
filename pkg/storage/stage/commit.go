// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/util/log"
)

// Commit replays every staged record, tombstones included, into the base
// store's write sink in overlay iteration order, and then installs a fresh
// overlay.
//
// On error the overlay is left in place and the base may hold a prefix of
// the replayed instructions. Writes staged concurrently with Commit are not
// supported.
func (s *Stage) Commit(ctx context.Context) error {
	ctx = logtags.AddTag(ctx, "commit", nil)
	overlay := s.Overlay()
	n, err := s.replay(ctx, overlay)
	if err != nil {
		s.metrics.CommitErrors.Inc(1)
		log.Warningf(ctx, "commit failed after %d instructions; the base store may be partially "+
			"updated and staged writes are retained: %v", n, err)
		return errors.Wrap(err, "committing staged writes")
	}
	if !s.replaceOverlay(overlay) {
		log.Warningf(ctx, "overlay replaced during commit; keeping the newer overlay")
	}
	s.metrics.CommitCount.Inc(1)
	s.metrics.CommitInstructions.Inc(int64(n))
	s.watches.NotifyAll()
	log.VEventf(ctx, 1, "committed %d instructions", n)
	return nil
}

// replay writes the contents of overlay to the base store. It returns the
// number of instructions written.
func (s *Stage) replay(ctx context.Context, overlay kvstore.Store) (n int, retErr error) {
	it := overlay.NewIterator(kvstore.IterOptions{IncludeDeleted: true})
	defer func() {
		retErr = errors.CombineErrors(retErr, it.Close())
	}()

	sink := s.base.NewWriteSink()
	for {
		e, err := it.Next(ctx)
		if err != nil {
			return n, errors.CombineErrors(errors.Wrap(err, "reading overlay"), sink.Close())
		}
		if e == nil {
			break
		}
		ins, ok := kvstore.InstructionFromEntry(e)
		if !ok {
			continue
		}
		if err := sink.Write(ctx, ins); err != nil {
			return n, errors.CombineErrors(
				errors.Wrapf(err, "writing %s instruction", ins.Type), sink.Close())
		}
		n++
	}
	if err := sink.Finish(ctx); err != nil {
		return n, errors.Wrap(err, "finishing write sink")
	}
	return n, nil
}
