// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/storage/memstore"
	"github.com/cockroachdb/stagekv/pkg/util/metric"
	"github.com/stretchr/testify/require"
)

// TestStageDataDriven runs the scripts in testdata. Commands:
//
//	init [ordering=<raw|hashed>]    reset to an empty base and stage
//	base                            apply the input to the base store
//	stage                           apply the input to the stage
//	get key=<k> [include-deleted]   point lookup through the stage
//	scan [prefix=<p>] [include-deleted] [target=<stage|base|overlay>]
//	history [reverse]
//	key-history key=<k>
//	commit
//	revert
//	metrics
//
// Input lines to base and stage are "put <key> <value>" or "del <key>".
func TestStageDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		ctx := context.Background()
		var base kvstore.Store
		var s *Stage
		var reg *metric.Registry
		reset := func(o kvstore.Ordering) {
			base = memstore.New(o)
			reg = metric.NewRegistry()
			var err error
			s, err = New(base, WithMetrics(reg))
			require.NoError(t, err)
		}
		reset(kvstore.RawOrdering)

		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "init":
				o := kvstore.RawOrdering
				if d.HasArg("ordering") {
					var name string
					d.ScanArgs(t, "ordering", &name)
					var err error
					o, err = kvstore.OrderingByName(name)
					require.NoError(t, err)
				}
				reset(o)
				return "ok"

			case "base", "stage":
				var target kvstore.Store = s
				if d.Cmd == "base" {
					target = base
				}
				ops, err := parseInstructions(d.Input)
				if err != nil {
					return err.Error()
				}
				if err := target.Batch(ctx, ops); err != nil {
					return err.Error()
				}
				return "ok"

			case "get":
				var key string
				d.ScanArgs(t, "key", &key)
				rs, err := s.Get(ctx, kvstore.Key(key), kvstore.GetOptions{IncludeDeleted: d.HasArg("include-deleted")})
				if err != nil {
					return err.Error()
				}
				return formatEntries(rs)

			case "scan":
				var target kvstore.Store = s
				if d.HasArg("target") {
					var name string
					d.ScanArgs(t, "target", &name)
					switch name {
					case "base":
						target = base
					case "overlay":
						target = s.Overlay()
					case "stage":
					default:
						d.Fatalf(t, "unknown target %q", name)
					}
				}
				opts := kvstore.IterOptions{IncludeDeleted: d.HasArg("include-deleted")}
				if d.HasArg("prefix") {
					var prefix string
					d.ScanArgs(t, "prefix", &prefix)
					opts.Prefix = kvstore.Key(prefix)
				}
				entries, err := kvstore.Collect(ctx, target.NewIterator(opts))
				if err != nil {
					return err.Error()
				}
				return formatEntries(entries)

			case "history":
				entries, err := kvstore.Collect(ctx, s.NewHistoryIterator(kvstore.HistoryOptions{Reverse: d.HasArg("reverse")}))
				if err != nil {
					return err.Error()
				}
				return formatEntries(entries)

			case "key-history":
				var key string
				d.ScanArgs(t, "key", &key)
				entries, err := kvstore.Collect(ctx, s.NewKeyHistoryIterator(kvstore.Key(key)))
				if err != nil {
					return err.Error()
				}
				return formatEntries(entries)

			case "commit":
				if err := s.Commit(ctx); err != nil {
					return err.Error()
				}
				return "ok"

			case "revert":
				s.Revert()
				return "ok"

			case "metrics":
				var buf strings.Builder
				reg.Each(func(name string, val int64) {
					fmt.Fprintf(&buf, "%s: %d\n", name, val)
				})
				return buf.String()

			default:
				d.Fatalf(t, "unknown command %q", d.Cmd)
				return ""
			}
		})
	})
}

func parseInstructions(input string) ([]kvstore.Instruction, error) {
	var ops []kvstore.Instruction
	for _, line := range strings.Split(input, "\n") {
		fields := strings.Fields(line)
		switch {
		case len(fields) == 0:
		case fields[0] == "put" && len(fields) == 3:
			ops = append(ops, kvstore.Put(kvstore.Key(fields[1]), []byte(fields[2])))
		case fields[0] == "del" && len(fields) == 2:
			ops = append(ops, kvstore.Del(kvstore.Key(fields[1])))
		default:
			return nil, errors.Newf("cannot parse %q", line)
		}
	}
	return ops, nil
}

func formatEntries(entries []kvstore.Entry) string {
	if len(entries) == 0 {
		return "<empty>"
	}
	var buf strings.Builder
	for _, e := range entries {
		if e.Deleted {
			fmt.Fprintf(&buf, "%s <del>\n", e.Key)
		} else {
			fmt.Fprintf(&buf, "%s=%s\n", e.Key, e.Value)
		}
	}
	return buf.String()
}
