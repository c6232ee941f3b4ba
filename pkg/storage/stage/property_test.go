// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stage

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/storage/memstore"
	"github.com/cockroachdb/stagekv/pkg/storage/storetest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propKeys = []string{"a", "b", "c", "a/x", "a/y", "b/x", "d", "e"}

// decodeOp turns a generated integer into an instruction over a small key
// space so that base and overlay writes overlap.
func decodeOp(n int) kvstore.Instruction {
	key := kvstore.Key(propKeys[n%len(propKeys)])
	if n%3 == 0 {
		return kvstore.Del(key)
	}
	return kvstore.Put(key, []byte(fmt.Sprintf("v%d", n)))
}

func applyModel(model map[string]string, ops []int) {
	for _, n := range ops {
		ins := decodeOp(n)
		if ins.Type == kvstore.InstructionDel {
			delete(model, string(ins.Key))
		} else {
			model[string(ins.Key)] = string(ins.Value)
		}
	}
}

type propEnv struct {
	base        *memstore.Store
	stage       *Stage
	baseModel   map[string]string
	mergedModel map[string]string
}

func setup(o kvstore.Ordering, baseOps, stageOps []int) (*propEnv, error) {
	ctx := context.Background()
	env := &propEnv{
		base:        memstore.New(o),
		baseModel:   map[string]string{},
		mergedModel: map[string]string{},
	}
	var err error
	if env.stage, err = New(env.base); err != nil {
		return nil, err
	}
	for _, n := range baseOps {
		if err := env.base.Batch(ctx, []kvstore.Instruction{decodeOp(n)}); err != nil {
			return nil, err
		}
	}
	for _, n := range stageOps {
		if err := env.stage.Batch(ctx, []kvstore.Instruction{decodeOp(n)}); err != nil {
			return nil, err
		}
	}
	applyModel(env.baseModel, baseOps)
	applyModel(env.mergedModel, baseOps)
	applyModel(env.mergedModel, stageOps)
	return env, nil
}

func scanOf(s kvstore.Store) ([]string, error) {
	entries, err := kvstore.Collect(context.Background(), s.NewIterator(kvstore.IterOptions{}))
	if err != nil {
		return nil, err
	}
	return storetest.Format(entries), nil
}

func TestStageProperties(t *testing.T) {
	ops := gen.SliceOf(gen.IntRange(0, 99))

	for _, o := range []kvstore.Ordering{kvstore.RawOrdering, kvstore.HashedPathOrdering} {
		o := o
		t.Run(o.Name(), func(t *testing.T) {
			properties := gopter.NewProperties(gopter.DefaultTestParameters())

			properties.Property("get prefers the overlay and falls through otherwise", prop.ForAll(
				func(baseOps, stageOps []int) (bool, error) {
					env, err := setup(o, baseOps, stageOps)
					if err != nil {
						return false, err
					}
					for _, k := range propKeys {
						rs, err := env.stage.Get(context.Background(), kvstore.Key(k), kvstore.GetOptions{})
						if err != nil {
							return false, err
						}
						v, ok := env.mergedModel[k]
						if ok != (len(rs) == 1) || (ok && string(rs[0].Value) != v) {
							return false, nil
						}
					}
					return true, nil
				},
				ops, ops,
			))

			properties.Property("iteration is sorted, masked and overlay-first", prop.ForAll(
				func(baseOps, stageOps []int) (bool, error) {
					env, err := setup(o, baseOps, stageOps)
					if err != nil {
						return false, err
					}
					got, err := scanOf(env.stage)
					if err != nil {
						return false, err
					}
					return reflect.DeepEqual(storetest.SortedByOrdering(o, env.mergedModel), got), nil
				},
				ops, ops,
			))

			properties.Property("revert restores the base view", prop.ForAll(
				func(baseOps, stageOps []int) (bool, error) {
					env, err := setup(o, baseOps, stageOps)
					if err != nil {
						return false, err
					}
					env.stage.Revert()
					got, err := scanOf(env.stage)
					if err != nil {
						return false, err
					}
					return reflect.DeepEqual(storetest.SortedByOrdering(o, env.baseModel), got), nil
				},
				ops, ops,
			))

			properties.Property("commit applies the staged writes to the base", prop.ForAll(
				func(baseOps, stageOps []int) (bool, error) {
					env, err := setup(o, baseOps, stageOps)
					if err != nil {
						return false, err
					}
					if err := env.stage.Commit(context.Background()); err != nil {
						return false, err
					}
					expected := storetest.SortedByOrdering(o, env.mergedModel)
					baseScan, err := scanOf(env.base)
					if err != nil {
						return false, err
					}
					stageScan, err := scanOf(env.stage)
					if err != nil {
						return false, err
					}
					return reflect.DeepEqual(expected, baseScan) && reflect.DeepEqual(expected, stageScan), nil
				},
				ops, ops,
			))

			properties.TestingRun(t)
		})
	}
}
