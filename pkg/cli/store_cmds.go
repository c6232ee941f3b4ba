// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/cli/cliflags"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/spf13/cobra"
)

func newPutCmd(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "write a value to the base store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s kvstore.Store) error {
				return s.Put(ctx, kvstore.Key(args[0]), []byte(args[1]))
			})
		},
	}
}

func newGetCmd(c *cliContext) *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "read a key from the base store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s kvstore.Store) error {
				rs, err := s.Get(ctx, kvstore.Key(args[0]), kvstore.GetOptions{IncludeDeleted: includeDeleted})
				if err != nil {
					return err
				}
				if len(rs) == 0 {
					return errors.Newf("key %q not found", args[0])
				}
				printEntries(cmd.OutOrStdout(), rs, false)
				return nil
			})
		},
	}
	BoolFlag(cmd.Flags(), &includeDeleted, cliflags.IncludeDeleted, false)
	return cmd
}

func newDelCmd(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "delete a key from the base store",
		Long: `
Delete a key from the base store. The deletion is recorded as a tombstone
and remains visible in the key's history.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s kvstore.Store) error {
				return s.Del(ctx, kvstore.Key(args[0]))
			})
		},
	}
}

func newScanCmd(c *cliContext) *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "scan [prefix]",
		Short: "list the keys of the base store",
		Long: `
List the keys of the base store in iteration order. A prefix restricts the
output to the prefix itself and the keys nested below it.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := kvstore.IterOptions{IncludeDeleted: includeDeleted}
			if len(args) == 1 {
				opts.Prefix = kvstore.Key(args[0])
			}
			return c.withStore(cmd, func(ctx context.Context, s kvstore.Store) error {
				return printIterator(ctx, cmd.OutOrStdout(), s.NewIterator(opts), false)
			})
		},
	}
	BoolFlag(cmd.Flags(), &includeDeleted, cliflags.IncludeDeleted, false)
	return cmd
}

func newHistoryCmd(c *cliContext) *cobra.Command {
	var reverse bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "list every write applied to the base store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s kvstore.Store) error {
				it := s.NewHistoryIterator(kvstore.HistoryOptions{Reverse: reverse})
				return printIterator(ctx, cmd.OutOrStdout(), it, true)
			})
		},
	}
	BoolFlag(cmd.Flags(), &reverse, cliflags.Reverse, false)
	return cmd
}

func newKeyHistoryCmd(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "key-history <key>",
		Short: "list the writes to a key, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s kvstore.Store) error {
				it := s.NewKeyHistoryIterator(kvstore.Key(args[0]))
				return printIterator(ctx, cmd.OutOrStdout(), it, true)
			})
		},
	}
}

func printIterator(ctx context.Context, w io.Writer, it kvstore.Iterator, withSeq bool) error {
	entries, err := kvstore.Collect(ctx, it)
	if err != nil {
		return err
	}
	printEntries(w, entries, withSeq)
	return nil
}

// printEntries writes one line per entry: "key=value" for live entries and
// "key (deleted)" for tombstones, optionally prefixed by the sequence
// number.
func printEntries(w io.Writer, entries []kvstore.Entry, withSeq bool) {
	for _, e := range entries {
		if withSeq {
			fmt.Fprintf(w, "%d ", e.Seq)
		}
		if e.Deleted {
			fmt.Fprintf(w, "%s (deleted)\n", e.Key)
		} else {
			fmt.Fprintf(w, "%s=%s\n", e.Key, e.Value)
		}
	}
}
