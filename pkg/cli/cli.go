// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cli implements the stagekv command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/stagekv/pkg/base"
	"github.com/cockroachdb/stagekv/pkg/cli/cliflags"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/storage/pebblestore"
	"github.com/cockroachdb/stagekv/pkg/util/log"
	"github.com/spf13/cobra"
)

// Main is the entry point for the stagekv binary.
func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// cliContext holds the state of a single invocation: the flag values and
// the configuration resolved from them.
type cliContext struct {
	configPath string
	storeDir   string
	inMemory   bool
	ordering   string
	cacheSize  base.ByteSize
	verbosity  int

	cfg base.Config
}

// NewRootCmd builds the stagekv command tree.
func NewRootCmd() *cobra.Command {
	cliCtx := &cliContext{}
	rootCmd := &cobra.Command{
		Use:   "stagekv [command] (flags)",
		Short: "staged writes over a sorted, versioned key-value store",
		Long: `
stagekv operates a pebble-backed key-value store directly, or through a
staging shell in which writes accumulate until they are committed to the
store or reverted.
`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: cliCtx.resolve,
	}

	f := rootCmd.PersistentFlags()
	StringFlag(f, &cliCtx.configPath, cliflags.Config, "")
	StringFlag(f, &cliCtx.storeDir, cliflags.Store, base.DefaultStoreDir)
	BoolFlag(f, &cliCtx.inMemory, cliflags.InMemory, false)
	StringFlag(f, &cliCtx.ordering, cliflags.Ordering, base.DefaultOrdering)
	cliCtx.cacheSize = base.DefaultCacheSize
	VarFlag(f, &cliCtx.cacheSize, cliflags.Cache)
	IntFlag(f, &cliCtx.verbosity, cliflags.Verbosity, 0)

	rootCmd.AddCommand(
		newPutCmd(cliCtx),
		newGetCmd(cliCtx),
		newDelCmd(cliCtx),
		newScanCmd(cliCtx),
		newHistoryCmd(cliCtx),
		newKeyHistoryCmd(cliCtx),
		newShellCmd(cliCtx),
		newVersionCmd(),
	)
	return rootCmd
}

// resolve loads the configuration file, if any, and applies the flags that
// were set explicitly on top of it.
func (c *cliContext) resolve(cmd *cobra.Command, _ []string) error {
	cfg := base.DefaultConfig()
	if c.configPath != "" {
		var err error
		if cfg, err = base.LoadConfig(c.configPath); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed(cliflags.Store.Name) {
		cfg.Store.Dir = c.storeDir
	}
	if flags.Changed(cliflags.InMemory.Name) {
		cfg.Store.InMemory = c.inMemory
	}
	if flags.Changed(cliflags.Ordering.Name) {
		cfg.Store.Ordering = c.ordering
	}
	if flags.Changed(cliflags.Cache.Name) {
		cfg.Store.CacheSize = c.cacheSize
	}
	if flags.Changed(cliflags.Verbosity.Name) {
		cfg.Log.Verbosity = c.verbosity
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := log.ApplyConfig(log.Config{
		Format:     cfg.Log.Format,
		Verbosity:  cfg.Log.Verbosity,
		Redactable: cfg.Log.Redactable,
		Output:     cmd.ErrOrStderr(),
	}); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// openStore opens the configured base store.
func (c *cliContext) openStore(ctx context.Context) (*pebblestore.Store, error) {
	ordering, err := kvstore.OrderingByName(c.cfg.Store.Ordering)
	if err != nil {
		return nil, err
	}
	return pebblestore.Open(ctx, pebblestore.Options{
		Dir:           c.cfg.Store.Dir,
		InMemory:      c.cfg.Store.InMemory,
		Ordering:      ordering,
		CacheSize:     int64(c.cfg.Store.CacheSize),
		MaxBatchBytes: int(c.cfg.Store.MaxBatchBytes),
	})
}

// withStore runs fn against the configured base store and closes it
// afterwards.
func (c *cliContext) withStore(
	cmd *cobra.Command, fn func(ctx context.Context, s kvstore.Store) error,
) (retErr error) {
	ctx := logtags.AddTag(cmd.Context(), "cmd", cmd.Name())
	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		retErr = errors.CombineErrors(retErr, s.Close())
	}()
	return fn(ctx, s)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "output version information",
		Long: `
Output build version information.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version := "(devel)"
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				version = info.Main.Version
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 1, 2, ' ', 0)
			fmt.Fprintf(tw, "Version:\t%s\n", version)
			fmt.Fprintf(tw, "Platform:\t%s %s/%s\n", runtime.Compiler, runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(tw, "Go Version:\t%s\n", runtime.Version())
			return tw.Flush()
		},
	}
}
