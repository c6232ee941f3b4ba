// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/cli/cliflags"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/storage/memstore"
	"github.com/cockroachdb/stagekv/pkg/storage/stage"
	"github.com/cockroachdb/stagekv/pkg/util/log"
	"github.com/cockroachdb/stagekv/pkg/util/metric"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const shellHelp = `Commands:
  put <key> <value>   stage a write
  del <key>           stage a delete
  get <key>           read a key through the stage
  scan [prefix]       list keys through the stage
  history [reverse]   list the base history followed by the staged history
  key-history <key>   list the writes to a key, staged writes first
  commit              apply the staged writes to the store
  revert              discard the staged writes
  stats [prometheus]  print stage metrics
  help                print this message
  quit                leave the shell
`

func newShellCmd(c *cliContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "open a staging shell over the base store",
		Long: `
Open a line-oriented shell in which writes are staged in memory. Reads see
the staged writes layered over the base store. "commit" applies the staged
writes to the store and "revert" discards them. Staged writes that are not
committed are lost when the shell exits.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			interactive := false
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return errors.Wrap(err, "opening command file")
				}
				defer f.Close()
				in = f
			} else if f, ok := in.(*os.File); ok {
				interactive = isatty.IsTerminal(f.Fd())
			}
			return c.withStore(cmd, func(ctx context.Context, s kvstore.Store) error {
				sh, err := newShell(s, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				return sh.run(ctx, in, interactive)
			})
		},
	}
	StringFlag(cmd.Flags(), &file, cliflags.ShellFile, "")
	return cmd
}

type shell struct {
	stage    *stage.Stage
	registry *metric.Registry
	out      io.Writer
}

func newShell(base kvstore.Store, out io.Writer) (*shell, error) {
	reg := metric.NewRegistry()
	st, err := stage.New(base, stage.WithMetrics(reg))
	if err != nil {
		return nil, err
	}
	return &shell{stage: st, registry: reg, out: out}, nil
}

// run executes commands from in until it is exhausted or a quit command is
// read. Errors from individual commands are printed and do not end the
// session.
func (sh *shell) run(ctx context.Context, in io.Reader, interactive bool) error {
	defer func() { _ = sh.stage.Close() }()
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(sh.out, "stagekv> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		quit, err := sh.exec(ctx, line)
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading commands")
	}
	if n := staged(sh.stage); n > 0 {
		log.Warningf(ctx, "discarding %d uncommitted staged keys", n)
	}
	return nil
}

// staged returns the number of keys with staged records.
func staged(st *stage.Stage) int {
	if ms, ok := st.Overlay().(*memstore.Store); ok {
		return ms.Len()
	}
	return 0
}

func (sh *shell) exec(ctx context.Context, line string) (quit bool, _ error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	wantArgs := func(min, max int) error {
		if len(args) < min || len(args) > max {
			return errors.Newf("%s: wrong number of arguments", cmd)
		}
		return nil
	}

	switch cmd {
	case "put":
		if len(args) < 2 {
			return false, errors.Newf("usage: put <key> <value>")
		}
		// The value is the remainder of the line, spaces included.
		value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[len(cmd):]), args[0]))
		return false, sh.stage.Put(ctx, kvstore.Key(args[0]), []byte(value))

	case "del":
		if err := wantArgs(1, 1); err != nil {
			return false, err
		}
		return false, sh.stage.Del(ctx, kvstore.Key(args[0]))

	case "get":
		if err := wantArgs(1, 1); err != nil {
			return false, err
		}
		rs, err := sh.stage.Get(ctx, kvstore.Key(args[0]), kvstore.GetOptions{})
		if err != nil {
			return false, err
		}
		if len(rs) == 0 {
			fmt.Fprintf(sh.out, "%s not found\n", args[0])
			return false, nil
		}
		printEntries(sh.out, rs, false)
		return false, nil

	case "scan":
		if err := wantArgs(0, 1); err != nil {
			return false, err
		}
		var opts kvstore.IterOptions
		if len(args) == 1 {
			opts.Prefix = kvstore.Key(args[0])
		}
		return false, printIterator(ctx, sh.out, sh.stage.NewIterator(opts), false)

	case "history":
		if err := wantArgs(0, 1); err != nil {
			return false, err
		}
		reverse := len(args) == 1 && args[0] == "reverse"
		if len(args) == 1 && !reverse {
			return false, errors.Newf("usage: history [reverse]")
		}
		it := sh.stage.NewHistoryIterator(kvstore.HistoryOptions{Reverse: reverse})
		return false, printIterator(ctx, sh.out, it, false)

	case "key-history":
		if err := wantArgs(1, 1); err != nil {
			return false, err
		}
		return false, printIterator(ctx, sh.out, sh.stage.NewKeyHistoryIterator(kvstore.Key(args[0])), false)

	case "commit":
		before := sh.stage.Metrics().CommitInstructions.Count()
		if err := sh.stage.Commit(ctx); err != nil {
			return false, err
		}
		n := sh.stage.Metrics().CommitInstructions.Count() - before
		fmt.Fprintf(sh.out, "committed %s %s\n", humanize.Comma(n), plural(n, "instruction"))
		return false, nil

	case "revert":
		n := staged(sh.stage)
		sh.stage.Revert()
		fmt.Fprintf(sh.out, "reverted %s staged %s\n", humanize.Comma(int64(n)), plural(int64(n), "key"))
		return false, nil

	case "stats":
		if err := wantArgs(0, 1); err != nil {
			return false, err
		}
		if len(args) == 1 {
			if args[0] != "prometheus" {
				return false, errors.Newf("usage: stats [prometheus]")
			}
			return false, sh.registry.PrintAsText(sh.out)
		}
		fmt.Fprintf(sh.out, "staged keys: %d\n", staged(sh.stage))
		sh.registry.Each(func(name string, val int64) {
			fmt.Fprintf(sh.out, "%s: %d\n", name, val)
		})
		return false, nil

	case "help":
		fmt.Fprint(sh.out, shellHelp)
		return false, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, errors.Newf("unknown command %q; try \"help\"", cmd)
	}
}

func plural(n int64, noun string) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
