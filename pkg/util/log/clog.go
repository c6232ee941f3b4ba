// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log implements leveled, context-aware logging. Every logging call
// takes a context.Context; tags attached to the context with
// logtags.AddTag are rendered in front of the message. Messages are
// formatted with redact so that unsafe (user-provided) data can be marked in
// the output when redactable logs are enabled.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/util/syncutil"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Severity identifies the sort of log: info, warning etc.
type Severity int32

// These constants identify the log levels in order of increasing Severity.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

var severityName = []string{
	SeverityInfo:    "INFO",
	SeverityWarning: "WARNING",
	SeverityError:   "ERROR",
	SeverityFatal:   "FATAL",
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityName) {
		return fmt.Sprintf("Severity(%d)", int32(s))
	}
	return severityName[s]
}

func (s Severity) level() zerolog.Level {
	switch s {
	case SeverityWarning:
		return zerolog.WarnLevel
	case SeverityError:
		return zerolog.ErrorLevel
	case SeverityFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Output formats accepted by Config.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config configures the process-wide logger.
type Config struct {
	// Format is FormatConsole or FormatJSON. Empty means console.
	Format string
	// Verbosity is the threshold for V and VEventf.
	Verbosity int
	// Redactable keeps redaction markers around unsafe data in messages.
	Redactable bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

var logging struct {
	verbosity  atomic.Int32
	redactable atomic.Bool

	mu struct {
		syncutil.RWMutex
		logger   zerolog.Logger
		exitFunc func(int)
	}
}

func init() {
	if err := ApplyConfig(Config{}); err != nil {
		panic(err)
	}
}

// ApplyConfig replaces the process-wide logger configuration.
func ApplyConfig(cfg Config) error {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer
	switch cfg.Format {
	case "", FormatConsole:
		noColor := true
		if f, ok := out.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		w = zerolog.ConsoleWriter{Out: out, NoColor: noColor, TimeFormat: time.RFC3339}
	case FormatJSON:
		w = out
	default:
		return errors.Newf("unknown log format %q", cfg.Format)
	}
	if cfg.Verbosity < 0 {
		return errors.Newf("invalid log verbosity %d", cfg.Verbosity)
	}

	logging.mu.Lock()
	defer logging.mu.Unlock()
	logging.mu.logger = zerolog.New(w).With().Timestamp().Logger()
	logging.verbosity.Store(int32(cfg.Verbosity))
	logging.redactable.Store(cfg.Redactable)
	return nil
}

// SetVerbosity changes the threshold for V and VEventf.
func SetVerbosity(level int) {
	logging.verbosity.Store(int32(level))
}

// SetExitFunc allows setting a function that will be called to exit
// the process when a Fatal message is generated. Call with a nil function
// to undo.
func SetExitFunc(f func(int)) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	logging.mu.exitFunc = f
}

// ResetExitFunc undoes any prior call to SetExitFunc.
func ResetExitFunc() {
	SetExitFunc(nil)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int) bool {
	return int32(level) <= logging.verbosity.Load()
}

// Infof logs to the INFO log.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityInfo, format, args)
}

// Warningf logs to the WARNING and INFO logs.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityWarning, format, args)
}

// Errorf logs to the ERROR, WARNING, and INFO logs.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityError, format, args)
}

// Fatalf logs to the INFO, WARNING, ERROR, and FATAL logs, then exits the
// process (or calls the function installed with SetExitFunc).
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityFatal, format, args)
}

// InfofDepth logs to the INFO log, offsetting the caller's stack frame by
// 'depth'.
func InfofDepth(ctx context.Context, depth int, format string, args ...interface{}) {
	logDepth(ctx, depth+1, SeverityInfo, format, args)
}

// VEventf logs the message at INFO if the verbosity is at least level.
func VEventf(ctx context.Context, level int, format string, args ...interface{}) {
	if V(level) {
		logDepth(ctx, 1, SeverityInfo, format, args)
	}
}

func logDepth(ctx context.Context, depth int, sev Severity, format string, args []interface{}) {
	msg := renderArgs(logging.redactable.Load(), format, args...)
	tags := formatTags(ctx)

	logging.mu.RLock()
	logger := logging.mu.logger
	exit := logging.mu.exitFunc
	logging.mu.RUnlock()

	ev := logger.WithLevel(sev.level())
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		ev = ev.Str("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	if tags != "" {
		ev = ev.Str("tags", tags)
		msg = "[" + tags + "] " + msg
	}
	ev.Msg(msg)

	if sev == SeverityFatal {
		if exit == nil {
			exit = os.Exit
		}
		exit(255)
	}
}
