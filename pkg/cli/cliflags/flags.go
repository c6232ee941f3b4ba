// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cliflags defines the command-line flags of the stagekv binary.
package cliflags

import (
	"fmt"
	"strings"
)

// FlagInfo contains the static information for a CLI flag and helper
// to format the description.
type FlagInfo struct {
	// Name of the flag as used on the command line.
	Name string

	// Shorthand is the short form of the flag (optional).
	Shorthand string

	// EnvVar is the name of the environment variable through which the flag
	// can also be set (optional).
	EnvVar string

	// Description of the flag.
	Description string
}

// Usage returns a formatted usage string for the flag, including the
// environment variable when there is one.
func (f FlagInfo) Usage() string {
	s := strings.TrimSpace(f.Description)
	if f.EnvVar != "" {
		s = fmt.Sprintf("%s\nEnvironment variable: %s", s, f.EnvVar)
	}
	return s
}

// Flags shared by all commands.
var (
	Config = FlagInfo{
		Name:        "config",
		EnvVar:      "STAGEKV_CONFIG",
		Description: `Path to a YAML configuration file. Flags override its settings.`,
	}

	Store = FlagInfo{
		Name:        "store",
		Shorthand:   "s",
		EnvVar:      "STAGEKV_STORE",
		Description: `Directory of the base store.`,
	}

	InMemory = FlagInfo{
		Name:        "in-memory",
		EnvVar:      "STAGEKV_IN_MEMORY",
		Description: `Keep the base store in memory. Its contents are lost on exit.`,
	}

	Ordering = FlagInfo{
		Name:        "ordering",
		EnvVar:      "STAGEKV_ORDERING",
		Description: `Key ordering of the base store: "raw" or "hashed".`,
	}

	Cache = FlagInfo{
		Name:        "cache",
		EnvVar:      "STAGEKV_CACHE",
		Description: `Size of the base store's block cache, e.g. "64MiB".`,
	}

	Verbosity = FlagInfo{
		Name:        "verbosity",
		Shorthand:   "v",
		Description: `Log verbosity level.`,
	}
)

// Flags of individual commands.
var (
	Reverse = FlagInfo{
		Name:        "reverse",
		Description: `List the newest write first.`,
	}

	IncludeDeleted = FlagInfo{
		Name:        "include-deleted",
		Description: `Include tombstones in the output.`,
	}

	ShellFile = FlagInfo{
		Name:        "file",
		Shorthand:   "f",
		Description: `Read shell commands from the given file instead of standard input.`,
	}
)
