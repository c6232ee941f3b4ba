// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// stagekv is a command-line front end for a staged key-value store.
package main

import "github.com/cockroachdb/stagekv/pkg/cli"

func main() {
	cli.Main()
}
