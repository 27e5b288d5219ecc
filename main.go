// Synth - a local-first desktop copilot.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"
	"slices"

	"github.com/jeranaias/synth/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	if err := cli.Execute(); err != nil {
		cli.DisplayError(os.Stderr, err, slices.Contains(os.Args[1:], "--json"))
		os.Exit(cli.GetExitCode(err))
	}
}
