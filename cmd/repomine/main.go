// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later
// Package main implements the repomine CLI, which mines GitHub repositories
// into warehouse tables.
//
// Usage:
//
//	repomine init                      Write a starter repomine.yaml
//	repomine metrics|commits|pulls|... Run a GitHub API collector
//	repomine loc [--source bucket]     Count lines and strip comments
//	repomine comments                  Extract source comments
//	repomine group --stage loc         Re-run the grouping pass
//	repomine dry                       Count duplicated code chunks
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kraklabs/repomine/internal/errors"
	"github.com/kraklabs/repomine/internal/ui"
	"github.com/kraklabs/repomine/pkg/collect"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags are accepted before the command name.
type GlobalFlags struct {
	Config      string
	JSON        bool
	Quiet       bool
	NoColor     bool
	Verbose     int
	MetricsAddr string
}

func main() {
	var (
		globals     GlobalFlags
		showVersion bool
		verbose     bool
	)
	flag.StringVar(&globals.Config, "config", "", "Path to repomine.yaml (default: ./repomine.yaml)")
	flag.BoolVar(&globals.JSON, "json", false, "Print results and errors as JSON")
	flag.BoolVar(&globals.Quiet, "q", false, "Suppress progress output")
	flag.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	flag.BoolVar(&verbose, "v", false, "Debug logging")
	flag.StringVar(&globals.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `repomine - mine GitHub repositories into warehouse tables

Usage:
  repomine [global options] <command> [options]

Commands:
  init        Write a starter configuration
  %s
              Run a GitHub API collector over the repo list
  loc         Count lines of code and strip comments with cloc
  comments    Extract comments with tree-sitter
  group       Rebuild the grouped tables of a stage
  dry         Count duplicated code chunks per repository

Global Options:
  --config        Path to repomine.yaml
  --json          Print results and errors as JSON
  -q              Suppress progress output
  -v              Debug logging
  --no-color      Disable colored output
  --metrics-addr  Serve Prometheus metrics while running
  --version       Show version and exit

Environment Variables:
  GITHUB_TOKEN               GitHub API token
  REPOMINE_WAREHOUSE_DSN     Warehouse connection string
  REPOMINE_SHEET             Repo list CSV (path or URL)

For detailed command help: repomine <command> --help

`, strings.Join(collect.Names(), "|"))
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("repomine version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}
	if verbose {
		globals.Verbose = 1
	}
	if globals.JSON {
		globals.Quiet = true
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(errors.ExitInput)
	}
	command, cmdArgs := args[0], args[1:]

	var err error
	switch command {
	case "init":
		err = runInit(cmdArgs, globals)
	case "loc":
		err = runStage(cmdArgs, globals, stageLOC)
	case "comments":
		err = runStage(cmdArgs, globals, stageComments)
	case "group":
		err = runGroup(cmdArgs, globals)
	case "dry":
		err = runDry(cmdArgs, globals)
	default:
		if c, ok := collect.Collectors()[command]; ok {
			err = runCollect(cmdArgs, globals, c)
			break
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(errors.ExitInput)
	}
	errors.FatalError(userError(err), globals.JSON)
}
