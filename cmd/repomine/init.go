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
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kraklabs/repomine/internal/config"
	"github.com/kraklabs/repomine/internal/errors"
	"github.com/kraklabs/repomine/internal/ui"
)

// runInit writes the built-in defaults to a config file so they can be edited.
func runInit(args []string, globals GlobalFlags) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	path := fs.String("path", config.DefaultPath, "Where to write the configuration")
	force := fs.Bool("force", false, "Overwrite an existing configuration")
	sheet := fs.String("sheet", "", "Repo sheet path or URL (sets sheet.source)")
	engine := fs.String("engine", "", "Warehouse engine: sqlite, postgres or mem")
	dsn := fs.String("dsn", "", "Warehouse DSN")
	fs.Usage = usage(fs, "Writes a starter configuration. Secrets such as the GitHub token are\n"+
		"better kept in the environment (GITHUB_TOKEN) or a .env file.")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		return errors.NewInputError(
			"Configuration already exists",
			*path+" is already present",
			"Use --force to overwrite it",
		)
	}

	cfg := config.DefaultConfig()
	if *sheet != "" {
		cfg.Sheet.Source = *sheet
	}
	if *engine != "" {
		cfg.Warehouse.Engine = *engine
	}
	if *dsn != "" {
		cfg.Warehouse.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		return errors.NewConfigError("Invalid configuration", err.Error(), "Check the --engine value", err)
	}
	if err := config.SaveConfig(cfg, *path); err != nil {
		return errors.NewPermissionError("Cannot write configuration", err.Error(), "Check that the directory is writable", err)
	}

	if globals.JSON {
		return nil
	}
	ui.Successf("Wrote %s", *path)
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Warehouse:"), ui.DimText(cfg.Warehouse.Engine+" "+cfg.Warehouse.DSN))
	if cfg.Sheet.Source == "" {
		ui.Warningf("sheet.source is empty; collectors need a repo list")
	}
	return nil
}
