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
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// progressOut is where collectors and stages draw their progress. A zero
// value draws nothing.
type progressOut struct {
	w     io.Writer
	color bool
}

// progressFor draws on stderr unless -q or --json is set or stderr is not
// a terminal.
func progressFor(globals GlobalFlags) progressOut {
	fd := os.Stderr.Fd()
	if globals.Quiet || !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) {
		return progressOut{}
	}
	return progressOut{w: os.Stderr, color: !globals.NoColor}
}

// progress counts finished repositories or files. A nil *progress is valid.
type progress struct {
	bar *progressbar.ProgressBar
}

// repos tracks a collector over a repo list of known length.
func (o progressOut) repos(collector string, total int) *progress {
	if o.w == nil {
		return nil
	}
	opts := append(o.options("collect "+collector, "repos"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
	return &progress{bar: progressbar.NewOptions(total, opts...)}
}

// files tracks a pipeline stage; the number of files is not known up front.
func (o progressOut) files(stage string) *progress {
	if o.w == nil {
		return nil
	}
	opts := append(o.options(stageLabel(stage), "files"), progressbar.OptionSpinnerType(11))
	return &progress{bar: progressbar.NewOptions(-1, opts...)}
}

func (o progressOut) options(label, unit string) []progressbar.Option {
	if o.color {
		label = "[cyan]" + label + "[reset]"
	}
	return []progressbar.Option{
		progressbar.OptionSetWriter(o.w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionEnableColorCodes(o.color),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionThrottle(100 * time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	}
}

// callback adapts p to the "n done so far" hooks of collect.Options and
// ingestion.PipelineConfig.
func (p *progress) callback() func(int) {
	if p == nil {
		return nil
	}
	return func(n int) { _ = p.bar.Set(n) }
}

func (p *progress) done() {
	if p != nil {
		_ = p.bar.Finish()
	}
}

func stageLabel(stage string) string {
	switch stage {
	case "loc":
		return "count lines"
	case "comments":
		return "extract comments"
	default:
		return stage
	}
}
