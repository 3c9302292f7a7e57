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

package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger returns a logger writing text to stderr and, when cfg.File is
// set, JSON lines to that file. The returned function closes the file.
func SetupLogger(cfg LogConfig) (*slog.Logger, func() error) {
	level := ParseLevel(cfg.Level)
	stderr := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.File == "" {
		return slog.New(stderr), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderr)
		logger.Error("log.file.open_failed", "file", cfg.File, "err", err)
		return logger, func() error { return nil }
	}
	return NewFanoutLogger(os.Stderr, file, level), file.Close
}

// NewFanoutLogger writes text records to stderr and JSON records to file.
func NewFanoutLogger(stderr, file io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	))
}
