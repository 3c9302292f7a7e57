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
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

// DefaultExclude matches file names whose extension marks them as data,
// media or archives rather than source.
var DefaultExclude = regexp.MustCompile(`(?i)\.(` +
	`jpg|pdf|eps|fa|fq|ps|sam|fasta|gff3|vcf|dat|png|gz|gitignore|fai|bed|` +
	`mat|zip|gif|svg|fastq|jar|mp3|mp4|class|bwt|bz2|cram|crai|ppt|` +
	`pptx|RData|Rhistory|tgz|gtf)$`)

// unsafeName matches characters replaced when a path becomes a scratch file name.
var unsafeName = regexp.MustCompile("[\\^\\-\\]\\\\`~!@#$%&*()=+\\[{}|;:,<>/?]")

// Analyzer derives records from one file whose content has been written to
// scratchPath. It returns no records when it cannot handle the file.
type Analyzer interface {
	Analyze(ctx context.Context, rec FileRecord, scratchPath string) ([]DerivedRecord, error)
}

// ContentAnalyzer is an Analyzer that may work from FileRecord.Content alone.
// When ReadsContent returns true the Processor writes no scratch file and
// passes an empty scratchPath.
type ContentAnalyzer interface {
	Analyzer
	ReadsContent() bool
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// ScratchDir is where file contents are written. Defaults to os.TempDir().
	ScratchDir string

	// Exclude matches file names that are skipped without analysis.
	// Defaults to DefaultExclude.
	Exclude *regexp.Regexp

	Logger *slog.Logger
}

// Processor decides the Outcome for each FileRecord.
type Processor struct {
	analyzer   Analyzer
	exclude    *regexp.Regexp
	scratchDir string
	logger     *slog.Logger
}

// NewProcessor returns a Processor that hands unseen files to analyzer.
func NewProcessor(analyzer Analyzer, opts ProcessorOptions) *Processor {
	if opts.Exclude == nil {
		opts.Exclude = DefaultExclude
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Processor{
		analyzer:   analyzer,
		exclude:    opts.Exclude,
		scratchDir: opts.ScratchDir,
		logger:     opts.Logger,
	}
}

// Process returns the outcome for rec. The first matching rule wins:
// previously skipped, already done, no content, excluded name, no analyzer
// result, and finally processed.
func (p *Processor) Process(ctx context.Context, rec FileRecord, snap *Snapshot) (Outcome, error) {
	hash := rec.Hash()
	switch {
	case snap.IsSkipped(hash):
		return skipped(SkipAlreadySkipped), nil
	case snap.IsDone(hash):
		return skipped(SkipAlreadyDone), nil
	case rec.Content == nil:
		return skipped(SkipEmptyContent), nil
	case p.exclude.MatchString(path.Base(rec.Path)):
		return skipped(SkipExcluded), nil
	}

	records, err := p.analyze(ctx, rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("analyze %s/%s: %w", rec.RepoName, rec.Path, err)
	}
	if len(records) == 0 {
		return skipped(SkipNoResult), nil
	}
	return processed(records...), nil
}

// analyze writes rec to a private scratch directory that is removed however
// the analyzer returns.
func (p *Processor) analyze(ctx context.Context, rec FileRecord) ([]DerivedRecord, error) {
	if ca, ok := p.analyzer.(ContentAnalyzer); ok && ca.ReadsContent() {
		return p.analyzer.Analyze(ctx, rec, "")
	}
	dir, err := os.MkdirTemp(p.scratchDir, "repomine-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn("processor.scratch.cleanup", "dir", dir, "err", err)
		}
	}()

	name := unsafeName.ReplaceAllString(path.Base(rec.Path), "_")
	if name == "" || name == "." {
		name = "file"
	}
	scratch := filepath.Join(dir, name)
	if err := os.WriteFile(scratch, []byte(*rec.Content), 0o600); err != nil {
		return nil, fmt.Errorf("scratch file: %w", err)
	}
	return p.analyzer.Analyze(ctx, rec, scratch)
}

// ClocAnalyzer produces a LOCRecord and, when Strip is set, a StrippedRecord
// for every file the LineCounter recognizes.
type ClocAnalyzer struct {
	Counter LineCounter
	Strip   bool
}

// Analyze implements Analyzer.
func (a ClocAnalyzer) Analyze(ctx context.Context, rec FileRecord, scratchPath string) ([]DerivedRecord, error) {
	lc, strippedPath, err := a.Counter.Count(ctx, scratchPath)
	if err != nil {
		return nil, err
	}
	if lc == nil {
		return nil, nil
	}

	hash := rec.Hash()
	records := []DerivedRecord{LOCRecord{
		RepoName: rec.RepoName,
		Path:     rec.Path,
		SHA:      hash,
		Language: lc.Language,
		Blank:    lc.Blank,
		Comment:  lc.Comment,
		Code:     lc.Code,
	}}
	if !a.Strip {
		return records, nil
	}

	// The stripped record is emitted even without a stripped copy so the
	// two ungrouped tables always hold the same hashes.
	sc := StrippedRecord{RepoName: rec.RepoName, Path: rec.Path, SHA: hash, Language: lc.Language}
	if strippedPath != "" {
		b, err := os.ReadFile(strippedPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read stripped copy: %w", err)
		}
		if err == nil {
			s := string(b)
			sc.Content = &s
		}
	}
	return append(records, sc), nil
}
