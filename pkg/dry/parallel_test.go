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
package dry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmtest "github.com/kraklabs/repomine/internal/testing"
	"github.com/kraklabs/repomine/pkg/ingestion"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

type sliceSource []Record

func (s sliceSource) Each(ctx context.Context, fn func(Record) error) error {
	for _, r := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func repoRecords(repos, files int) sliceSource {
	var out sliceSource
	for r := 0; r < repos; r++ {
		for f := 0; f < files; f++ {
			out = append(out, Record{
				RepoName: fmt.Sprintf("org/repo%02d", r),
				Path:     fmt.Sprintf("f%d.go", f),
				Language: "Go",
				Content:  "shared line\nrepo line " + fmt.Sprint(r),
			})
		}
	}
	return out
}

func TestRun(t *testing.T) {
	sink := newMemSink()
	d := newTestDetector(t, sink)

	stats, err := Run(context.Background(), d, repoRecords(3, 2))
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Records)
	assert.Equal(t, 3, stats.Repos)

	got := sink.counts("dry_1_1")
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got["org/repo01"]["shared line"])
}

func TestRunParallel_MatchesSequential(t *testing.T) {
	src := repoRecords(12, 3)

	seq := newMemSink()
	want, err := Run(context.Background(), newTestDetector(t, seq), src)
	require.NoError(t, err)

	par := newMemSink()
	got, err := RunParallel(context.Background(), src, 4, func() (*Detector, error) {
		return NewDetector(par, Options{
			Configs: []ChunkConfig{{Size: 1, MinLineLen: 1}, {Size: 2, MinLineLen: 1}},
			Prefix:  "dry",
			Logger:  quietLogger,
		})
	})
	require.NoError(t, err)

	assert.Equal(t, want.Records, got.Records)
	assert.Equal(t, want.Repos, got.Repos)
	assert.Equal(t, want.Rows, got.Rows)
	assert.Equal(t, seq.counts("dry_1_1"), par.counts("dry_1_1"))
	assert.Equal(t, seq.counts("dry_2_1"), par.counts("dry_2_1"))
}

func TestRunParallel_Unsorted(t *testing.T) {
	src := append(repoRecords(2, 1), Record{RepoName: "org/repo00", Content: "again"})
	_, err := RunParallel(context.Background(), src, 2, func() (*Detector, error) {
		return newTestDetector(t, newMemSink()), nil
	})
	assert.ErrorIs(t, err, ErrUnsorted)
}

func TestRunParallel_FactoryError(t *testing.T) {
	_, err := RunParallel(context.Background(), repoRecords(1, 1), 2, func() (*Detector, error) {
		return NewDetector(newMemSink(), Options{})
	})
	assert.ErrorIs(t, err, ErrInvalidChunkConfig)
}

func TestRunParallel_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunParallel(ctx, repoRecords(5, 2), 2, func() (*Detector, error) {
		return newTestDetector(t, newMemSink()), nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWarehouseSource(t *testing.T) {
	ctx := context.Background()
	wh := warehouse.NewMemory()
	require.NoError(t, wh.CreateTable(ctx, "contents", ingestion.ContentsSchema))
	require.NoError(t, wh.CreateTable(ctx, "sc", ingestion.TableStripped.Schema()))
	require.NoError(t, wh.WriteRows(ctx, "contents", []warehouse.Row{
		{"repo_name": "b", "path": "main.go", "sha": "s1"},
		{"repo_name": "a", "path": "z.go", "sha": "s1"},
		{"repo_name": "a", "path": "z.go", "sha": "s1"},
		{"repo_name": "a", "path": "b.go", "sha": "s2"},
		{"repo_name": "a", "path": "gone.go", "sha": "s9"},
	}))
	require.NoError(t, wh.WriteRows(ctx, "sc", []warehouse.Row{
		{"sha": "s1", "language": "Go", "content_comments_stripped": "package main"},
		{"sha": "s2", "language": "Go", "content_comments_stripped": nil},
	}))

	var got []Record
	err := WarehouseSource{WH: wh, Files: "contents", Stripped: "sc"}.Each(ctx, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{RepoName: "a", Path: "b.go", Language: "Go", Content: ""},
		{RepoName: "a", Path: "z.go", Language: "Go", Content: "package main"},
		{RepoName: "b", Path: "main.go", Language: "Go", Content: "package main"},
	}, got)
}

func TestRun_SQLite(t *testing.T) {
	ctx := context.Background()
	wh := rmtest.SetupSQLiteWarehouse(t)
	rmtest.SeedTable(t, wh, "contents", ingestion.ContentsSchema,
		warehouse.Row{"repo_name": "b", "path": "dup.go", "sha": "s1"},
		warehouse.Row{"repo_name": "a", "path": "dup.go", "sha": "s1"},
		warehouse.Row{"repo_name": "a", "path": "notes.md", "sha": "s2"},
	)
	rmtest.SeedTable(t, wh, "sc", ingestion.TableStripped.Schema(),
		warehouse.Row{"sha": "s1", "language": "Go", "content_comments_stripped": "return nil\nx := 1\nreturn nil"},
		warehouse.Row{"sha": "s2", "language": "Markdown", "content_comments_stripped": "return nil"},
	)

	opts := Options{
		Configs:       []ChunkConfig{{Size: 1, MinLineLen: 6}},
		Prefix:        "dry",
		SkipLanguages: []string{"Markdown"},
		Logger:        quietLogger,
	}
	require.NoError(t, Prepare(ctx, wh, opts))
	d, err := NewDetector(ingestion.NewPusher(wh, ingestion.PusherOptions{Logger: quietLogger}), opts)
	require.NoError(t, err)

	stats, err := Run(ctx, d, WarehouseSource{WH: wh, Files: "contents", Stripped: "sc"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Repos)
	assert.Equal(t, 1, stats.SkippedLanguage)

	res := rmtest.QueryTable(t, wh, "dry_1_6", "repo_name", "code_chunk")
	assert.Equal(t, []string{"a", "a", "b", "b"}, res.Strings("repo_name"))
	assert.Equal(t, []string{"return nil", "x := 1", "return nil", "x := 1"}, res.Strings("code_chunk"))
	assert.Equal(t, []any{int64(2), int64(1), int64(2), int64(1)}, res.Column("num_occurrences"))
}
