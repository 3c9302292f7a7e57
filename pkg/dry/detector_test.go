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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmtest "github.com/kraklabs/repomine/internal/testing"
	"github.com/kraklabs/repomine/pkg/ingestion"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

// memSink records pushed rows per table. Parts larger than maxRows, or
// containing a chunk listed in poison, are rejected.
type memSink struct {
	mu      sync.Mutex
	rows    map[string][]warehouse.Row
	calls   int
	maxRows int
	poison  map[string]bool
}

func newMemSink() *memSink {
	return &memSink{rows: make(map[string][]warehouse.Row)}
}

func (s *memSink) Push(_ context.Context, t ingestion.Target, rows []warehouse.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.maxRows > 0 && len(rows) > s.maxRows {
		return errors.New("request too large")
	}
	for _, r := range rows {
		if s.poison[r.String("code_chunk")] {
			return errors.New("invalid row")
		}
	}
	s.rows[t.Table] = append(s.rows[t.Table], rows...)
	return nil
}

func (s *memSink) counts(table string) map[string]map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]int64)
	for _, r := range s.rows[table] {
		repo := r.String("repo_name")
		if out[repo] == nil {
			out[repo] = make(map[string]int64)
		}
		out[repo][r.String("code_chunk")] += r["num_occurrences"].(int64)
	}
	return out
}

var quietLogger = rmtest.QuietLogger()

func newTestDetector(t *testing.T, sink Sink, skip ...string) *Detector {
	t.Helper()
	d, err := NewDetector(sink, Options{
		Configs:       []ChunkConfig{{Size: 1, MinLineLen: 1}, {Size: 2, MinLineLen: 1}},
		Prefix:        "dry",
		SkipLanguages: skip,
		Logger:        quietLogger,
	})
	require.NoError(t, err)
	return d
}

func TestNewDetector_Invalid(t *testing.T) {
	_, err := NewDetector(newMemSink(), Options{})
	assert.ErrorIs(t, err, ErrInvalidChunkConfig)

	_, err = NewDetector(newMemSink(), Options{Configs: []ChunkConfig{{Size: 0, MinLineLen: 3}}})
	assert.ErrorIs(t, err, ErrInvalidChunkConfig)
}

func TestDetector_FlushesPerRepository(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	d := newTestDetector(t, sink)
	assert.Equal(t, []string{"dry_1_1", "dry_2_1"}, d.Tables())

	require.NoError(t, d.Add(ctx, Record{RepoName: "a/x", Path: "f1", Content: "foo\nbar"}))
	require.NoError(t, d.Add(ctx, Record{RepoName: "a/x", Path: "f2", Content: "foo\nbar\n"}))
	assert.Empty(t, sink.rows, "nothing is written before the repository changes")

	require.NoError(t, d.Add(ctx, Record{RepoName: "b/y", Path: "f1", Content: "foo"}))
	assert.Equal(t, map[string]map[string]int64{
		"a/x": {"foo": 2, "bar": 2},
	}, sink.counts("dry_1_1"))

	stats, err := d.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]int64{
		"a/x": {"foo": 2, "bar": 2},
		"b/y": {"foo": 1},
	}, sink.counts("dry_1_1"))
	assert.Equal(t, map[string]map[string]int64{
		"a/x": {"foo\nbar": 2},
	}, sink.counts("dry_2_1"), "chunks do not cross file boundaries")

	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 2, stats.Repos)
	assert.Equal(t, 4, stats.Rows)

	stats, err = d.Close(ctx)
	require.NoError(t, err, "closing twice is a no-op")
	assert.Equal(t, 4, stats.Rows)
}

func TestDetector_Unsorted(t *testing.T) {
	ctx := context.Background()
	d := newTestDetector(t, newMemSink())

	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Content: "x"}))
	require.NoError(t, d.Add(ctx, Record{RepoName: "b", Content: "x"}))
	err := d.Add(ctx, Record{RepoName: "a", Content: "x"})
	assert.ErrorIs(t, err, ErrUnsorted)
}

func TestDetector_SkipsLanguages(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	d := newTestDetector(t, sink, "markdown", "JSON")

	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Language: "Markdown", Content: "# title"}))
	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Language: "json", Content: "{}"}))
	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Language: "Go", Content: "package a"}))
	stats, err := d.Close(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]map[string]int64{"a": {"package a": 1}}, sink.counts("dry_1_1"))
	assert.Equal(t, 2, stats.SkippedLanguage)
	assert.Equal(t, []string{"Markdown", "json"}, stats.Languages)
}

func TestDetector_EmptyRepositoryWritesNothing(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	d := newTestDetector(t, sink)

	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Content: ""}))
	_, err := d.Close(ctx)
	require.NoError(t, err)
	assert.Zero(t, sink.calls)
}

func TestDetector_SplitsRejectedBatches(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	sink.maxRows = 2
	d := newTestDetector(t, sink)

	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Content: "l1\nl2\nl3\nl4\nl5"}))
	stats, err := d.Close(ctx)
	require.NoError(t, err)

	assert.Len(t, sink.rows["dry_1_1"], 5)
	assert.Len(t, sink.rows["dry_2_1"], 4)
	assert.Positive(t, stats.Splits)

	var chunks []string
	for _, r := range sink.rows["dry_1_1"] {
		chunks = append(chunks, r.String("code_chunk"))
	}
	assert.Equal(t, []string{"l1", "l2", "l3", "l4", "l5"}, chunks, "order survives splitting")
}

func TestDetector_SingleRowFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	sink.poison = map[string]bool{"bad": true}
	d := newTestDetector(t, sink)

	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Content: "good\nbad"}))
	_, err := d.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dry_1_1")
}

func TestDetector_WithPusher(t *testing.T) {
	ctx := context.Background()
	wh := rmtest.SetupTestWarehouse(t)
	opts := Options{
		Configs: []ChunkConfig{{Size: 1, MinLineLen: 3}},
		Prefix:  "dry",
		Logger:  quietLogger,
	}
	require.NoError(t, Prepare(ctx, wh, opts))

	d, err := NewDetector(ingestion.NewPusher(wh, ingestion.PusherOptions{Logger: quietLogger}), opts)
	require.NoError(t, err)
	require.NoError(t, d.Add(ctx, Record{RepoName: "a", Content: "abc\nab\nabc"}))
	_, err = d.Close(ctx)
	require.NoError(t, err)

	rows := wh.Rows("dry_1_3")
	require.Len(t, rows, 1)
	assert.Equal(t, "abc", rows[0]["code_chunk"])
	assert.Equal(t, int64(2), rows[0]["num_occurrences"])

	require.NoError(t, Prepare(ctx, wh, opts))
	assert.Empty(t, wh.Rows("dry_1_3"), "Prepare replaces existing output")
}
