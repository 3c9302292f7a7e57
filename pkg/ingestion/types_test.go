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
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestBlobHash(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{"hello world\n", "3b18e512dba79e4c8300dd08aeb37f8e728b8dad"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BlobHash(tt.content))
	}
}

func TestFileRecordHash(t *testing.T) {
	assert.Equal(t, "given", FileRecord{ContentHash: "given", Content: strPtr("x")}.Hash())
	assert.Equal(t, BlobHash("x"), FileRecord{Content: strPtr("x")}.Hash())
	assert.Empty(t, FileRecord{}.Hash())
}

func TestSkipReasonPending(t *testing.T) {
	want := map[SkipReason]bool{
		SkipAlreadySkipped: false,
		SkipAlreadyDone:    false,
		SkipEmptyContent:   true,
		SkipExcluded:       true,
		SkipNoResult:       true,
	}
	for _, r := range SkipReasons {
		assert.Equal(t, want[r], r.Pending(), r)
	}
	assert.Panics(t, func() { SkipReason("bogus").Pending() })
}

func TestTables(t *testing.T) {
	tb := NewTables("bio")
	assert.Equal(t, "bio_loc_ungrouped", tb.Ungrouped(TableLOC))
	assert.Equal(t, "bio_sc", tb.Grouped(TableStripped))
	assert.Equal(t, "bio_skip", tb.Skip(""))
	assert.Equal(t, "bio_comments_skip", tb.Skip("comments"))

	bare := NewTables("")
	assert.Equal(t, "comments_ungrouped", bare.Ungrouped(TableComments))
	assert.Equal(t, "skip", bare.Skip(""))
}

func TestDerivedRecordRows(t *testing.T) {
	loc := LOCRecord{RepoName: "o/r", Path: "a.go", SHA: "s", Language: "Go", Blank: 1, Comment: 2, Code: 3}
	assert.Equal(t, TableLOC, loc.Table())
	for col := range loc.Row() {
		assert.True(t, LOCSchema.Has(col), col)
	}

	sc := StrippedRecord{SHA: "s"}
	assert.Nil(t, sc.Row()["content_comments_stripped"].(*string))
	for col := range sc.Row() {
		assert.True(t, StrippedSchema.Has(col), col)
	}

	cr := CommentRecord{SHA: "s", Comments: strPtr("// hi")}
	for col := range cr.Row() {
		assert.True(t, CommentsSchema.Has(col), col)
	}
	for _, k := range []TableKind{TableLOC, TableStripped, TableComments} {
		for _, c := range k.GroupColumns() {
			assert.True(t, k.Schema().Has(c), "%s.%s", k, c)
		}
	}
}
