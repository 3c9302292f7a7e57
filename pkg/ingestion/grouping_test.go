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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

func TestGroup_Idempotent(t *testing.T) {
	ctx := context.Background()
	wh := warehouse.NewMemory()
	seedTable(t, wh, "loc_ungrouped", LOCSchema, []warehouse.Row{
		{"repo_name": "o/b", "path": "x.go", "sha": "b", "language": "Go", "blank": 1, "comment": 0, "code": 9},
		{"repo_name": "o/a", "path": "x.go", "sha": "a", "language": "Go", "blank": 0, "comment": 1, "code": 2},
		{"repo_name": "o/a", "path": "y.go", "sha": "a", "language": "Go", "blank": 0, "comment": 1, "code": 2},
		{"repo_name": "o/c", "path": "z.h", "sha": "c", "language": "C", "blank": 0, "comment": 0, "code": 1},
		{"repo_name": "o/c", "path": "z.h", "sha": "c", "language": "C++", "blank": 0, "comment": 0, "code": 1},
	})
	spec := GroupSpec{Source: "loc_ungrouped", Dest: "loc", Columns: TableLOC.GroupColumns(), UniqueKey: "sha"}

	require.NoError(t, Group(ctx, wh, spec))
	first := wh.Rows("loc")
	require.NoError(t, Group(ctx, wh, spec))
	second := wh.Rows("loc")

	assert.Equal(t, first, second)
	require.Len(t, first, 2, "duplicates collapse and ambiguous keys are dropped")
	assert.Equal(t, "a", first[0]["sha"])
	assert.Equal(t, "b", first[1]["sha"])
}

func TestGroup_WithoutUniqueKey(t *testing.T) {
	ctx := context.Background()
	wh := warehouse.NewMemory()
	seedTable(t, wh, "src", SkipSchema, shaRows("b", "a", "b"))

	require.NoError(t, Group(ctx, wh, GroupSpec{Source: "src", Dest: "dst", Columns: []string{"sha"}}))
	res, err := wh.Query(ctx, warehouse.Select{Table: "dst"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Strings("sha"))
}

func TestGroup_Errors(t *testing.T) {
	ctx := context.Background()
	wh := warehouse.NewMemory()
	tests := []struct {
		name string
		spec GroupSpec
	}{
		{"no source", GroupSpec{Dest: "d", Columns: []string{"sha"}}},
		{"same table", GroupSpec{Source: "s", Dest: "s", Columns: []string{"sha"}}},
		{"no columns", GroupSpec{Source: "s", Dest: "d"}},
		{"missing source table", GroupSpec{Source: "s", Dest: "d", Columns: []string{"sha"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Group(ctx, wh, tt.spec))
		})
	}
}
