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

func shaRows(hashes ...string) []warehouse.Row {
	rows := make([]warehouse.Row, len(hashes))
	for i, h := range hashes {
		rows[i] = warehouse.Row{"sha": h}
	}
	return rows
}

func seedTable(t *testing.T, wh *warehouse.MemoryWarehouse, name string, schema warehouse.Schema, rows []warehouse.Row) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, warehouse.EnsureTable(ctx, wh, name, schema))
	require.NoError(t, wh.WriteRows(ctx, name, rows))
}

var testTracker = TrackerConfig{Primary: "loc_ungrouped", Companion: "sc_ungrouped", Skip: "skip"}

func TestTracker_MissingTables(t *testing.T) {
	snap, err := NewTracker(warehouse.NewMemory(), testTracker, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Done())
	assert.Zero(t, snap.Skipped())
}

func TestTracker_Consistent(t *testing.T) {
	wh := warehouse.NewMemory()
	seedTable(t, wh, "loc_ungrouped", LOCSchema, shaRows("a", "b", "a"))
	seedTable(t, wh, "sc_ungrouped", StrippedSchema, shaRows("a", "a", "b"))
	seedTable(t, wh, "skip", SkipSchema, shaRows("x", "x"))

	snap, err := NewTracker(wh, testTracker, nil).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.IsDone("a"))
	assert.True(t, snap.IsDone("b"))
	assert.False(t, snap.IsDone("x"))
	assert.True(t, snap.IsSkipped("x"))
	assert.Equal(t, 2, snap.Done())
	assert.Equal(t, 1, snap.Skipped())
	assert.Len(t, wh.Rows("loc_ungrouped"), 3)
}

func TestTracker_InconsistentResets(t *testing.T) {
	tests := []struct {
		name string
		loc  []string
		sc   []string
	}{
		{"missing companion row", []string{"a", "b"}, []string{"a"}},
		{"same set different counts", []string{"a", "a", "b"}, []string{"a", "b", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			wh := warehouse.NewMemory()
			seedTable(t, wh, "loc_ungrouped", LOCSchema, shaRows(tt.loc...))
			seedTable(t, wh, "sc_ungrouped", StrippedSchema, shaRows(tt.sc...))
			seedTable(t, wh, "skip", SkipSchema, shaRows("x"))

			snap, err := NewTracker(wh, testTracker, nil).Load(ctx)
			require.NoError(t, err)
			assert.Zero(t, snap.Done())
			assert.True(t, snap.IsSkipped("x"), "skip set survives a reset")

			for _, table := range []string{"loc_ungrouped", "sc_ungrouped"} {
				ok, err := wh.TableExists(ctx, table)
				require.NoError(t, err)
				assert.False(t, ok, table)
			}
		})
	}
}

func TestTracker_NoCompanion(t *testing.T) {
	wh := warehouse.NewMemory()
	seedTable(t, wh, "comments_ungrouped", CommentsSchema, shaRows("a"))

	snap, err := NewTracker(wh, TrackerConfig{Primary: "comments_ungrouped", Skip: "comments_skip"}, nil).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.IsDone("a"))
}

func TestSameMultiset(t *testing.T) {
	assert.True(t, sameMultiset(nil, nil))
	assert.True(t, sameMultiset([]string{"a", "b", "a"}, []string{"b", "a", "a"}))
	assert.False(t, sameMultiset([]string{"a"}, []string{"b"}))
	assert.False(t, sameMultiset([]string{"a", "a"}, []string{"a"}))
}
