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
// Package testing provides test helpers for repomine packages that read and
// write warehouse tables.
//
// # Quick Start
//
// Use SetupTestWarehouse for an in-memory warehouse that is closed when the
// test finishes:
//
//	func TestMyStage(t *testing.T) {
//	    wh := rmtest.SetupTestWarehouse(t)
//	    rmtest.SeedTable(t, wh, "contents", schema,
//	        warehouse.Row{"sha": "a1", "content": "package main\n"},
//	    )
//
//	    // Run the stage...
//
//	    res := rmtest.QueryTable(t, wh, "repomine_loc", "sha")
//	    require.Len(t, res.Rows, 1)
//	}
//
// SetupSQLiteWarehouse returns a file-backed sqlite warehouse in t.TempDir,
// for tests that should go through real SQL.
//
// # Importing
//
// The package name collides with the standard library, so import it under
// an alias:
//
//	import rmtest "github.com/kraklabs/repomine/internal/testing"
//
// Packages imported by this one (warehouse) cannot use it in their own tests.
package testing
