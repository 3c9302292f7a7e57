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
	"time"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

// GroupSpec describes one grouping pass.
type GroupSpec struct {
	Source string
	Dest   string

	// Columns to keep and order by.
	Columns []string

	// UniqueKey, when set, drops every key that has more than one distinct
	// row, such as one sha reported under two languages.
	UniqueKey string
}

// Group materializes the distinct rows of spec.Source into spec.Dest,
// replacing Dest. Rows are ordered by every column, so running the pass twice
// over the same source yields identical tables.
func Group(ctx context.Context, wh warehouse.Warehouse, spec GroupSpec) error {
	if spec.Source == "" || spec.Dest == "" {
		return errors.New("group: source and destination are required")
	}
	if spec.Source == spec.Dest {
		return fmt.Errorf("group: source and destination are both %s", spec.Source)
	}
	if len(spec.Columns) == 0 {
		return fmt.Errorf("group %s: no columns", spec.Source)
	}

	start := time.Now()
	sel := warehouse.Select{
		Table:    spec.Source,
		Columns:  spec.Columns,
		Distinct: true,
		UniqueBy: spec.UniqueKey,
		OrderBy:  spec.Columns,
	}
	if err := wh.QueryToTable(ctx, sel, spec.Dest); err != nil {
		return fmt.Errorf("group %s into %s: %w", spec.Source, spec.Dest, err)
	}
	observeGroup(time.Since(start))
	return nil
}
