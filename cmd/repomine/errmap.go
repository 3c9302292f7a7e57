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
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kraklabs/repomine/internal/errors"
	"github.com/kraklabs/repomine/pkg/dry"
	"github.com/kraklabs/repomine/pkg/ghapi"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

// userError converts a library error into a UserError with an exit code.
// It returns a nil error for nil.
func userError(err error) error {
	if err == nil {
		return nil
	}
	var ue *errors.UserError
	if stderrors.As(err, &ue) {
		return ue
	}
	resume := "Re-run the same command; finished work is kept and skipped"
	var status *ghapi.StatusError

	switch {
	case stderrors.Is(err, context.Canceled):
		return errors.NewInterruptedError("Run interrupted", "Received a shutdown signal", resume, err)
	case stderrors.Is(err, ghapi.ErrRateLimited):
		return errors.NewNetworkError(
			"GitHub rate limit exhausted",
			"The quota stayed exhausted through every cooldown",
			"Wait for the quota to reset, lower github.quota_per_hour, or raise github.max_cooldowns",
			err,
		)
	case stderrors.Is(err, ghapi.ErrNotFound):
		return errors.NewNotFoundError("GitHub resource not found", err.Error(), "Check the repo list for renamed or deleted repositories")
	case stderrors.Is(err, ghapi.ErrMalformed):
		return errors.NewNetworkError("Unexpected GitHub response", err.Error(), "Check github.base_url", err)
	case stderrors.As(err, &status):
		return errors.NewNetworkError(
			fmt.Sprintf("GitHub refused the request (%d)", status.Status),
			err.Error(),
			"Check github.token and that the token can read the listed repositories",
			err,
		)
	case stderrors.Is(err, dry.ErrUnsorted):
		return errors.NewDataError(
			"Input is not grouped by repository",
			err.Error(),
			"Make sure the files table is read ordered by repo_name",
			err,
		)
	case stderrors.Is(err, dry.ErrInvalidChunkConfig):
		return errors.NewConfigError("Invalid chunk configuration", err.Error(), "Use a chunk size of at least 1 in dry.chunks", err)
	case stderrors.Is(err, warehouse.ErrNoTable):
		return errors.NewNotFoundError("Table not found", err.Error(), "Run the stage that writes this table first")
	case stderrors.Is(err, warehouse.ErrTransient):
		return errors.NewWarehouseError("Warehouse connection failed", err.Error(), resume, err)
	case stderrors.Is(err, warehouse.ErrClosed):
		return errors.NewWarehouseError("Warehouse closed during the run", err.Error(), resume, err)
	default:
		return errors.NewInternalError("Command failed", err.Error(), "", err)
	}
}
