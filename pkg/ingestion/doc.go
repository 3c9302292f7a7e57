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
// Package ingestion runs the per-file analysis stages of repomine and keeps
// their warehouse tables consistent across interrupted runs.
//
// A stage reads file contents from a Source, hands each file to an
// Analyzer, and appends the derived rows to ungrouped tables. A grouping
// pass then materializes one deduplicated row per sha into the final tables.
//
// # Stages
//
//   - LOCStage: counts blank, comment and code lines with cloc and keeps the
//     comment-stripped content. Writes <prefix>_loc and <prefix>_sc.
//   - CommentsStage: extracts comments with tree-sitter. Writes
//     <prefix>_comments.
//
// # Quick Start
//
//	p, err := ingestion.NewPipeline(wh, ingestion.WarehouseSource{WH: wh, Table: "contents"},
//	    ingestion.ClocAnalyzer{Counter: ingestion.ClocCounter{}},
//	    ingestion.PipelineConfig{
//	        Stage:      ingestion.LOCStage,
//	        Prefix:     "repomine",
//	        FlushEvery: 10,
//	        Logger:     logger,
//	    })
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := p.Run(ctx)
//
// # Resuming
//
// Every flush writes the derived rows of a batch and then the hashes that
// produced nothing to the skip table. On start, the Tracker loads the hashes
// already present in the ungrouped tables and the skip table; files whose
// hash is in either set are not analyzed again. If the two derived tables of
// LOCStage disagree, both are reset, since a flush may have been cut between
// them.
//
// # Pushing
//
// Pusher appends rows in batches of at most MaxBatch. A batch the warehouse
// rejects is retried record by record; a single record that still fails has
// its oversized column nulled, and is dropped if that fails too. Transient
// connection failures are retried once after Backoff and are otherwise
// returned.
//
// # Sources
//
//   - WarehouseSource: rows of a contents table
//   - BucketSource: CSV exports in an S3-compatible bucket, via minio-go
package ingestion
