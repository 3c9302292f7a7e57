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
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

// FileRecord is one file of one repository as read from a content source.
type FileRecord struct {
	RepoName    string
	Path        string
	ContentHash string
	Size        int64

	// Content is nil when the file is binary, oversized or undecodable.
	Content *string
}

// Hash returns ContentHash, computing the git blob hash of Content when the
// source did not supply one.
func (f FileRecord) Hash() string {
	if f.ContentHash != "" || f.Content == nil {
		return f.ContentHash
	}
	return BlobHash(*f.Content)
}

// BlobHash is the git blob SHA-1 of content.
func BlobHash(content string) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// SkipReason says why a file produced no derived records.
type SkipReason string

const (
	SkipAlreadySkipped SkipReason = "already-skipped"
	SkipAlreadyDone    SkipReason = "already-done"
	SkipEmptyContent   SkipReason = "empty-content"
	SkipExcluded       SkipReason = "extension-excluded"
	SkipNoResult       SkipReason = "oversized-or-unrecognized"
)

// SkipReasons lists every reason in decision order.
var SkipReasons = []SkipReason{
	SkipAlreadySkipped,
	SkipAlreadyDone,
	SkipEmptyContent,
	SkipExcluded,
	SkipNoResult,
}

// Pending reports whether a skip for this reason is recorded in the skip
// table so later runs do not look at the file again.
func (r SkipReason) Pending() bool {
	switch r {
	case SkipEmptyContent, SkipExcluded, SkipNoResult:
		return true
	case SkipAlreadySkipped, SkipAlreadyDone:
		return false
	default:
		panic(fmt.Sprintf("ingestion: unknown skip reason %q", string(r)))
	}
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	Skipped OutcomeKind = iota + 1
	Processed
)

func (k OutcomeKind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case Processed:
		return "processed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the single result of processing one FileRecord.
type Outcome struct {
	Kind OutcomeKind

	// Reason is set when Kind is Skipped.
	Reason SkipReason

	// Records is set when Kind is Processed.
	Records []DerivedRecord
}

func skipped(reason SkipReason) Outcome {
	return Outcome{Kind: Skipped, Reason: reason}
}

func processed(records ...DerivedRecord) Outcome {
	return Outcome{Kind: Processed, Records: records}
}

// DerivedRecord is a warehouse row computed from one file.
type DerivedRecord interface {
	// Table names the logical table the record belongs to.
	Table() TableKind
	Row() warehouse.Row
}

// TableKind identifies a derived table independent of its prefix.
type TableKind string

const (
	TableLOC      TableKind = "loc"
	TableStripped TableKind = "sc"
	TableComments TableKind = "comments"
)

// LOCRecord holds the line counts of one file.
type LOCRecord struct {
	RepoName string
	Path     string
	SHA      string
	Language string
	Blank    int64
	Comment  int64
	Code     int64
}

func (LOCRecord) Table() TableKind { return TableLOC }

func (r LOCRecord) Row() warehouse.Row {
	return warehouse.Row{
		"repo_name": r.RepoName,
		"path":      r.Path,
		"sha":       r.SHA,
		"language":  r.Language,
		"blank":     r.Blank,
		"comment":   r.Comment,
		"code":      r.Code,
	}
}

// StrippedRecord holds a file's content with comments removed. Content is
// nil when the line counter produced no stripped copy.
type StrippedRecord struct {
	RepoName string
	Path     string
	SHA      string
	Language string
	Content  *string
}

func (StrippedRecord) Table() TableKind { return TableStripped }

func (r StrippedRecord) Row() warehouse.Row {
	return warehouse.Row{
		"repo_name":                 r.RepoName,
		"path":                      r.Path,
		"sha":                       r.SHA,
		"language":                  r.Language,
		"content_comments_stripped": r.Content,
	}
}

// CommentRecord holds the comments extracted from a file, joined by newlines.
type CommentRecord struct {
	RepoName string
	Path     string
	SHA      string
	Language string
	Comments *string
}

func (CommentRecord) Table() TableKind { return TableComments }

func (r CommentRecord) Row() warehouse.Row {
	return warehouse.Row{
		"repo_name": r.RepoName,
		"path":      r.Path,
		"sha":       r.SHA,
		"language":  r.Language,
		"comments":  r.Comments,
	}
}

var (
	// LOCSchema is the schema of the line count tables.
	LOCSchema = warehouse.Schema{
		{Name: "repo_name", Type: warehouse.String},
		{Name: "path", Type: warehouse.String},
		{Name: "sha", Type: warehouse.String},
		{Name: "language", Type: warehouse.String},
		{Name: "blank", Type: warehouse.Integer},
		{Name: "comment", Type: warehouse.Integer},
		{Name: "code", Type: warehouse.Integer},
	}

	// StrippedSchema is the schema of the comment-stripped content tables.
	StrippedSchema = warehouse.Schema{
		{Name: "repo_name", Type: warehouse.String},
		{Name: "path", Type: warehouse.String},
		{Name: "sha", Type: warehouse.String},
		{Name: "language", Type: warehouse.String},
		{Name: "content_comments_stripped", Type: warehouse.String},
	}

	// CommentsSchema is the schema of the extracted comment tables.
	CommentsSchema = warehouse.Schema{
		{Name: "repo_name", Type: warehouse.String},
		{Name: "path", Type: warehouse.String},
		{Name: "sha", Type: warehouse.String},
		{Name: "language", Type: warehouse.String},
		{Name: "comments", Type: warehouse.String},
	}

	// SkipSchema is the schema of the skip tables.
	SkipSchema = warehouse.Schema{
		{Name: "sha", Type: warehouse.String},
	}
)

// Schema returns the schema for k.
func (k TableKind) Schema() warehouse.Schema {
	switch k {
	case TableLOC:
		return LOCSchema
	case TableStripped:
		return StrippedSchema
	case TableComments:
		return CommentsSchema
	default:
		panic(fmt.Sprintf("ingestion: unknown table kind %q", string(k)))
	}
}

// GroupColumns are the content columns kept by the grouping pass. The final
// tables are keyed by sha alone; provenance stays in the ungrouped tables.
func (k TableKind) GroupColumns() []string {
	switch k {
	case TableLOC:
		return []string{"sha", "language", "blank", "comment", "code"}
	case TableStripped:
		return []string{"sha", "language", "content_comments_stripped"}
	case TableComments:
		return []string{"sha", "language", "comments"}
	default:
		panic(fmt.Sprintf("ingestion: unknown table kind %q", string(k)))
	}
}

// Tables names the tables of one stage under a prefix.
type Tables struct {
	prefix string
}

// NewTables returns the table names under prefix.
func NewTables(prefix string) Tables {
	return Tables{prefix: prefix}
}

// Ungrouped is the append-only table for k.
func (t Tables) Ungrouped(k TableKind) string {
	return t.Grouped(k) + "_ungrouped"
}

// Grouped is the deduplicated table for k.
func (t Tables) Grouped(k TableKind) string {
	if t.prefix == "" {
		return string(k)
	}
	return t.prefix + "_" + string(k)
}

// Skip is the table of hashes that produced no result.
func (t Tables) Skip(stage string) string {
	name := "skip"
	if stage != "" {
		name = stage + "_skip"
	}
	if t.prefix == "" {
		return name
	}
	return t.prefix + "_" + name
}
