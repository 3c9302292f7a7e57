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
package collect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/kraklabs/repomine/pkg/ghapi"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

func stringField(name string) warehouse.Field {
	return warehouse.Field{Name: name, Type: warehouse.String}
}

func intField(name string) warehouse.Field {
	return warehouse.Field{Name: name, Type: warehouse.Integer}
}

// provenance closes every collector schema.
var provenance = []warehouse.Field{stringField("curr_commit_master"), stringField("time_accessed")}

func schema(fields ...warehouse.Field) warehouse.Schema {
	s := append(warehouse.Schema{stringField("repo_name")}, fields...)
	return append(s, provenance...)
}

// Collectors returns every collector keyed by name.
func Collectors() map[string]Collector {
	out := make(map[string]Collector)
	for _, c := range []Collector{
		Metrics{}, Commits{}, Pulls{State: "all"}, Licenses{}, Languages{}, Heads{}, Files{},
	} {
		out[c.Name()] = c
	}
	return out
}

// Names returns the collector names in order.
func Names() []string {
	var names []string
	for n := range Collectors() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Metrics records repository counters from /repos/{r}.
type Metrics struct{}

func (Metrics) Name() string           { return "metrics" }
func (Metrics) OversizedField() string { return "description" }

func (Metrics) Schema() warehouse.Schema {
	return schema(
		stringField("api_url"),
		stringField("html_url"),
		stringField("description"),
		warehouse.Field{Name: "is_fork", Type: warehouse.Boolean},
		intField("stargazers_count"),
		intField("watchers_count"),
		intField("forks_count"),
		intField("open_issues_count"),
		intField("subscribers_count"),
		stringField("default_branch"),
	)
}

func (Metrics) Collect(ctx context.Context, api API, v Visit) ([]warehouse.Row, error) {
	r, err := api.Repo(ctx, v.Repo)
	if err != nil {
		return nil, err
	}
	return []warehouse.Row{v.stamp(warehouse.Row{
		"api_url":           r.URL,
		"html_url":          r.HTMLURL,
		"description":       r.Description,
		"is_fork":           r.Fork,
		"stargazers_count":  r.StargazersCount,
		"watchers_count":    r.WatchersCount,
		"forks_count":       r.ForksCount,
		"open_issues_count": r.OpenIssuesCount,
		"subscribers_count": r.SubscribersCount,
		"default_branch":    r.DefaultBranch,
	})}, nil
}

// Commits records one row per commit on the default branch.
type Commits struct{}

func (Commits) Name() string           { return "commits" }
func (Commits) OversizedField() string { return "commit_message" }

func (Commits) Schema() warehouse.Schema {
	fields := []warehouse.Field{
		stringField("commit_sha"),
		stringField("commit_api_url"),
		stringField("commit_html_url"),
		stringField("commit_comments_url"),
		stringField("commit_message"),
		intField("commit_comment_count"),
	}
	for _, who := range []string{"author", "committer"} {
		fields = append(fields,
			stringField(who+"_login"),
			stringField(who+"_id"),
			stringField(who+"_name"),
			stringField(who+"_email"),
			stringField(who+"_commit_date"),
			stringField(who+"_api_url"),
			stringField(who+"_html_url"),
			stringField(who+"_type"),
		)
	}
	return schema(fields...)
}

func (Commits) Collect(ctx context.Context, api API, v Visit) ([]warehouse.Row, error) {
	commits, err := api.Commits(ctx, v.Repo)
	if err != nil {
		return nil, err
	}
	rows := make([]warehouse.Row, 0, len(commits))
	for _, c := range commits {
		row := warehouse.Row{
			"commit_sha":           c.SHA,
			"commit_api_url":       c.URL,
			"commit_html_url":      c.HTMLURL,
			"commit_comments_url":  c.CommentsURL,
			"commit_message":       c.Commit.Message,
			"commit_comment_count": c.Commit.CommentCount,
		}
		person(row, "author", c.Author, c.Commit.Author)
		person(row, "committer", c.Committer, c.Commit.Committer)
		rows = append(rows, v.stamp(row))
	}
	return rows, nil
}

// person fills the columns of one side of a commit. The account is nil when
// the git identity is not linked to a GitHub user.
func person(row warehouse.Row, who string, acct *ghapi.Account, sig ghapi.Signature) {
	row[who+"_name"] = sig.Name
	row[who+"_email"] = sig.Email
	row[who+"_commit_date"] = sig.Date
	if acct == nil {
		return
	}
	row[who+"_login"] = acct.Login
	row[who+"_id"] = strconv.FormatInt(acct.ID, 10)
	row[who+"_api_url"] = acct.URL
	row[who+"_html_url"] = acct.HTMLURL
	row[who+"_type"] = acct.Type
}

// Pulls records one row per pull request in State.
type Pulls struct {
	State string
}

func (Pulls) Name() string           { return "pulls" }
func (Pulls) OversizedField() string { return "body" }

func (Pulls) Schema() warehouse.Schema {
	return schema(
		stringField("pr_id"),
		intField("number"),
		stringField("state"),
		stringField("api_url"),
		stringField("html_url"),
		stringField("title"),
		stringField("body"),
		stringField("user_login"),
		stringField("user_id"),
	)
}

func (p Pulls) Collect(ctx context.Context, api API, v Visit) ([]warehouse.Row, error) {
	state := p.State
	if state == "" {
		state = "all"
	}
	pulls, err := api.Pulls(ctx, v.Repo, state)
	if errors.Is(err, ghapi.ErrNotFound) {
		// Repositories with pull requests disabled answer 404.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows := make([]warehouse.Row, 0, len(pulls))
	for _, pr := range pulls {
		row := warehouse.Row{
			"pr_id":    strconv.FormatInt(pr.ID, 10),
			"number":   pr.Number,
			"state":    pr.State,
			"api_url":  pr.URL,
			"html_url": pr.HTMLURL,
			"title":    pr.Title,
			"body":     pr.Body,
		}
		if pr.User != nil {
			row["user_login"] = pr.User.Login
			row["user_id"] = strconv.FormatInt(pr.User.ID, 10)
		}
		rows = append(rows, v.stamp(row))
	}
	return rows, nil
}

// Licenses records the detected license key. A repository without a
// detected license gets a row with a NULL license.
type Licenses struct{}

func (Licenses) Name() string           { return "licenses" }
func (Licenses) OversizedField() string { return "" }

func (Licenses) Schema() warehouse.Schema {
	return schema(stringField("license"))
}

func (Licenses) Collect(ctx context.Context, api API, v Visit) ([]warehouse.Row, error) {
	key, err := api.License(ctx, v.Repo)
	row := warehouse.Row{}
	switch {
	case errors.Is(err, ghapi.ErrNotFound):
		v.Logger.Debug("collect.license.none")
	case err != nil:
		return nil, err
	default:
		row["license"] = key
	}
	return []warehouse.Row{v.stamp(row)}, nil
}

// Languages records bytes of code per language.
type Languages struct{}

func (Languages) Name() string           { return "languages" }
func (Languages) OversizedField() string { return "" }

func (Languages) Schema() warehouse.Schema {
	return schema(stringField("language"), intField("bytes"))
}

func (Languages) Collect(ctx context.Context, api API, v Visit) ([]warehouse.Row, error) {
	langs, err := api.Languages(ctx, v.Repo)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(langs))
	for l := range langs {
		names = append(names, l)
	}
	sort.Strings(names)
	rows := make([]warehouse.Row, 0, len(names))
	for _, l := range names {
		rows = append(rows, v.stamp(warehouse.Row{"language": l, "bytes": langs[l]}))
	}
	return rows, nil
}

// Heads records the commit at the tip of master.
type Heads struct{}

func (Heads) Name() string           { return "heads" }
func (Heads) OversizedField() string { return "" }

func (Heads) Schema() warehouse.Schema { return schema() }

func (Heads) Collect(_ context.Context, _ API, v Visit) ([]warehouse.Row, error) {
	if v.Head == "" {
		return nil, fmt.Errorf("%w: no master branch", ghapi.ErrNotFound)
	}
	return []warehouse.Row{v.stamp(warehouse.Row{})}, nil
}

// Files records every blob of the repository tree with its content. The
// output table is a contents table that the loc and comments stages read.
type Files struct {
	// MaxSize skips downloading blobs larger than this many bytes; their
	// content is NULL. Zero means no limit.
	MaxSize int64
}

func (Files) Name() string           { return "files" }
func (Files) OversizedField() string { return "content" }

func (Files) Schema() warehouse.Schema {
	return schema(stringField("path"), stringField("sha"), intField("size"), stringField("content"))
}

func (f Files) Collect(ctx context.Context, api API, v Visit) ([]warehouse.Row, error) {
	ref := v.Head
	if ref == "" {
		ref = "HEAD"
	}
	tree, err := api.Tree(ctx, v.Repo, ref)
	if err != nil {
		return nil, err
	}
	var rows []warehouse.Row
	for _, e := range tree {
		if e.Type != "blob" {
			continue
		}
		row := warehouse.Row{"path": e.Path, "sha": e.SHA, "size": e.Size}
		if f.MaxSize <= 0 || e.Size <= f.MaxSize {
			content, err := fileContent(ctx, api, v, e.Path)
			if err != nil {
				return nil, err
			}
			if content != nil {
				row["content"] = *content
			}
		}
		rows = append(rows, v.stamp(row))
	}
	return rows, nil
}

// fileContent returns nil for files that vanished, were refused (blobs over
// 1MB answer 403) or were not sent inline.
func fileContent(ctx context.Context, api API, v Visit, path string) (*string, error) {
	fc, err := api.Contents(ctx, v.Repo, path)
	if errors.Is(err, ghapi.ErrNotFound) || errors.Is(err, ghapi.ErrMalformed) || errors.Is(err, ghapi.ErrUnavailable) {
		v.Logger.Warn("collect.file.skipped", "path", path, "err", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s, ok := fc.Decoded()
	if !ok {
		v.Logger.Debug("collect.file.not_inline", "path", path, "encoding", fc.Encoding)
		return nil, nil
	}
	return &s, nil
}
