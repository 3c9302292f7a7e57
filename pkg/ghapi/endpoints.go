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

package ghapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Repo is the subset of /repos/{owner}/{name} that repomine records.
type Repo struct {
	FullName         string `json:"full_name"`
	URL              string `json:"url"`
	HTMLURL          string `json:"html_url"`
	Description      string `json:"description"`
	Fork             bool   `json:"fork"`
	StargazersCount  int64  `json:"stargazers_count"`
	WatchersCount    int64  `json:"watchers_count"`
	ForksCount       int64  `json:"forks_count"`
	OpenIssuesCount  int64  `json:"open_issues_count"`
	SubscribersCount int64  `json:"subscribers_count"`
	DefaultBranch    string `json:"default_branch"`
}

// Account is a user or organization reference.
type Account struct {
	Login   string `json:"login"`
	ID      int64  `json:"id"`
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
	Type    string `json:"type"`
}

// Signature is the git-level author or committer of a commit.
type Signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

// Commit is one element of /repos/{r}/commits.
type Commit struct {
	SHA         string   `json:"sha"`
	URL         string   `json:"url"`
	HTMLURL     string   `json:"html_url"`
	CommentsURL string   `json:"comments_url"`
	Author      *Account `json:"author"`
	Committer   *Account `json:"committer"`
	Commit      struct {
		Message      string    `json:"message"`
		CommentCount int64     `json:"comment_count"`
		Author       Signature `json:"author"`
		Committer    Signature `json:"committer"`
	} `json:"commit"`
}

// Pull is one element of /repos/{r}/pulls.
type Pull struct {
	ID      int64    `json:"id"`
	Number  int64    `json:"number"`
	State   string   `json:"state"`
	URL     string   `json:"url"`
	HTMLURL string   `json:"html_url"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	User    *Account `json:"user"`
}

// TreeEntry is one element of a recursive git tree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// FileContent is the /repos/{r}/contents/{path} response for a file.
type FileContent struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	HTMLURL     string `json:"html_url"`
	GitURL      string `json:"git_url"`
	DownloadURL string `json:"download_url"`
	Encoding    string `json:"encoding"`
	Content     string `json:"content"`
}

// Decoded returns the file body, or ok=false if it was not sent inline.
func (f *FileContent) Decoded() (string, bool) {
	if f.Encoding != "base64" {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(f.Content, "\n", ""))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// PullStates are the accepted values for the pulls state filter.
var PullStates = []string{"all", "open", "closed"}

// Repo fetches repository metadata.
func (c *Client) Repo(ctx context.Context, name string) (*Repo, error) {
	var r Repo
	if err := c.GetObject(ctx, "repos/"+name, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Commits lists every commit on the default branch.
func (c *Client) Commits(ctx context.Context, name string) ([]Commit, error) {
	return GetList[Commit](ctx, c, "repos/"+name+"/commits?per_page=100")
}

// Pulls lists pull requests in the given state.
func (c *Client) Pulls(ctx context.Context, name, state string) ([]Pull, error) {
	valid := false
	for _, s := range PullStates {
		if s == state {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("pulls: invalid state %q", state)
	}
	return GetList[Pull](ctx, c, "repos/"+name+"/pulls?per_page=100&state="+state)
}

// License returns the SPDX-style key of the repository license.
func (c *Client) License(ctx context.Context, name string) (string, error) {
	var lic struct {
		License struct {
			Key string `json:"key"`
		} `json:"license"`
	}
	if err := c.GetObject(ctx, "repos/"+name+"/license", &lic); err != nil {
		return "", err
	}
	return lic.License.Key, nil
}

// Languages returns bytes of code per language.
func (c *Client) Languages(ctx context.Context, name string) (map[string]int64, error) {
	langs := make(map[string]int64)
	res, err := c.GetPaged(ctx, "repos/"+name+"/languages")
	if err != nil {
		return nil, err
	}
	if res.Single == nil {
		// An empty repository answers with an empty object, which is still an object.
		return langs, nil
	}
	if err := json.Unmarshal(res.Single, &langs); err != nil {
		return nil, fmt.Errorf("%w: languages %s: %v", ErrMalformed, name, err)
	}
	return langs, nil
}

// Tree lists every blob and tree reachable from ref.
func (c *Client) Tree(ctx context.Context, name, ref string) ([]TreeEntry, error) {
	var tree struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	if err := c.GetObject(ctx, "repos/"+name+"/git/trees/"+url.PathEscape(ref)+"?recursive=1", &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		c.logger.Warn("ghapi.tree.truncated", "repo", name, "ref", ref, "entries", len(tree.Tree))
	}
	return tree.Tree, nil
}

// Contents fetches one file with its inline content.
func (c *Client) Contents(ctx context.Context, name, path string) (*FileContent, error) {
	var f FileContent
	if err := c.GetObject(ctx, "repos/"+name+"/contents/"+escapePath(path), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// HeadCommit returns the SHA at the tip of master, or "" if there is none.
// Results are cached for the life of the client.
func (c *Client) HeadCommit(ctx context.Context, name string) (string, error) {
	if sha, ok := c.heads.Get(name); ok {
		return sha, nil
	}
	var head struct {
		SHA string `json:"sha"`
	}
	err := c.GetObject(ctx, "repos/"+name+"/commits/master", &head)
	if errors.Is(err, ErrNotFound) || noCommit(err) {
		err = nil
	}
	if err != nil {
		return "", err
	}
	c.heads.Add(name, head.SHA)
	return head.SHA, nil
}

// noCommit reports the 409 of an empty repository and the 422 of a missing
// master branch.
func noCommit(err error) bool {
	var serr *StatusError
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Status == http.StatusConflict || serr.Status == http.StatusUnprocessableEntity
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
