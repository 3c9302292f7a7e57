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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepRecorder replaces real sleeps and remembers their durations.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func (s *sleepRecorder) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, x := range s.slept {
		if x == d {
			n++
		}
	}
	return n
}

// newTestClient returns a client against srv with a 1s pacer and recorded sleeps.
func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	pacer := NewPacer(3600, 0)
	pacer.sleep = rec.sleep
	c, err := New(pacer, Options{
		BaseURL:      srv.URL,
		Token:        "test-token",
		Cooldown:     10 * time.Minute,
		MaxCooldowns: 2,
		RetryBackoff: 5 * time.Second,
	})
	require.NoError(t, err)
	c.sleep = rec.sleep
	return c, rec
}

// pageServer serves pages[n-1] for ?page=n and "[]" past the end.
func pageServer(t *testing.T, hits *int32, pages ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		var page int
		_, _ = fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		if page >= 1 && page <= len(pages) {
			_, _ = io.WriteString(w, pages[page-1])
			return
		}
		_, _ = io.WriteString(w, "[]")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAddPage(t *testing.T) {
	assert.Equal(t, "https://x/repos/a/b/commits?page=1", addPage("https://x/repos/a/b/commits", 1))
	assert.Equal(t, "https://x/pulls?state=all&page=3", addPage("https://x/pulls?state=all", 3))
}

func TestPacer(t *testing.T) {
	p := NewPacer(5000, 50*time.Millisecond)
	assert.Equal(t, 770*time.Millisecond, p.Interval())

	rec := &sleepRecorder{}
	p.sleep = rec.sleep
	require.NoError(t, p.Wait(context.Background()))
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, 2, rec.count(770*time.Millisecond))

	assert.Zero(t, NewPacer(0, time.Second).Interval(), "non-positive quota disables pacing")
}

func TestPacer_Cancelled(t *testing.T) {
	p := NewPacer(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestGetPaged_Concatenates(t *testing.T) {
	var hits int32
	srv := pageServer(t, &hits, `[{"n":1},{"n":2}]`, `[{"n":3}]`)
	c, rec := newTestClient(t, srv)

	res, err := c.GetPaged(context.Background(), "repos/a/b/commits")
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.Nil(t, res.Single)
	assert.Equal(t, 2, res.Pages)
	assert.EqualValues(t, 3, hits, "two data pages plus the empty terminator")
	assert.Equal(t, 3, rec.count(time.Second), "one pacing wait per request")
}

func TestGetPaged_RepeatedPageTerminates(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = io.WriteString(w, `[{"sha":"abc"}]`)
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv)

	res, err := c.GetPaged(context.Background(), "repos/a/b/pulls?state=all")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits)
	assert.Len(t, res.Items, 1)
}

func TestGetPaged_SingleObject(t *testing.T) {
	var hits int32
	srv := pageServer(t, &hits, `{"full_name":"a/b","stargazers_count":7}`)
	c, _ := newTestClient(t, srv)

	repo, err := c.Repo(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "a/b", repo.FullName)
	assert.EqualValues(t, 7, repo.StargazersCount)
	assert.EqualValues(t, 1, hits)
}

func TestGetPaged_MalformedIsEmpty(t *testing.T) {
	var hits int32
	srv := pageServer(t, &hits, `<html>oops</html>`)
	c, _ := newTestClient(t, srv)

	res, err := c.GetPaged(context.Background(), "repos/a/b/commits")
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Nil(t, res.Single)
	assert.EqualValues(t, 1, hits, "malformed responses are not retried")
}

func TestGetPaged_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status 404", http.StatusNotFound, `{"message":"Not Found"}`},
		{"message only", http.StatusOK, `{"message":"Not Found","documentation_url":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			c, _ := newTestClient(t, srv)

			_, err := c.GetPaged(context.Background(), "repos/gone/away")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestGetPaged_QuotaCooldownRetriesSamePage(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		pages = append(pages, r.URL.Query().Get("page"))
		switch calls {
		case 1:
			_, _ = io.WriteString(w, `[{"n":1}]`)
		case 2:
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"message":"API rate limit exceeded for user ID 1."}`)
		case 3:
			_, _ = io.WriteString(w, `[{"n":2}]`)
		default:
			_, _ = io.WriteString(w, `[]`)
		}
	}))
	defer srv.Close()
	c, rec := newTestClient(t, srv)

	res, err := c.GetPaged(context.Background(), "repos/a/b/commits")
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, []string{"1", "2", "2", "3"}, pages)
	assert.Equal(t, 1, rec.count(10*time.Minute))
	assert.Equal(t, 4, rec.count(time.Second), "retries are paced too")
}

func TestGetPaged_QuotaBounded(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"forbidden"}`)
	}))
	defer srv.Close()
	c, rec := newTestClient(t, srv)

	_, err := c.GetPaged(context.Background(), "repos/a/b")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 3, hits, "initial attempt plus MaxCooldowns retries")
	assert.Equal(t, 2, rec.count(10*time.Minute))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFetch_TransportRetriedOnce(t *testing.T) {
	tests := []struct {
		name     string
		failures int32
		wantErr  bool
		wantHits int32
	}{
		{"recovers", 1, false, 3},
		{"gives up", 5, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				n := atomic.AddInt32(&hits, 1)
				if n <= tt.failures {
					return nil, errors.New("connection reset by peer")
				}
				body := `[]`
				if r.URL.Query().Get("page") == "1" {
					body = `[{"n":1}]`
				}
				return &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}, nil
			})
			rec := &sleepRecorder{}
			c, err := New(NewPacer(0, 0), Options{
				BaseURL:      "https://api.test",
				RetryBackoff: 3 * time.Second,
				HTTPClient:   &http.Client{Transport: transport},
			})
			require.NoError(t, err)
			c.sleep = rec.sleep

			_, err = c.GetPaged(context.Background(), "repos/a/b/commits")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
			assert.Equal(t, 1, rec.count(3*time.Second))
		})
	}
}

func TestHeadCommit_CachedAndMissing(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if strings.Contains(r.URL.Path, "/gone/") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"Not Found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"sha":"deadbeef"}`)
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv)
	ctx := context.Background()

	sha, err := c.HeadCommit(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sha)
	sha, err = c.HeadCommit(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sha)
	assert.EqualValues(t, 1, hits)

	sha, err = c.HeadCommit(ctx, "gone/repo")
	require.NoError(t, err)
	assert.Empty(t, sha)
}

func TestFetch_ClientErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{"blocked", http.StatusForbidden, `{"message":"Repository access blocked"}`, true},
		{"empty repository", http.StatusConflict, `{"message":"Git Repository is empty."}`, true},
		{"unprocessable", http.StatusUnprocessableEntity, `{"message":"No commit found for SHA: master"}`, true},
		{"legal", http.StatusUnavailableForLegalReasons, `{"message":"Repository access blocked"}`, true},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Bad credentials"}`, false},
		{"bad request", http.StatusBadRequest, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			c, rec := newTestClient(t, srv)
			ctx := context.Background()

			repo, err := c.Repo(ctx, "a/b")
			assert.Nil(t, repo)
			var serr *StatusError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.status, serr.Status)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrUnavailable))
			assert.NotErrorIs(t, err, ErrNotFound)

			key, err := c.License(ctx, "a/b")
			assert.Empty(t, key)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrUnavailable))
			require.Error(t, err)

			list, err := c.Pulls(ctx, "a/b", "all")
			assert.Nil(t, list)
			require.Error(t, err)

			assert.EqualValues(t, 3, hits)
			assert.Zero(t, rec.count(5*time.Second))
		})
	}
}

func TestHeadCommit_NoCommit(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"missing master", http.StatusUnprocessableEntity, `{"message":"No commit found for SHA: master"}`, nil},
		{"empty repository", http.StatusConflict, `{"message":"Git Repository is empty."}`, nil},
		{"blocked", http.StatusForbidden, `{"message":"Repository access blocked"}`, ErrUnavailable},
		{"legal", http.StatusUnavailableForLegalReasons, `{"message":"Repository access blocked"}`, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			c, _ := newTestClient(t, srv)

			sha, err := c.HeadCommit(context.Background(), "a/b")
			assert.Empty(t, sha)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch {
		case strings.HasSuffix(r.URL.Path, "/license"):
			_, _ = io.WriteString(w, `{"license":{"key":"mit"}}`)
		case strings.HasSuffix(r.URL.Path, "/languages"):
			_, _ = io.WriteString(w, `{"Go":1200,"Shell":40}`)
		case strings.HasSuffix(r.URL.Path, "/pulls") && page == "1":
			assert.Equal(t, "all", r.URL.Query().Get("state"))
			_, _ = io.WriteString(w, `[{"number":4,"state":"open","user":{"login":"octo"}}]`)
		case strings.Contains(r.URL.Path, "/contents/"):
			_, _ = io.WriteString(w, `{"path":"src/main.go","sha":"s1","size":12,"encoding":"base64","content":"cGFja2FnZSBt\nYWluCg=="}`)
		default:
			_, _ = io.WriteString(w, `[]`)
		}
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv)
	ctx := context.Background()

	key, err := c.License(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "mit", key)

	langs, err := c.Languages(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Go": 1200, "Shell": 40}, langs)

	pulls, err := c.Pulls(ctx, "a/b", "all")
	require.NoError(t, err)
	require.Len(t, pulls, 1)
	assert.Equal(t, "octo", pulls[0].User.Login)

	_, err = c.Pulls(ctx, "a/b", "merged")
	assert.Error(t, err)

	f, err := c.Contents(ctx, "a/b", "src/main.go")
	require.NoError(t, err)
	body, ok := f.Decoded()
	require.True(t, ok)
	assert.Equal(t, "package main\n", body)
}

func TestGetList_RejectsObject(t *testing.T) {
	var hits int32
	srv := pageServer(t, &hits, `{"a":1}`)
	c, _ := newTestClient(t, srv)

	_, err := GetList[Commit](context.Background(), c, "repos/a/b/commits")
	assert.ErrorIs(t, err, ErrMalformed)
}
