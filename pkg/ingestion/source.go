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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

// Source yields the FileRecords of a stage in repo_name order.
type Source interface {
	Each(ctx context.Context, fn func(FileRecord) error) error
}

// ContentsSchema is the schema of a file contents table.
var ContentsSchema = warehouse.Schema{
	{Name: "repo_name", Type: warehouse.String},
	{Name: "path", Type: warehouse.String},
	{Name: "sha", Type: warehouse.String},
	{Name: "size", Type: warehouse.Integer},
	{Name: "content", Type: warehouse.String},
}

// WarehouseSource reads a contents table.
type WarehouseSource struct {
	WH    warehouse.Warehouse
	Table string
}

// Each streams the table ordered by repo_name and path.
func (s WarehouseSource) Each(ctx context.Context, fn func(FileRecord) error) error {
	sel := warehouse.Select{
		Table:   s.Table,
		Columns: ContentsSchema.Names(),
		OrderBy: []string{"repo_name", "path"},
	}
	return s.WH.Scan(ctx, sel, func(r warehouse.Row) error {
		rec := FileRecord{
			RepoName:    r.String("repo_name"),
			Path:        r.String("path"),
			ContentHash: r.String("sha"),
		}
		if n, ok := r["size"].(int64); ok {
			rec.Size = n
		}
		if c, ok := r["content"].(string); ok {
			rec.Content = &c
		}
		return fn(rec)
	})
}

// BucketConfig locates CSV exports of a contents table in object storage.
type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool

	// Match filters object keys. Nil accepts every key ending in ".csv".
	Match *regexp.Regexp
}

// BucketSource reads content CSV objects from an S3-compatible bucket.
type BucketSource struct {
	client *minio.Client
	bucket string
	prefix string
	match  *regexp.Regexp
	logger *slog.Logger
}

// NewBucketSource connects to the bucket described by cfg.
func NewBucketSource(cfg BucketConfig, logger *slog.Logger) (*BucketSource, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("bucket source: endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket source: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	match := cfg.Match
	if match == nil {
		match = regexp.MustCompile(`\.csv$`)
	}
	return &BucketSource{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		match:  match,
		logger: logger,
	}, nil
}

// Keys lists the matching object keys in lexical order.
func (s *BucketSource) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.bucket, s.prefix, obj.Err)
		}
		if obj.Key != "" && s.match.MatchString(obj.Key) {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Each streams every record of every matching object, one object at a time.
func (s *BucketSource) Each(ctx context.Context, fn func(FileRecord) error) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("source.bucket.objects", "bucket", s.bucket, "prefix", s.prefix, "objects", len(keys))
	for _, key := range keys {
		if err := s.readObject(ctx, key, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *BucketSource) readObject(ctx context.Context, key string, fn func(FileRecord) error) error {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()
	s.logger.Info("source.bucket.object", "key", key)
	if err := ReadContentsCSV(obj, fn); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

// ReadContentsCSV parses a contents export with a header row. Recognized
// columns are repo_name, path, sha, size and content ("contents" is accepted
// as an alias). NUL bytes are dropped and an empty content field is read as
// missing content.
func ReadContentsCSV(r io.Reader, fn func(FileRecord) error) error {
	cr := csv.NewReader(nulStripper{r})
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	if _, ok := col["content"]; !ok {
		if i, ok := col["contents"]; ok {
			col["content"] = i
		}
	}
	for _, required := range []string{"repo_name", "path", "sha"} {
		if _, ok := col[required]; !ok {
			return fmt.Errorf("header has no %q column", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fr := FileRecord{
			RepoName:    field(rec, "repo_name"),
			Path:        field(rec, "path"),
			ContentHash: field(rec, "sha"),
		}
		if n, err := strconv.ParseInt(field(rec, "size"), 10, 64); err == nil {
			fr.Size = n
		}
		if c := field(rec, "content"); c != "" {
			fr.Content = &c
		}
		if err := fn(fr); err != nil {
			return err
		}
	}
}

type nulStripper struct {
	r io.Reader
}

func (n nulStripper) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		k, err := n.r.Read(p)
		w := 0
		for _, b := range p[:k] {
			if b != 0 {
				p[w] = b
				w++
			}
		}
		if w > 0 || err != nil {
			return w, err
		}
	}
}
