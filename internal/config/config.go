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

// Package config loads the repomine configuration.
//
// Values come from three layers, later layers winning:
//
//  1. DefaultConfig
//  2. the YAML file (repomine.yaml by default)
//  3. environment variables, including those from a .env file
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "repomine.yaml"

// Config is the full repomine configuration.
type Config struct {
	Warehouse WarehouseConfig `yaml:"warehouse"`
	GitHub    GitHubConfig    `yaml:"github"`
	Storage   StorageConfig   `yaml:"storage"`
	Sheet     SheetConfig     `yaml:"sheet"`
	Tables    TablesConfig    `yaml:"tables"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Dry       DryConfig       `yaml:"dry"`
	Log       LogConfig       `yaml:"log"`
}

// WarehouseConfig selects the table store.
type WarehouseConfig struct {
	Engine string `yaml:"engine"` // sqlite, postgres or mem
	DSN    string `yaml:"dsn"`
}

// GitHubConfig configures the REST client and its pacing.
type GitHubConfig struct {
	Token        string        `yaml:"token"`
	BaseURL      string        `yaml:"base_url"`
	QuotaPerHour int           `yaml:"quota_per_hour"`
	Margin       time.Duration `yaml:"margin"`
	Cooldown     time.Duration `yaml:"cooldown"`
	MaxCooldowns int           `yaml:"max_cooldowns"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StorageConfig points at the bucket holding exported content CSVs.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// SheetConfig locates the repository list, a CSV export of the tracking sheet.
type SheetConfig struct {
	// Source is a local path or an http(s) URL.
	Source string `yaml:"source"`
}

// TablesConfig names the tables stages read and write.
type TablesConfig struct {
	// Prefix is prepended to every derived table name.
	Prefix string `yaml:"prefix"`
	// Contents is the table of file contents the loc and comments stages read.
	Contents string `yaml:"contents"`
}

// PipelineConfig tunes the content stages.
type PipelineConfig struct {
	FlushEvery      int           `yaml:"flush_every"`
	MaxBatch        int           `yaml:"max_batch"`
	Workers         int           `yaml:"workers"`
	PushBackoff     time.Duration `yaml:"push_backoff"`
	ScratchDir      string        `yaml:"scratch_dir"`
	ClocPath        string        `yaml:"cloc_path"`
	MaxCommentBytes int           `yaml:"max_comment_bytes"`
}

// ChunkConfig is one duplicate-chunk configuration.
type ChunkConfig struct {
	Size       int `yaml:"size"`
	MinLineLen int `yaml:"min_line_len"`
}

// DryConfig configures the duplicate-chunk stage.
type DryConfig struct {
	Chunks        []ChunkConfig `yaml:"chunks"`
	SkipLanguages []string      `yaml:"skip_languages"`
	Workers       int           `yaml:"workers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// File, when set, receives a JSON copy of every log record.
	File string `yaml:"file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Warehouse: WarehouseConfig{Engine: "sqlite", DSN: "repomine.db"},
		GitHub: GitHubConfig{
			BaseURL:      "https://api.github.com",
			QuotaPerHour: 5000,
			Margin:       50 * time.Millisecond,
			Cooldown:     10 * time.Minute,
			MaxCooldowns: 6,
			Timeout:      30 * time.Second,
		},
		Tables: TablesConfig{Prefix: "repomine", Contents: "contents"},
		Pipeline: PipelineConfig{
			FlushEvery:      10,
			MaxBatch:        500,
			Workers:         1,
			PushBackoff:     30 * time.Second,
			ClocPath:        "cloc",
			MaxCommentBytes: 1 << 20,
		},
		Dry: DryConfig{
			Chunks:        []ChunkConfig{{Size: 5, MinLineLen: 80}, {Size: 10, MinLineLen: 50}},
			SkipLanguages: []string{"Text", "JSON", "XML", "YAML", "Markdown", "HTML", "CSS", "SVG"},
			Workers:       1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads path over the defaults and applies environment overrides.
// An empty path means DefaultPath, which may be absent; an explicit path
// must exist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// A missing .env is normal.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Warehouse.Engine = getEnv("REPOMINE_WAREHOUSE_ENGINE", c.Warehouse.Engine)
	c.Warehouse.DSN = getEnv("REPOMINE_WAREHOUSE_DSN", c.Warehouse.DSN)
	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)
	c.GitHub.BaseURL = getEnv("REPOMINE_GITHUB_URL", c.GitHub.BaseURL)
	if v, err := strconv.Atoi(os.Getenv("REPOMINE_GITHUB_QUOTA")); err == nil {
		c.GitHub.QuotaPerHour = v
	}
	c.Storage.Endpoint = getEnv("REPOMINE_S3_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = getEnv("REPOMINE_S3_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnv("REPOMINE_S3_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Bucket = getEnv("REPOMINE_S3_BUCKET", c.Storage.Bucket)
	c.Sheet.Source = getEnv("REPOMINE_SHEET", c.Sheet.Source)
	c.Tables.Prefix = getEnv("REPOMINE_TABLE_PREFIX", c.Tables.Prefix)
	c.Log.Level = getEnv("REPOMINE_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("REPOMINE_LOG_FILE", c.Log.File)
}

// Validate rejects configurations no stage can run with.
func (c *Config) Validate() error {
	switch c.Warehouse.Engine {
	case "sqlite", "postgres", "mem":
	default:
		return fmt.Errorf("warehouse.engine: unknown engine %q", c.Warehouse.Engine)
	}
	if c.GitHub.QuotaPerHour <= 0 {
		return fmt.Errorf("github.quota_per_hour must be positive, got %d", c.GitHub.QuotaPerHour)
	}
	if c.Pipeline.MaxBatch < 1 {
		return fmt.Errorf("pipeline.max_batch must be at least 1, got %d", c.Pipeline.MaxBatch)
	}
	if c.Pipeline.FlushEvery < 1 {
		return fmt.Errorf("pipeline.flush_every must be at least 1, got %d", c.Pipeline.FlushEvery)
	}
	for i, ch := range c.Dry.Chunks {
		if ch.Size < 1 {
			return fmt.Errorf("dry.chunks[%d].size must be at least 1, got %d", i, ch.Size)
		}
		if ch.MinLineLen < 0 {
			return fmt.Errorf("dry.chunks[%d].min_line_len must not be negative, got %d", i, ch.MinLineLen)
		}
	}
	if c.Tables.Prefix == "" {
		return errors.New("tables.prefix must not be empty")
	}
	return nil
}

// Table returns the prefixed name of a derived table.
func (c *Config) Table(name string) string {
	return c.Tables.Prefix + "_" + name
}

// ParseLevel maps a level name to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
