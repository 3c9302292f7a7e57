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
package dry

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// ChunkConfig selects the windows counted by AddChunks.
type ChunkConfig struct {
	// Size is the number of consecutive lines in a chunk.
	Size int `yaml:"size" json:"size"`

	// MinLineLen is the shortest line, in characters, a chunk may contain.
	MinLineLen int `yaml:"min_line_len" json:"min_line_len"`
}

// Validate rejects configs that cannot produce chunks.
func (c ChunkConfig) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunkConfig, c.Size)
	}
	if c.MinLineLen < 0 {
		return fmt.Errorf("%w: minimum line length %d is negative", ErrInvalidChunkConfig, c.MinLineLen)
	}
	return nil
}

// Table is the output table for c under prefix.
func (c ChunkConfig) Table(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, c.Size, c.MinLineLen)
}

func (c ChunkConfig) String() string {
	return fmt.Sprintf("(%d,%d)", c.Size, c.MinLineLen)
}

// SplitLines splits content on "\n", trims each line and drops empty ones.
func SplitLines(content string) []string {
	raw := strings.Split(content, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// AddChunks counts every window of cfg.Size consecutive lines whose lines
// are all at least cfg.MinLineLen characters long.
func AddChunks(lines []string, counter *Counter, cfg ChunkConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	// run is the number of long-enough lines ending at i.
	run := 0
	for i, l := range lines {
		if utf8.RuneCountInString(l) >= cfg.MinLineLen {
			run++
		} else {
			run = 0
		}
		if run >= cfg.Size {
			counter.Add(strings.Join(lines[i-cfg.Size+1:i+1], "\n"))
		}
	}
	return nil
}

// ChunkCount is one counted chunk.
type ChunkCount struct {
	Chunk       string
	Occurrences int64
}

type bucketEntry struct {
	text string
	n    int64
}

// Counter counts chunk texts keyed by their xxhash. Texts that share a hash
// are kept apart in a per-hash side list.
type Counter struct {
	buckets map[uint64][]bucketEntry
	size    int
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{buckets: make(map[uint64][]bucketEntry)}
}

// Add increments the count of text.
func (c *Counter) Add(text string) {
	c.addN(xxhash.Sum64String(text), text, 1)
}

func (c *Counter) addN(h uint64, text string, n int64) {
	entries := c.buckets[h]
	for i := range entries {
		if entries[i].text == text {
			entries[i].n += n
			return
		}
	}
	c.buckets[h] = append(entries, bucketEntry{text: text, n: n})
	c.size++
}

// Count returns the occurrences of text.
func (c *Counter) Count(text string) int64 {
	for _, e := range c.buckets[xxhash.Sum64String(text)] {
		if e.text == text {
			return e.n
		}
	}
	return 0
}

// Len is the number of distinct chunks.
func (c *Counter) Len() int { return c.size }

// Items returns every chunk ordered by text.
func (c *Counter) Items() []ChunkCount {
	out := make([]ChunkCount, 0, c.size)
	for _, entries := range c.buckets {
		for _, e := range entries {
			out = append(out, ChunkCount{Chunk: e.text, Occurrences: e.n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chunk < out[j].Chunk })
	return out
}

// Reset empties the counter.
func (c *Counter) Reset() {
	clear(c.buckets)
	c.size = 0
}
