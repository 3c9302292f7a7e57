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
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// commentGrammar is the tree-sitter setup for one language.
type commentGrammar struct {
	name     string
	language func() *sitter.Language
}

var (
	goGrammar     = commentGrammar{"Go", golang.GetLanguage}
	pythonGrammar = commentGrammar{"Python", python.GetLanguage}
	jsGrammar     = commentGrammar{"JavaScript", javascript.GetLanguage}
	tsGrammar     = commentGrammar{"TypeScript", typescript.GetLanguage}
	tsxGrammar    = commentGrammar{"TypeScript", tsx.GetLanguage}
	javaGrammar   = commentGrammar{"Java", java.GetLanguage}
)

var commentGrammars = map[string]commentGrammar{
	".go":   goGrammar,
	".py":   pythonGrammar,
	".js":   jsGrammar,
	".jsx":  jsGrammar,
	".mjs":  jsGrammar,
	".cjs":  jsGrammar,
	".ts":   tsGrammar,
	".tsx":  tsxGrammar,
	".java": javaGrammar,
}

// CommentLanguage returns the language comments can be extracted for, or ""
// when the file's extension has no grammar.
func CommentLanguage(filePath string) string {
	return commentGrammars[strings.ToLower(path.Ext(filePath))].name
}

// TreeSitterExtractor extracts source comments with tree-sitter grammars.
type TreeSitterExtractor struct {
	// MaxBytes caps the joined comments of one file. Longer results are
	// stored as NULL. Zero means no cap.
	MaxBytes int
}

// Extract returns the comments of src in source order. ok is false when the
// extension of filePath has no grammar.
func (e TreeSitterExtractor) Extract(ctx context.Context, filePath string, src []byte) (comments []string, ok bool, err error) {
	g, ok := commentGrammars[strings.ToLower(path.Ext(filePath))]
	if !ok {
		return nil, false, nil
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.language())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", filePath, err)
	}
	defer tree.Close()

	// Pre-order walk yields comments in source order. Grammars name them
	// "comment", "line_comment" or "block_comment".
	stack := []*sitter.Node{tree.RootNode()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsNamed() && strings.HasSuffix(n.Type(), "comment") {
			comments = append(comments, n.Content(src))
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	return comments, true, nil
}

// ReadsContent implements ContentAnalyzer; parsing needs no scratch file.
func (TreeSitterExtractor) ReadsContent() bool { return true }

// Analyze implements Analyzer. Files in languages without a grammar yield
// no records.
func (e TreeSitterExtractor) Analyze(ctx context.Context, rec FileRecord, _ string) ([]DerivedRecord, error) {
	comments, ok, err := e.Extract(ctx, rec.Path, []byte(*rec.Content))
	if err != nil || !ok {
		return nil, err
	}
	joined := strings.Join(comments, "\n")
	cr := CommentRecord{
		RepoName: rec.RepoName,
		Path:     rec.Path,
		SHA:      rec.Hash(),
		Language: CommentLanguage(rec.Path),
	}
	if e.MaxBytes <= 0 || len(joined) <= e.MaxBytes {
		cr.Comments = &joined
	}
	return []DerivedRecord{cr}, nil
}
