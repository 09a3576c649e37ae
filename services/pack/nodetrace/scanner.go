// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodetrace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Tree-sitter node types used by the import scanner.
//
// Reference: https://github.com/tree-sitter/tree-sitter-javascript and
// https://github.com/tree-sitter/tree-sitter-typescript
const (
	nodeImportStatement     = "import_statement"
	nodeImportRequireClause = "import_require_clause"
	nodeExportStatement     = "export_statement"
	nodeCallExpression      = "call_expression"
	nodeMemberExpression    = "member_expression"
	nodeIdentifier          = "identifier"
	nodeImport              = "import"
	nodeString              = "string"
	nodeTemplateString      = "template_string"
	nodeTemplateSubst       = "template_substitution"
	nodeType                = "type"
)

// Grammar selects a tree-sitter language.
type Grammar int

const (
	// GrammarNone marks files that are packaged but not scanned.
	GrammarNone Grammar = iota
	GrammarJavaScript
	GrammarTypeScript
	GrammarTSX
)

// GrammarFor returns the grammar for a file path by extension.
func GrammarFor(path string) Grammar {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs", ".jsx":
		return GrammarJavaScript
	case ".ts", ".mts", ".cts":
		return GrammarTypeScript
	case ".tsx":
		return GrammarTSX
	default:
		return GrammarNone
	}
}

// String returns the grammar name.
func (g Grammar) String() string {
	switch g {
	case GrammarJavaScript:
		return "javascript"
	case GrammarTypeScript:
		return "typescript"
	case GrammarTSX:
		return "tsx"
	default:
		return "none"
	}
}

func (g Grammar) language() *sitter.Language {
	switch g {
	case GrammarJavaScript:
		return javascript.GetLanguage()
	case GrammarTypeScript:
		return typescript.GetLanguage()
	case GrammarTSX:
		return tsx.GetLanguage()
	default:
		return nil
	}
}

// RefKind is how a module reference was written.
type RefKind int

const (
	// RefImport is a static import or re-export.
	RefImport RefKind = iota
	// RefRequire is a require() or require.resolve() call.
	RefRequire
	// RefDynamicImport is an import() expression.
	RefDynamicImport
)

// String returns the kind name.
func (k RefKind) String() string {
	switch k {
	case RefImport:
		return "import"
	case RefRequire:
		return "require"
	case RefDynamicImport:
		return "dynamic_import"
	default:
		return "unknown"
	}
}

// Reference is one module specifier found in a source file.
type Reference struct {
	Specifier string
	Kind      RefKind
	Line      int
}

// ScanResult holds the references in one file.
type ScanResult struct {
	// References are string-literal specifiers in source order.
	References []Reference

	// Unresolvable are references whose specifier is not a literal, such
	// as require(name) or import(`./${x}`).
	Unresolvable []Reference

	// HasSyntaxErrors is true if tree-sitter reported error nodes. Scanning
	// still returns what it could find.
	HasSyntaxErrors bool
}

// Scan extracts module references from JavaScript or TypeScript source.
//
// Description:
//
//	Finds static imports, re-exports, side-effect imports, require() and
//	require.resolve() calls, import() expressions and TypeScript
//	`import x = require()` declarations. Type-only imports and exports are
//	skipped because they are erased before runtime.
//
// Inputs:
//
//	ctx - Context for cancellation of the tree-sitter parse.
//	content - Source bytes. Must be valid UTF-8.
//	grammar - Grammar to parse with. GrammarNone yields an empty result.
//
// Outputs:
//
//	*ScanResult - References found. Never nil on success.
//	error - ErrInvalidContent or a parse failure.
func Scan(ctx context.Context, content []byte, grammar Grammar) (*ScanResult, error) {
	result := &ScanResult{}
	lang := grammar.language()
	if lang == nil {
		return result, nil
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	// New parser per call; sitter.Parser is not safe for concurrent use.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return result, nil
	}
	result.HasSyntaxErrors = root.HasError()

	s := &scanner{content: content, result: result}
	s.walk(root)
	return result, nil
}

type scanner struct {
	content []byte
	result  *ScanResult
}

// walk visits every node depth-first without recursion.
func (s *scanner) walk(root *sitter.Node) {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n.Type() {
		case nodeImportStatement, nodeExportStatement:
			s.visitModuleStatement(n)
		case nodeImportRequireClause:
			s.visitImportRequire(n)
		case nodeCallExpression:
			s.visitCall(n)
		}

		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.NamedChild(i))
		}
	}
}

// visitModuleStatement handles `import ... from "x"`, `import "x"` and
// `export ... from "x"`.
func (s *scanner) visitModuleStatement(n *sitter.Node) {
	if s.isTypeOnly(n) {
		return
	}
	source := n.ChildByFieldName("source")
	if source == nil || source.Type() != nodeString {
		return
	}
	s.add(RefImport, source)
}

// visitImportRequire handles TypeScript `import x = require("x")`.
func (s *scanner) visitImportRequire(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == nodeString {
			s.add(RefRequire, child)
			return
		}
	}
}

// visitCall handles require(), require.resolve() and import().
func (s *scanner) visitCall(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}

	var kind RefKind
	switch {
	case fn.Type() == nodeImport:
		kind = RefDynamicImport
	case fn.Type() == nodeIdentifier && s.text(fn) == "require":
		kind = RefRequire
	case fn.Type() == nodeMemberExpression && s.isRequireResolve(fn):
		kind = RefRequire
	default:
		return
	}

	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return
	}
	arg := args.NamedChild(0)

	switch arg.Type() {
	case nodeString:
		s.add(kind, arg)
	case nodeTemplateString:
		if hasChildOfType(arg, nodeTemplateSubst) {
			s.unresolvable(kind, arg)
			return
		}
		s.add(kind, arg)
	default:
		s.unresolvable(kind, arg)
	}
}

func (s *scanner) isRequireResolve(member *sitter.Node) bool {
	obj := member.ChildByFieldName("object")
	prop := member.ChildByFieldName("property")
	return obj != nil && prop != nil &&
		obj.Type() == nodeIdentifier && s.text(obj) == "require" &&
		s.text(prop) == "resolve"
}

// isTypeOnly reports `import type ...` and `export type ... from`.
func (s *scanner) isTypeOnly(n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == nodeType && !child.IsNamed() {
			return true
		}
		if child.IsNamed() {
			// The keyword always precedes the first named child.
			return false
		}
	}
	return false
}

func (s *scanner) add(kind RefKind, literal *sitter.Node) {
	spec := unquote(s.text(literal))
	if spec == "" {
		return
	}
	s.result.References = append(s.result.References, Reference{
		Specifier: spec,
		Kind:      kind,
		Line:      int(literal.StartPoint().Row + 1),
	})
}

func (s *scanner) unresolvable(kind RefKind, arg *sitter.Node) {
	s.result.Unresolvable = append(s.result.Unresolvable, Reference{
		Specifier: s.text(arg),
		Kind:      kind,
		Line:      int(arg.StartPoint().Row + 1),
	})
}

func (s *scanner) text(n *sitter.Node) string {
	return string(s.content[n.StartByte():n.EndByte()])
}

// unquote strips the surrounding quote or backtick characters.
func unquote(raw string) string {
	if len(raw) >= 2 {
		switch raw[0] {
		case '"', '\'', '`':
			if raw[len(raw)-1] == raw[0] {
				return raw[1 : len(raw)-1]
			}
		}
	}
	return raw
}

func hasChildOfType(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if n.NamedChild(i).Type() == typ {
			return true
		}
	}
	return false
}
