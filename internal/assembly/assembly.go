// Package assembly turns raw backend output into the final served module
// text: it strips Markdown fences, prepends a JSDoc header derived from
// the signature, and verifies the result parses as JavaScript with the
// expected export before accepting it.
package assembly

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"jitmod/internal/signature"
)

// Error reports generated text that failed the well-formedness check. The
// generation coordinator treats it as a transient failure: the backend is
// stochastic and a retry may produce a valid module for the same key.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "assembly: " + e.Reason }

// Assembler builds and validates served module text.
type Assembler struct {
	// tree-sitter parsers are not safe for concurrent use.
	mu     sync.Mutex
	parser *sitter.Parser
}

// New returns an Assembler with a JavaScript grammar loaded.
func New() *Assembler {
	p := sitter.NewParser()
	p.SetLanguage(javascript.GetLanguage())
	return &Assembler{parser: p}
}

// Assemble produces the final module text for raw backend output: fences
// stripped, annotation header prepended, syntax and export verified. On
// any failure it returns *Error and the input is discarded.
func (a *Assembler) Assemble(ctx context.Context, raw string, req *signature.Request) (string, error) {
	code := extractCodeBlock(raw)
	if code == "" {
		return "", &Error{Reason: "backend returned no code"}
	}

	text := header(req) + "\n" + code
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if err := a.verify(ctx, text, req); err != nil {
		return "", err
	}
	return text, nil
}

// verify parses text as JavaScript and checks for syntax errors and for
// the expected export.
func (a *Assembler) verify(ctx context.Context, text string, req *signature.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tree, err := a.parser.ParseCtx(ctx, nil, []byte(text))
	if err != nil {
		return &Error{Reason: fmt.Sprintf("parse failed: %v", err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if bad := findErrorNode(root); bad != nil {
			return &Error{Reason: fmt.Sprintf("syntax error at byte %d", bad.StartByte())}
		}
		return &Error{Reason: "syntax error"}
	}

	names, hasAny := collectExports(root, []byte(text))
	want := req.Signature.ExportName()
	if want == "" {
		if !hasAny {
			return &Error{Reason: "module has no export"}
		}
		return nil
	}
	if !names[want] {
		return &Error{Reason: fmt.Sprintf("module does not export %q", want)}
	}
	return nil
}

// findErrorNode locates the first ERROR or missing node in the tree.
func findErrorNode(node *sitter.Node) *sitter.Node {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if bad := findErrorNode(node.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// collectExports gathers the exported names of a parsed module. Exports
// are top-level statements in ESM, so only the root's children are
// inspected.
func collectExports(root *sitter.Node, content []byte) (map[string]bool, bool) {
	names := make(map[string]bool)
	hasAny := false

	getText := func(n *sitter.Node) string {
		return string(content[n.StartByte():n.EndByte()])
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "export_statement" {
			continue
		}
		hasAny = true

		if decl := stmt.ChildByFieldName("declaration"); decl != nil {
			switch decl.Type() {
			case "function_declaration", "generator_function_declaration", "class_declaration":
				if name := decl.ChildByFieldName("name"); name != nil {
					names[getText(name)] = true
				}
			case "lexical_declaration", "variable_declaration":
				for j := 0; j < int(decl.NamedChildCount()); j++ {
					declarator := decl.NamedChild(j)
					if declarator.Type() != "variable_declarator" {
						continue
					}
					if name := declarator.ChildByFieldName("name"); name != nil {
						names[getText(name)] = true
					}
				}
			}
		}

		// export { a, b as c }
		for j := 0; j < int(stmt.NamedChildCount()); j++ {
			clause := stmt.NamedChild(j)
			if clause.Type() != "export_clause" {
				continue
			}
			for k := 0; k < int(clause.NamedChildCount()); k++ {
				spec := clause.NamedChild(k)
				if spec.Type() != "export_specifier" {
					continue
				}
				name := spec.ChildByFieldName("alias")
				if name == nil {
					name = spec.ChildByFieldName("name")
				}
				if name != nil {
					names[getText(name)] = true
				}
			}
		}
	}
	return names, hasAny
}

// header renders the JSDoc annotation block: the documentation hint as a
// leading description, the full signature, one @param line per parameter
// and an @returns line.
func header(req *signature.Request) string {
	var b strings.Builder
	sig := req.Signature

	b.WriteString("/**\n")
	if req.DocHint != "" {
		b.WriteString(" * " + commentSafe(req.DocHint) + "\n *\n")
	}
	if sig.Bare {
		if req.DocHint == "" {
			b.WriteString(" * " + commentSafe(sig.Name) + "\n *\n")
		}
	} else {
		b.WriteString(" * " + commentSafe(sig.String()) + "\n *\n")
	}
	for _, p := range sig.Params {
		name := p.Name
		if p.Optional {
			name = "[" + name + "]"
		}
		fmt.Fprintf(&b, " * @param {%s} %s\n", commentSafe(p.Type.String()), commentSafe(name))
	}
	fmt.Fprintf(&b, " * @returns {%s}\n", commentSafe(sig.Return.String()))
	b.WriteString(" */")
	return b.String()
}

// commentSafe keeps free text from breaking out of the JSDoc block.
func commentSafe(s string) string {
	s = strings.ReplaceAll(s, "*/", "*\\/")
	return strings.ReplaceAll(s, "\n", "\n * ")
}

// extractCodeBlock extracts the code from a markdown-style response.
// Responses without fences are returned as-is.
func extractCodeBlock(text string) string {
	patterns := []string{
		"```javascript\n",
		"```js\n",
		"```\n",
	}

	for _, pattern := range patterns {
		if idx := strings.Index(text, pattern); idx != -1 {
			start := idx + len(pattern)
			end := strings.Index(text[start:], "```")
			if end != -1 {
				return strings.TrimSpace(text[start : start+end])
			}
		}
	}

	return strings.TrimSpace(text)
}
