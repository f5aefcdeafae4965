// Package signature parses URL-embedded pseudo-TypeScript function
// signatures into a structural AST.
//
// The grammar is deliberately forgiving: anything that does not match the
// function-call form degrades to a bare-expression request, and type text
// the parser cannot classify becomes a LiteralOrUnknown leaf. The only hard
// failure is an unbalanced delimiter, reported as *ParseError with the byte
// position of the offending character in the decoded string.
package signature

import "strings"

// Request is a fully decoded generation request. Parse fills Signature and
// DocHint; the transport layer fills Model and Seed from its own inputs.
// Empty Model means "use the configured default", empty Seed means
// "unseeded" (a distinct key space, never coalesced with any seed value).
type Request struct {
	Signature FunctionSignature
	DocHint   string
	Model     string
	Seed      string
}

// FunctionSignature describes one function (or bare expression) signature.
// Bare is set when the request carried no function-call form at all; the
// name is then a free-text task description rather than a declared
// function name.
type FunctionSignature struct {
	Name   string
	Params []Parameter
	Return TypeNode
	Bare   bool
}

// Parameter is one declared parameter of a function signature.
type Parameter struct {
	Name     string
	Optional bool
	Type     TypeNode
}

// TypeNode is the union of all type annotation nodes. Variants carry a
// stable Kind tag used by canonical serialization.
type TypeNode interface {
	isTypeNode()
	Kind() string
	String() string
}

// Primitive is a built-in scalar type name (string, number, boolean, ...).
type Primitive struct {
	Name string
}

func (t *Primitive) isTypeNode()    {}
func (t *Primitive) Kind() string   { return "primitive" }
func (t *Primitive) String() string { return t.Name }

// Property is one key of an ObjectType.
type Property struct {
	Key      string
	Optional bool
	Type     TypeNode
}

// ObjectType is an inline object type. Property order is preserved as
// written; it is semantically meaningful to the generator and participates
// in canonicalization unsorted.
type ObjectType struct {
	Props []Property
}

func (t *ObjectType) isTypeNode()  {}
func (t *ObjectType) Kind() string { return "object" }

func (t *ObjectType) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range t.Props {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Key)
		if p.Optional {
			b.WriteByte('?')
		}
		b.WriteString(": ")
		b.WriteString(p.Type.String())
	}
	b.WriteByte('}')
	return b.String()
}

// ArrayType is Elem[].
type ArrayType struct {
	Elem TypeNode
}

func (t *ArrayType) isTypeNode()  {}
func (t *ArrayType) Kind() string { return "array" }

func (t *ArrayType) String() string {
	if needsParens(t.Elem) {
		return "(" + t.Elem.String() + ")[]"
	}
	return t.Elem.String() + "[]"
}

// UnionType is A|B|... with at least two members, in written order.
type UnionType struct {
	Members []TypeNode
}

func (t *UnionType) isTypeNode()  {}
func (t *UnionType) Kind() string { return "union" }

func (t *UnionType) String() string {
	parts := make([]string, len(t.Members))
	for i, m := range t.Members {
		if _, ok := m.(*FunctionType); ok {
			parts[i] = "(" + m.String() + ")"
			continue
		}
		parts[i] = m.String()
	}
	return strings.Join(parts, " | ")
}

// GenericType is Name<Args...>.
type GenericType struct {
	Name string
	Args []TypeNode
}

func (t *GenericType) isTypeNode()  {}
func (t *GenericType) Kind() string { return "generic" }

func (t *GenericType) String() string {
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = a.String()
	}
	return t.Name + "<" + strings.Join(parts, ", ") + ">"
}

// FunctionType is a callback type: (params) => Return.
type FunctionType struct {
	Params []Parameter
	Return TypeNode
}

func (t *FunctionType) isTypeNode()  {}
func (t *FunctionType) Kind() string { return "function" }

func (t *FunctionType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		if p.Optional {
			b.WriteByte('?')
		}
		b.WriteString(": ")
		b.WriteString(p.Type.String())
	}
	b.WriteString(") => ")
	b.WriteString(t.Return.String())
	return b.String()
}

// LiteralOrUnknown carries type text the grammar cannot classify. It is a
// fallback, never an error.
type LiteralOrUnknown struct {
	Raw string
}

func (t *LiteralOrUnknown) isTypeNode()    {}
func (t *LiteralOrUnknown) Kind() string   { return "literal" }
func (t *LiteralOrUnknown) String() string { return t.Raw }

// String renders the signature in TypeScript-like syntax, for prompts and
// annotation headers.
func (s FunctionSignature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		if p.Optional {
			b.WriteByte('?')
		}
		b.WriteString(": ")
		b.WriteString(p.Type.String())
	}
	b.WriteString("): ")
	b.WriteString(s.Return.String())
	return b.String()
}

func needsParens(t TypeNode) bool {
	switch t.(type) {
	case *UnionType, *FunctionType:
		return true
	}
	return false
}

// ExportName derives the JavaScript identifier the generated module is
// expected to export: multi-word names camel-case ("to slug" -> "toSlug"),
// characters outside [A-Za-z0-9_$] are dropped, and a leading digit gets an
// underscore prefix. Returns "" when nothing identifier-like remains, in
// which case any export satisfies the module check.
func (s FunctionSignature) ExportName() string {
	words := strings.Fields(s.Name)
	var b strings.Builder
	for i, w := range words {
		var clean []byte
		for j := 0; j < len(w); j++ {
			c := w[j]
			if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
				c >= '0' && c <= '9' || c == '_' || c == '$' {
				clean = append(clean, c)
			}
		}
		if len(clean) == 0 {
			continue
		}
		if i > 0 && b.Len() > 0 && clean[0] >= 'a' && clean[0] <= 'z' {
			clean[0] -= 'a' - 'A'
		}
		b.Write(clean)
	}
	name := b.String()
	if name == "" {
		return ""
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// Unknown returns the fallback node used wherever a type annotation is
// absent or unreadable.
func Unknown() TypeNode {
	return &LiteralOrUnknown{Raw: "unknown"}
}

// primitives are the type names recognized as built-in scalars. Any other
// bare identifier in type position becomes LiteralOrUnknown.
var primitives = map[string]bool{
	"string":    true,
	"number":    true,
	"boolean":   true,
	"void":      true,
	"any":       true,
	"unknown":   true,
	"never":     true,
	"null":      true,
	"undefined": true,
	"object":    true,
	"bigint":    true,
	"symbol":    true,
}
