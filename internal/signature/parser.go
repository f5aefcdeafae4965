package signature

import "strings"

// Parse decodes an encoded path segment and parses it into a Request.
// Parsing is total over the grammar: text outside the function-call form
// degrades to a bare-expression request and unclassifiable type text
// becomes LiteralOrUnknown. The only error returned is *ParseError, raised
// for unbalanced delimiters.
func Parse(encoded string) (*Request, error) {
	decoded := decodeSegment(encoded)
	sigText, doc, perr := splitDoc(decoded)
	if perr != nil {
		return nil, perr
	}
	return &Request{
		Signature: parseSignature(sigText),
		DocHint:   doc,
	}, nil
}

// parseSignature parses "name(params): type". Text without that call form
// becomes a bare expression name with unknown parameters and return type.
func parseSignature(s string) FunctionSignature {
	open := indexCallOpen(s)
	if open < 0 {
		return bareExpression(s)
	}
	name := collapse(s[:open])
	if name == "" {
		return bareExpression(s)
	}
	closer := matchIndex(s, open)
	if closer < 0 {
		// splitDoc already verified balance; treat defensively as bare.
		return bareExpression(s)
	}
	sig := FunctionSignature{
		Name:   name,
		Params: parseParams(s[open+1 : closer]),
		Return: Unknown(),
	}
	rest := strings.TrimSpace(s[closer+1:])
	if strings.HasPrefix(rest, ":") {
		sig.Return = parseType(rest[1:])
	}
	return sig
}

func bareExpression(s string) FunctionSignature {
	return FunctionSignature{
		Name:   collapse(s),
		Return: Unknown(),
		Bare:   true,
	}
}

// parseParams splits the parenthesized parameter list on top-level commas.
func parseParams(body string) []Parameter {
	chunks := splitTop(body, ',')
	if len(chunks) == 0 {
		return nil
	}
	params := make([]Parameter, 0, len(chunks))
	for _, c := range chunks {
		params = append(params, parseParam(c))
	}
	return params
}

// parseParam parses "name: type" or a bare name. A '?' immediately before
// the ':' (or at the end of a bare name) marks the parameter optional; that
// is the only position where an encoded %3F acts as the optionality marker
// rather than literal text.
func parseParam(chunk string) Parameter {
	var p Parameter
	namePart := chunk
	if i := indexTop(chunk, ':'); i >= 0 {
		namePart = chunk[:i]
		p.Type = parseType(chunk[i+1:])
	} else {
		p.Type = Unknown()
	}
	name := collapse(namePart)
	if strings.HasSuffix(name, "?") {
		p.Optional = true
		name = strings.TrimSpace(strings.TrimSuffix(name, "?"))
	}
	p.Name = name
	return p
}

// parseType parses a full type expression: unions of array-suffixed atoms.
func parseType(s string) TypeNode {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown()
	}
	parts := splitTop(s, '|')
	if len(parts) == 0 {
		return Unknown()
	}
	if len(parts) == 1 {
		return parseArrayOrAtom(parts[0])
	}
	members := make([]TypeNode, 0, len(parts))
	for _, part := range parts {
		members = append(members, parseArrayOrAtom(part))
	}
	return &UnionType{Members: members}
}

func parseArrayOrAtom(s string) TypeNode {
	s = strings.TrimSpace(s)
	dims := 0
	for strings.HasSuffix(s, "[]") {
		dims++
		s = strings.TrimSpace(strings.TrimSuffix(s, "[]"))
	}
	node := parseAtom(s)
	for ; dims > 0; dims-- {
		node = &ArrayType{Elem: node}
	}
	return node
}

// parseAtom parses an object type, a callback type, a parenthesized type,
// a generic application, a primitive, or falls back to LiteralOrUnknown.
func parseAtom(s string) TypeNode {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown()
	}
	switch s[0] {
	case '{':
		if end := matchIndex(s, 0); end == len(s)-1 {
			return parseObject(s[1:end])
		}
	case '(':
		end := matchIndex(s, 0)
		if end < 0 {
			break
		}
		rest := strings.TrimSpace(s[end+1:])
		if strings.HasPrefix(rest, "=>") {
			return &FunctionType{
				Params: parseParams(s[1:end]),
				Return: parseType(rest[2:]),
			}
		}
		if rest == "" {
			return parseType(s[1:end])
		}
	}
	if lt := indexGenericOpen(s); lt > 0 {
		if end := matchIndex(s, lt); end == len(s)-1 {
			name := collapse(s[:lt])
			if name != "" {
				args := splitTop(s[lt+1:end], ',')
				nodes := make([]TypeNode, 0, len(args))
				for _, a := range args {
					nodes = append(nodes, parseType(a))
				}
				return &GenericType{Name: name, Args: nodes}
			}
		}
	}
	word := collapse(s)
	if word == "" {
		return Unknown()
	}
	if primitives[word] {
		return &Primitive{Name: word}
	}
	return &LiteralOrUnknown{Raw: word}
}

// parseObject parses the inside of {...} as comma-separated properties.
func parseObject(body string) TypeNode {
	chunks := splitTop(body, ',')
	props := make([]Property, 0, len(chunks))
	for _, c := range chunks {
		var prop Property
		namePart := c
		if i := indexTop(c, ':'); i >= 0 {
			namePart = c[:i]
			prop.Type = parseType(c[i+1:])
		} else {
			prop.Type = Unknown()
		}
		key := collapse(namePart)
		if strings.HasSuffix(key, "?") {
			prop.Optional = true
			key = strings.TrimSpace(strings.TrimSuffix(key, "?"))
		}
		prop.Key = key
		props = append(props, prop)
	}
	return &ObjectType{Props: props}
}

// indexGenericOpen finds the first '<' outside any bracket group, the
// opener of a generic argument list.
func indexGenericOpen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		case '<':
			if depth == 0 {
				return i
			}
			depth++
		case '>':
			if i > 0 && s[i-1] == '=' {
				continue
			}
			depth--
		}
	}
	return -1
}

// indexCallOpen finds the '(' that opens the parameter list: the first '('
// encountered while no other bracket group is open.
func indexCallOpen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			if depth == 0 {
				return i
			}
			depth++
		case '{', '<', '[':
			depth++
		case ')', '}', ']':
			depth--
		case '>':
			if i > 0 && s[i-1] == '=' {
				continue
			}
			depth--
		}
	}
	return -1
}
