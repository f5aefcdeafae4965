// Package canonical derives stable cache keys from parsed generation
// requests. Two requests that are structurally equivalent after decoding
// map to the same key, so percent-encoding differences never cause a
// second generation.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"

	json "github.com/goccy/go-json"

	"jitmod/internal/signature"
)

// keyVersion is incremented when the serialization format changes. Old
// cache entries keep their keys; new requests simply hash into a fresh
// key space.
const keyVersion = 1

// Key returns the canonical cache key for req: lowercase hex of a sha256
// over the deterministic serialization. Fixed width, safe as a primary key
// and as an ETag value.
func Key(req *signature.Request, defaultModel string) string {
	sum := sha256.Sum256(Serialize(req, defaultModel))
	return hex.EncodeToString(sum[:])
}

// Serialize returns the canonical byte form of req. Exposed for tests and
// for the parse debugging command.
//
// Rules: object property order is preserved as written, name and type
// tokens carry no whitespace (the parser collapsed it), an empty model is
// replaced by defaultModel before serializing, and an empty seed omits the
// seed component entirely so unseeded requests occupy their own key space.
func Serialize(req *signature.Request, defaultModel string) []byte {
	env := envelope{
		V:      keyVersion,
		Name:   req.Signature.Name,
		Bare:   req.Signature.Bare,
		Params: toParams(req.Signature.Params),
		Ret:    toNode(req.Signature.Return),
		Doc:    req.DocHint,
		Model:  req.Model,
		Seed:   req.Seed,
	}
	if env.Model == "" {
		env.Model = defaultModel
	}
	// The envelope holds only strings, bools and slices; Marshal cannot fail.
	b, _ := json.Marshal(env)
	return b
}

// envelope is the top-level serialization record. Field order is the
// serialization order and must stay stable; bump keyVersion to change it.
type envelope struct {
	V      int     `json:"v"`
	Name   string  `json:"name"`
	Bare   bool    `json:"bare,omitempty"`
	Params []param `json:"params,omitempty"`
	Ret    node    `json:"ret"`
	Doc    string  `json:"doc,omitempty"`
	Model  string  `json:"model"`
	Seed   string  `json:"seed,omitempty"`
}

// node is the serialized form of a type node. K is the variant tag; the
// remaining fields are populated per variant and omitted otherwise.
type node struct {
	K       string  `json:"k"`
	Name    string  `json:"name,omitempty"`
	Raw     string  `json:"raw,omitempty"`
	Elem    *node   `json:"elem,omitempty"`
	Members []node  `json:"members,omitempty"`
	Args    []node  `json:"args,omitempty"`
	Props   []prop  `json:"props,omitempty"`
	Params  []param `json:"params,omitempty"`
	Ret     *node   `json:"ret,omitempty"`
}

type prop struct {
	Key string `json:"key"`
	Opt bool   `json:"opt,omitempty"`
	Typ node   `json:"type"`
}

type param struct {
	Name string `json:"name"`
	Opt  bool   `json:"opt,omitempty"`
	Typ  node   `json:"type"`
}

func toNode(t signature.TypeNode) node {
	switch v := t.(type) {
	case *signature.Primitive:
		return node{K: v.Kind(), Name: v.Name}
	case *signature.ObjectType:
		props := make([]prop, len(v.Props))
		for i, p := range v.Props {
			props[i] = prop{Key: p.Key, Opt: p.Optional, Typ: toNode(p.Type)}
		}
		return node{K: v.Kind(), Props: props}
	case *signature.ArrayType:
		elem := toNode(v.Elem)
		return node{K: v.Kind(), Elem: &elem}
	case *signature.UnionType:
		members := make([]node, len(v.Members))
		for i, m := range v.Members {
			members[i] = toNode(m)
		}
		return node{K: v.Kind(), Members: members}
	case *signature.GenericType:
		args := make([]node, len(v.Args))
		for i, a := range v.Args {
			args[i] = toNode(a)
		}
		return node{K: v.Kind(), Name: v.Name, Args: args}
	case *signature.FunctionType:
		ret := toNode(v.Return)
		return node{K: v.Kind(), Params: toParams(v.Params), Ret: &ret}
	case *signature.LiteralOrUnknown:
		return node{K: v.Kind(), Raw: v.Raw}
	default:
		// New variants must be added here before the parser can emit them.
		return node{K: "literal", Raw: t.String()}
	}
}

func toParams(params []signature.Parameter) []param {
	if len(params) == 0 {
		return nil
	}
	out := make([]param, len(params))
	for i, p := range params {
		out[i] = param{Name: p.Name, Opt: p.Optional, Typ: toNode(p.Type)}
	}
	return out
}
