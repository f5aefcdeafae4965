package canonical

import (
	"testing"

	"jitmod/internal/signature"
)

const testModel = "gemini-2.5-flash"

func mustParse(t *testing.T, encoded string) *signature.Request {
	t.Helper()
	req, err := signature.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", encoded, err)
	}
	return req
}

func TestKey_EncodingEquivalence(t *testing.T) {
	// Requests that differ only in percent-encoding of the same logical
	// signature must share a key.
	tests := []struct {
		name string
		a, b string
	}{
		{"optional marker", "convert(amount:number,currency%3F:string):string", "convert(amount:number,currency?:string):string"},
		{"encoded parens", "greet%28name:string%29:string", "greet(name:string):string"},
		{"plus vs space padding", "to+slug(text:string):string", "to%20slug(text:string):string"},
		{"whitespace around tokens", "f( a : string ): void", "f(a:string):void"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := Key(mustParse(t, tt.a), testModel)
			kb := Key(mustParse(t, tt.b), testModel)
			if ka != kb {
				t.Errorf("keys diverged:\n a=%s\n b=%s", ka, kb)
			}
		})
	}
}

func TestKey_Shape(t *testing.T) {
	k := Key(mustParse(t, "now():number"), testModel)
	if len(k) != 64 {
		t.Fatalf("key length = %d, want 64", len(k))
	}
	for _, c := range k {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("key contains non-hex byte %q", c)
		}
	}
}

func TestKey_Deterministic(t *testing.T) {
	req := mustParse(t, "formatDate(date:string):string")
	if Key(req, testModel) != Key(req, testModel) {
		t.Error("same request produced different keys")
	}
}

func TestKey_ModelDefaulting(t *testing.T) {
	implicit := mustParse(t, "now():number")
	explicit := mustParse(t, "now():number")
	explicit.Model = testModel

	if Key(implicit, testModel) != Key(explicit, testModel) {
		t.Error("default model and explicit default must canonicalize identically")
	}

	other := mustParse(t, "now():number")
	other.Model = "gemini-2.5-pro"
	if Key(implicit, testModel) == Key(other, testModel) {
		t.Error("different models must produce different keys")
	}
}

func TestKey_SeedKeySpace(t *testing.T) {
	unseeded := mustParse(t, "roll():number")
	seeded := mustParse(t, "roll():number")
	seeded.Seed = "42"

	if Key(unseeded, testModel) == Key(seeded, testModel) {
		t.Error("seeded and unseeded requests must not share a key")
	}

	again := mustParse(t, "roll():number")
	again.Seed = "42"
	if Key(seeded, testModel) != Key(again, testModel) {
		t.Error("identical seeds must share a key")
	}

	other := mustParse(t, "roll():number")
	other.Seed = "43"
	if Key(seeded, testModel) == Key(other, testModel) {
		t.Error("different seeds must not share a key")
	}
}

func TestKey_PropertyOrderSignificant(t *testing.T) {
	ab := mustParse(t, "point():{a:number,b:number}")
	ba := mustParse(t, "point():{b:number,a:number}")
	if Key(ab, testModel) == Key(ba, testModel) {
		t.Error("object property order must participate in the key")
	}
}

func TestKey_DocHintParticipates(t *testing.T) {
	bare := mustParse(t, "slugify(s:string):string")
	doc := mustParse(t, "slugify(s:string):string|lowercase+and+dashes")
	if Key(bare, testModel) == Key(doc, testModel) {
		t.Error("documentation hint must participate in the key")
	}
}

func TestSerialize_StableAcrossCalls(t *testing.T) {
	req := mustParse(t, "each(items:string[],cb:(item:string)=>void):void")
	a := string(Serialize(req, testModel))
	b := string(Serialize(req, testModel))
	if a != b {
		t.Errorf("serialization unstable:\n a=%s\n b=%s", a, b)
	}
}
