// Package prompt renders parsed generation requests into the instruction
// text sent to the text-generation backend. Rendering is pure and
// deterministic: identical requests produce identical text, which is what
// makes the seed-based reproducibility promise to callers meaningful.
package prompt

import (
	"fmt"
	"strings"

	"jitmod/internal/signature"
)

// System is the fixed system prompt sent with every generation. It is not
// part of the per-request render and does not participate in cache keys.
const System = `You are a JavaScript module generator. You produce a single complete ES module and nothing else.

Rules:
- Output only JavaScript code, no prose, no Markdown fences
- The module must be self-contained: no imports from packages that are not part of the JavaScript standard runtime
- Export exactly the function the user asks for, plus any helpers it needs
- Handle invalid input defensively; never throw on missing optional arguments
- No network access, no filesystem access, no process access`

// Render produces the user-facing instruction text for req. Every
// parameter is rendered with its optionality and fully expanded type tree,
// and the documentation hint is appended verbatim when present.
func Render(req *signature.Request) string {
	var b strings.Builder
	sig := req.Signature

	if sig.Bare {
		b.WriteString("Generate a complete ES module for this task.\n\n")
		b.WriteString("--- TASK ---\n")
		b.WriteString(sig.Name)
		b.WriteString("\n")
	} else {
		b.WriteString("Generate a complete ES module implementing this function signature.\n\n")
		b.WriteString("--- SIGNATURE ---\n")
		b.WriteString(sig.String())
		b.WriteString("\n")

		if len(sig.Params) > 0 {
			b.WriteString("\n--- PARAMETERS ---\n")
			for _, p := range sig.Params {
				need := "required"
				if p.Optional {
					need = "optional"
				}
				fmt.Fprintf(&b, "- %s: %s (%s)\n", p.Name, p.Type.String(), need)
			}
		}

		b.WriteString("\n--- RETURNS ---\n")
		b.WriteString(sig.Return.String())
		b.WriteString("\n")
	}

	if req.DocHint != "" {
		b.WriteString("\n--- DESCRIPTION ---\n")
		b.WriteString(req.DocHint)
		b.WriteString("\n")
	}

	b.WriteString("\nRequirements:\n")
	n := 1
	if name := sig.ExportName(); name != "" {
		fmt.Fprintf(&b, "%d. Export a function named %q\n", n, name)
		n++
	} else {
		fmt.Fprintf(&b, "%d. Export the main function with a descriptive name\n", n)
		n++
	}
	if !sig.Bare {
		fmt.Fprintf(&b, "%d. Match the declared parameter list and return type exactly\n", n)
		n++
		fmt.Fprintf(&b, "%d. Treat parameters marked optional as possibly undefined\n", n)
		n++
	}
	fmt.Fprintf(&b, "%d. The module must parse as valid JavaScript on its own\n", n)

	b.WriteString("\nOutput only the JavaScript module code:")
	return b.String()
}
