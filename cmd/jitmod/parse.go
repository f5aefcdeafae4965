package main

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"jitmod/internal/canonical"
	"jitmod/internal/signature"
)

var parseCmd = &cobra.Command{
	Use:   "parse [encoded-signature]",
	Short: "Parse a signature and print its canonical structure",
	Long: `Parses an encoded signature and prints the canonical serialization as
indented JSON. This is the exact structure the cache key is hashed
from, so two inputs printing the same JSON share one cached module.

Unbalanced brackets fail with the offending position; anything else
degrades to a bare-expression request rather than erroring.

Example:
  jitmod parse 'fetchUser(id:string,opts%3F:{cache:boolean}):Promise<{name:string}>'`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func runParse(cmd *cobra.Command, args []string) error {
	req, err := signature.Parse(args[0])
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical.Serialize(req, ""), "", "  "); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	fmt.Println(buf.String())
	return nil
}
