package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jitmod/internal/canonical"
	"jitmod/internal/config"
	"jitmod/internal/prompt"
	"jitmod/internal/signature"
)

var (
	renderKey   bool
	renderModel string
	renderSeed  string
)

var renderCmd = &cobra.Command{
	Use:   "render [encoded-signature]",
	Short: "Render the generation prompt for a signature",
	Long: `Parses an encoded signature and prints the prompt text that would be
sent to the backend. No backend call is made.

With --key, prints the canonical cache key instead: the same value the
server uses as primary key and ETag.

Examples:
  jitmod render 'add(a:number,b:number):number'
  jitmod render 'to+slug(s:string):string|lowercase, hyphen separated'
  jitmod render --key --seed 42 'shuffle(xs:string[]):string[]'`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().BoolVarP(&renderKey, "key", "k", false, "Print the canonical cache key instead of the prompt")
	renderCmd.Flags().StringVar(&renderModel, "model", "", "Model override, as the ?model= query parameter would give")
	renderCmd.Flags().StringVar(&renderSeed, "seed", "", "Seed, as the ?seed= query parameter would give")
}

func runRender(cmd *cobra.Command, args []string) error {
	req, err := signature.Parse(args[0])
	if err != nil {
		return err
	}
	if renderModel != "" {
		req.Model = renderModel
	}
	if renderSeed != "" {
		req.Seed = renderSeed
	}

	if renderKey {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Println(canonical.Key(req, cfg.Backend.Model))
		return nil
	}

	fmt.Println(prompt.Render(req))
	return nil
}
