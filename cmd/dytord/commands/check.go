package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scaredginger/dytor"
	"github.com/scaredginger/dytor/config"
)

var checkCmd = &cobra.Command{
	Use:   "check <config.yaml>",
	Short: "Validate a configuration without running it",
	Long: `Check loads the configuration and applies every startup check
that does not require constructing actors: the namespace tree must be
trivial, context IDs must be dense, and every typename must resolve to a
type registered in this binary.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		registered, err := dytor.RegisteredActors()
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(registered))
		for _, a := range registered {
			known[a.Name] = true
		}
		for _, actor := range cfg.Root.Actors {
			if !known[actor.Typename] {
				return fmt.Errorf("unknown actor type %q",
					actor.Typename)
			}
		}

		fmt.Printf("%s: ok (%d actors across %d contexts)\n",
			args[0], len(cfg.Root.Actors), len(cfg.Contexts))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
