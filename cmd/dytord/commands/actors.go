package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scaredginger/dytor"
)

var actorsCmd = &cobra.Command{
	Use:   "actors",
	Short: "List the actor types registered in this binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actors, err := dytor.RegisteredActors()
		if err != nil {
			return err
		}
		if len(actors) == 0 {
			fmt.Println("no actor types registered")
			return nil
		}

		for _, a := range actors {
			line := fmt.Sprintf("%-24s %s", a.Name, a.Type)
			if len(a.Interfaces) > 0 {
				line += " (implements " +
					strings.Join(a.Interfaces, ", ") + ")"
			}
			fmt.Println(line)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(actorsCmd)
}
