// File: cmd/boot.go
package cmd

import (
	"github.com/spf13/cobra"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot the nation: constitution, territories and genesis",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.kernel.Boot(cmd.Context()); err != nil {
			return err
		}
		genesis, err := rt.ledger.Genesis(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"constitution": rt.kernel.Constitution().Metadata,
			"backing":      rt.kernel.Backing(),
			"territories":  rt.kernel.GetTerritoryKeys(),
			"genesis":      genesis,
		})
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)
}
