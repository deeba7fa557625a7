// File: cmd/territory.go
package cmd

import (
	"github.com/spf13/cobra"
)

var territoryCmd = &cobra.Command{
	Use:   "territory",
	Short: "Inspect and reload territories",
}

var territoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded territories and their service menus",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.kernel.Boot(cmd.Context()); err != nil {
			return err
		}

		out := map[string]any{}
		for _, slug := range rt.kernel.GetTerritoryKeys() {
			territory, err := rt.kernel.GetTerritory(slug)
			if err != nil {
				return err
			}
			out[slug] = territory
		}
		return printJSON(out)
	},
}

var territoryReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-discover territory specs (metamorphosis)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.kernel.Boot(cmd.Context()); err != nil {
			return err
		}

		slugs, err := rt.kernel.ReloadTerritories(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"territories": slugs})
	},
}

var territoryRequestData map[string]string

var territoryRequestCmd = &cobra.Command{
	Use:   "request <territory> <service> <citizen-id>",
	Short: "Pay for and execute a territory service",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.kernel.Boot(cmd.Context()); err != nil {
			return err
		}

		params := map[string]any{}
		for key, value := range territoryRequestData {
			params[key] = value
		}
		result, err := rt.kernel.RequestService(cmd.Context(), args[0], args[1], args[2], params)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	territoryRequestCmd.Flags().StringToStringVar(&territoryRequestData, "data", nil, "service parameters as key=value pairs")
	territoryCmd.AddCommand(territoryListCmd, territoryReloadCmd, territoryRequestCmd)
	rootCmd.AddCommand(territoryCmd)
}
