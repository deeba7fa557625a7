// File: cmd/soul.go
package cmd

import (
	"github.com/spf13/cobra"
)

var soulCmd = &cobra.Command{
	Use:   "soul",
	Short: "Soul store maintenance",
}

var soulMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move legacy soul documents to their canonical keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		migrated, err := rt.souls.MigrateLegacySouls(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"migrated": migrated})
	},
}

var soulPruneCmd = &cobra.Command{
	Use:   "prune-facts",
	Short: "Remove facts older than the configured TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		pruned, err := rt.souls.PruneExpired(cmd.Context(), cfg.AgentsCfg.FactTTL)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"pruned": pruned})
	},
}

var soulSessionCmd = &cobra.Command{
	Use:   "session <agent-id>",
	Short: "Start a collaborator session for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		session, err := rt.bridge.StartSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(session)
	},
}

func init() {
	soulCmd.AddCommand(soulMigrateCmd, soulPruneCmd, soulSessionCmd)
	rootCmd.AddCommand(soulCmd)
}
