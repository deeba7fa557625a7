// File: cmd/agent.go
package cmd

import (
	"github.com/polislabs/polis/internal/agents"
	"github.com/spf13/cobra"
)

var agentTaskData map[string]string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Spawn, inspect and task agents",
}

var agentSpawnCmd = &cobra.Command{
	Use:   "spawn <type> [soul-id]",
	Short: "Spawn an agent of a registered type",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		soulID := ""
		if len(args) == 2 {
			soulID = args[1]
		}
		agent, err := rt.factory.SpawnAgent(cmd.Context(), args[0], soulID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"id":           agent.ID(),
			"type":         agent.Type(),
			"state":        agent.State(),
			"capabilities": agent.Capabilities(),
		})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List the persisted agent index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}
		records, err := rt.factory.ListAgents(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status <agent-id>",
	Short: "Show an agent's soul, credits and attestation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		ctx := cmd.Context()

		s, err := rt.souls.Load(ctx, args[0])
		if err != nil {
			return err
		}
		att, err := rt.attestor.AttestIdentity(ctx, args[0])
		if err != nil {
			return err
		}
		out := map[string]any{"soul": s, "attestation": att}
		if rec, err := rt.ledger.GetCitizen(ctx, args[0]); err == nil {
			out["citizen"] = rec
		}
		return printJSON(out)
	},
}

var agentTaskCmd = &cobra.Command{
	Use:   "task <task-type> [agent-id]",
	Short: "Assign one task, optionally to a named agent",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		agentID := ""
		if len(args) == 2 {
			agentID = args[1]
		}
		data := map[string]any{}
		for key, value := range agentTaskData {
			data[key] = value
		}
		result, err := rt.factory.AssignTask(cmd.Context(), agents.Task{Type: args[0], Data: data}, agentID)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	agentTaskCmd.Flags().StringToStringVar(&agentTaskData, "data", nil, "task data as key=value pairs")
	agentCmd.AddCommand(agentSpawnCmd, agentListCmd, agentStatusCmd, agentTaskCmd)
	rootCmd.AddCommand(agentCmd)
}
