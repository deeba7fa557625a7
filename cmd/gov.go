// File: cmd/gov.go
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var govCmd = &cobra.Command{
	Use:   "gov",
	Short: "Propose, vote and tally",
}

var govProposeCmd = &cobra.Command{
	Use:   "propose <proposer-id> <title> [description...]",
	Short: "Submit a proposal",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		proposal, err := rt.governance.SubmitProposal(
			cmd.Context(), args[0], args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		return printJSON(proposal)
	},
}

var govVoteCmd = &cobra.Command{
	Use:   "vote <proposal-id> <citizen-id> <approve|reject|abstain>",
	Short: "Cast or replace a weighted ballot",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		vote, err := rt.governance.CastVote(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(vote)
	},
}

var govTallyCmd = &cobra.Command{
	Use:   "tally <proposal-id>",
	Short: "Close a proposal and report the outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		outcome, err := rt.governance.Tally(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(outcome)
	},
}

var govListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		proposals, err := rt.governance.ListProposals(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(proposals)
	},
}

func init() {
	govCmd.AddCommand(govProposeCmd, govVoteCmd, govTallyCmd, govListCmd)
	rootCmd.AddCommand(govCmd)
}
