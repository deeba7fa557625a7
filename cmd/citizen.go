// File: cmd/citizen.go
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var citizenCmd = &cobra.Command{
	Use:   "citizen",
	Short: "Manage citizens and their credits",
}

var citizenRegisterCmd = &cobra.Command{
	Use:   "register <citizen-id>",
	Short: "Register a citizen at the starting balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		rec, err := rt.ledger.UpsertCitizen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var citizenBalanceCmd = &cobra.Command{
	Use:   "balance <citizen-id>",
	Short: "Show a citizen's balance, level and transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		rec, err := rt.ledger.GetCitizen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var citizenEarnCmd = &cobra.Command{
	Use:   "earn <citizen-id> <amount> [source]",
	Short: "Credit a citizen",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		source := "cli"
		if len(args) == 3 {
			source = args[2]
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		balance, err := rt.ledger.Earn(cmd.Context(), args[0], amount, source)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"citizenId": args[0], "balance": balance})
	},
}

var citizenSpendCmd = &cobra.Command{
	Use:   "spend <citizen-id> <amount> [purpose]",
	Short: "Debit a citizen; insufficient funds is reported, not an error",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		purpose := "cli"
		if len(args) == 3 {
			purpose = args[2]
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		ok, err := rt.ledger.Spend(cmd.Context(), args[0], amount, purpose)
		if err != nil {
			return err
		}
		balance, err := rt.ledger.GetBalance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"citizenId": args[0], "accepted": ok, "balance": balance})
	},
}

func init() {
	citizenCmd.AddCommand(citizenRegisterCmd, citizenBalanceCmd, citizenEarnCmd, citizenSpendCmd)
	rootCmd.AddCommand(citizenCmd)
}
