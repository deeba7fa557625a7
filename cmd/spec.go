// File: cmd/spec.go
package cmd

import (
	"github.com/spf13/cobra"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Parse specification documents and inspect their history",
}

var specParseCmd = &cobra.Command{
	Use:   "parse <path>",
	Short: "Parse and validate one spec, recording any content change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		parsed, err := rt.interp.ParseSpec(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(parsed)
	},
}

var specCompileCmd = &cobra.Command{
	Use:   "compile <path>",
	Short: "Compile a spec into tasks, validators and hooks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		parsed, err := rt.interp.ParseSpec(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(rt.interp.ToExecutable(parsed))
	},
}

var specChangelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Show the recorded spec change history",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		entries, err := rt.interp.Changelog(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

func init() {
	specCmd.AddCommand(specParseCmd, specCompileCmd, specChangelogCmd)
	rootCmd.AddCommand(specCmd)
}
