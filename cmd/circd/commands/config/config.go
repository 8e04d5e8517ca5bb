// Package config implements the "circd config" subcommands.
package config

import "github.com/spf13/cobra"

// Cmd is the parent "config" command.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and document configuration",
	Long: `Inspect the active configuration or generate its JSON schema.

Use "circd config [command] --help" for more information about a command.`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
}
