package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opencirc/circ/internal/cli/output"
	"github.com/opencirc/circ/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the current circd configuration.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show default config as YAML
  circd config show

  # Show as JSON
  circd config show --output json

  # Show specific config file
  circd config show --config /etc/circ/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
