package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/opencirc/circ/internal/cli/output"
	"github.com/opencirc/circ/pkg/config"
	"github.com/opencirc/circ/pkg/store"
)

var librariesOutput string

var librariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List configured libraries",
	Long: `List the libraries configured in the entity store.

Examples:
  # List libraries as a table
  circd libraries

  # List libraries as JSON
  circd libraries --output json`,
	RunE: runLibraries,
}

func init() {
	librariesCmd.Flags().StringVarP(&librariesOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// openStore loads the configuration and opens the entity store for a
// one-shot CLI command.
func openStore() (store.Store, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity store: %w", err)
	}
	return st, nil
}

func runLibraries(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(librariesOutput)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	libraries, err := st.ListLibraries(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list libraries: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, libraries)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, libraries)
	default:
		table := output.NewTableData("SHORT NAME", "NAME", "LOAN LIMIT", "HOLD LIMIT", "HOLDS")
		for _, library := range libraries {
			table.AddRow(
				library.ShortName,
				library.Name,
				formatLimit(library.LoanLimit),
				formatLimit(library.HoldLimit),
				strconv.FormatBool(library.AllowHolds),
			)
		}
		return output.PrintTable(os.Stdout, table)
	}
}

// formatLimit renders a circulation limit, where zero means unlimited.
func formatLimit(limit int) string {
	if limit == 0 {
		return "unlimited"
	}
	return strconv.Itoa(limit)
}
