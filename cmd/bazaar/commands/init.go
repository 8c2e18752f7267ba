package commands

import (
	"errors"

	"github.com/dyluth/bazaar/internal/printer"
	"github.com/dyluth/bazaar/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter bazaar.yml",
	Long: `Write a bazaar.yml with every setting at its default value.

Use --force to overwrite an existing bazaar.yml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing bazaar.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write bazaar.yml into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := scaffold.Initialize(initDir, forceInit)
	if err != nil {
		if errors.Is(err, scaffold.ErrAlreadyInitialized) {
			return printer.Error(
				"project already initialized",
				err.Error(),
				[]string{"Reinitialize (overwrites the existing configuration):\n  bazaar init --force"},
			)
		}
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Wrote %s\n", path)
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Set factory.account_id and factory.initial_balance\n")
	printer.Info("  2. Provision a marketplace:\n     bazaar provision --owner <account> --prefix <prefix> --name <name> --symbol <symbol>\n")
	return nil
}
