package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/internal/observability"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up Sofia.
The wizard will guide you through the Azure AI Foundry project endpoint,
the model deployment, and an optional provider profile for embeddings
and direct chat.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	// Create wizard
	wizard := config.NewWizard()

	// Run wizard
	cfg, err := wizard.Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Save configuration
	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	configPath := loader.GetConfigPath()
	observability.RecordConfigAudit(cmd.Context(), "config_save", "cli", map[string]interface{}{
		"path": configPath,
	})

	fmt.Printf("\nConfiguration saved to: %s\n", configPath)
	fmt.Println("\nYou can now talk to Sofia with: sofia chat")

	return nil
}
