package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/internal/logger"
	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/internal/tracing"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string

	cfg            *config.Config
	appLogger      *logger.Logger
	tracingEnabled bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sofia",
	Short: "Sofia - Contoso Pizza ordering assistant",
	Long: `Sofia is the Contoso Pizza ordering assistant, published as an Azure AI
Foundry agent. It answers menu questions from a knowledge base, works out
how many pizzas an order needs, and places orders through approval-gated
tools.`,
	Version:           version,
	PersistentPreRunE: initRuntime,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	defer func() {
		if tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
		}
		if appLogger != nil {
			appLogger.Close()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sofia/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// initRuntime loads the configuration and installs the logger before any
// subcommand runs. The chat REPL and the configure wizard own stdout, so
// their logs go to the file only; every other command also logs to the
// console.
func initRuntime(cmd *cobra.Command, args []string) error {
	// Printing the version should never fail on a broken config.
	if cmd.Name() == "version" {
		return nil
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	console := cmd.Name() != "chat" && cmd.Name() != "configure"
	appLogger, err = logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    console,
		Redaction: cfg.Logging.Redaction,
		MaxSizeMB: cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := tracing.InitOpenTelemetry("sofia"); err != nil {
		appLogger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		tracingEnabled = true
	}

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		appLogger.Warn().Err(err).Msg("Failed to open audit log, auditing to stderr")
	}

	return nil
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
