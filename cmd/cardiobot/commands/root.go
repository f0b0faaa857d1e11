// Package commands defines all Cobra CLI commands for the cardiobot binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/avelkov/cardiobot/internal/audit"
	"github.com/avelkov/cardiobot/internal/config"
	"github.com/avelkov/cardiobot/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cardiobot",
		Short: "Cardiobot — a cardiology handbook assistant powered by RAG",
		Long: `Cardiobot answers questions about cardiovascular medicine, grounded in a
cardiology handbook indexed into a Qdrant vector store.

It ingests handbook PDFs, retrieves the most relevant sections for each
question, and generates cited answers through a Telegram bot, an HTTP API,
or a one-shot CLI question.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.cardiobot/config.yaml).
See 'cardiobot --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.cardiobot/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewBotCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
