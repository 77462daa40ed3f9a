package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/contoso/sofia/pkg/agent"
	"github.com/contoso/sofia/pkg/foundry"
	"github.com/contoso/sofia/pkg/pizza"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the published Foundry agent",
	Long:  `Publish, inspect, and remove the hosted Sofia agent definition.`,
}

var agentPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish the agent definition",
	Long: `Assemble Sofia's definition (instructions, model deployment, file search
over the synced vector store, function tools, MCP wiring) and publish it
as a new version of the configured agent.`,
	RunE: runAgentPush,
}

var agentShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the published agent",
	RunE:  runAgentShow,
}

var agentDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the agent and all its versions",
	RunE:  runAgentDelete,
}

func init() {
	agentCmd.AddCommand(agentPushCmd)
	agentCmd.AddCommand(agentShowCmd)
	agentCmd.AddCommand(agentDeleteCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentPush(cmd *cobra.Command, args []string) error {
	logger := appLogger.GetZerolog()

	client, err := newFoundryClient(cfg, logger)
	if err != nil {
		return err
	}

	localTools, err := localToolDefinitions(logger)
	if err != nil {
		return err
	}

	def, err := agent.BuildDefinition(cfg, syncedVectorStoreID(logger), localTools)
	if err != nil {
		return fmt.Errorf("failed to build agent definition: %w", err)
	}

	published, err := agent.Push(cmd.Context(), client, cfg.Foundry.AgentName, def)
	if err != nil {
		return fmt.Errorf("failed to publish agent: %w", err)
	}

	cmd.Printf("Published %s version %s (model %s, %d tools)\n",
		published.Name, published.Version, def.Model, len(def.Tools))
	return nil
}

func runAgentShow(cmd *cobra.Command, args []string) error {
	logger := appLogger.GetZerolog()

	client, err := newFoundryClient(cfg, logger)
	if err != nil {
		return err
	}

	name := cfg.Foundry.AgentName
	remote, err := client.GetAgent(cmd.Context(), name)
	if foundry.IsNotFound(err) {
		return fmt.Errorf("agent %s is not published (run 'sofia agent push')", name)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch agent: %w", err)
	}

	cmd.Printf("Agent: %s (%s)\n", remote.Name, remote.ID)
	if remote.Description != "" {
		cmd.Printf("Description: %s\n", remote.Description)
	}

	versions, err := client.ListAgentVersions(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tMODEL\tTOOLS")
	for _, v := range versions {
		created := "-"
		if v.CreatedAt > 0 {
			created = time.Unix(v.CreatedAt, 0).Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", v.Version, created, v.Definition.Model, len(v.Definition.Tools))
	}
	return w.Flush()
}

func runAgentDelete(cmd *cobra.Command, args []string) error {
	logger := appLogger.GetZerolog()

	client, err := newFoundryClient(cfg, logger)
	if err != nil {
		return err
	}

	name := cfg.Foundry.AgentName
	if err := client.DeleteAgent(cmd.Context(), name); err != nil {
		if foundry.IsNotFound(err) {
			return fmt.Errorf("agent %s is not published", name)
		}
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	cmd.Printf("Agent %s deleted\n", name)
	return nil
}

// localToolDefinitions enumerates the pizza tools the published agent
// declares as function tools.
func localToolDefinitions(logger zerolog.Logger) ([]toolexecutor.ToolDefinition, error) {
	store, err := newOrderStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open order store: %w", err)
	}
	defer store.Close()

	executor := toolexecutor.New()
	if err := pizza.RegisterTools(executor, store); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return executor.Definitions(), nil
}

// syncedVectorStoreID reads the hosted vector store ID recorded by the
// last remote sync. Empty when the knowledge base is disabled or has
// never been mirrored; the definition then simply omits file search.
func syncedVectorStoreID(logger zerolog.Logger) string {
	if !cfg.KB.Enabled {
		return ""
	}
	manager, err := newKBManager(cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to open knowledge base, publishing without file search")
		return ""
	}
	defer manager.Close()
	return manager.VectorStoreID()
}
