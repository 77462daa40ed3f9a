package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base",
	Long:  `Sync and search the Contoso Pizza knowledge base.`,
}

var kbSyncRemote bool

var kbSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index the knowledge directory",
	Long: `Scan the knowledge directory and reindex changed documents into the
local search index. With --remote the documents are also mirrored into
the project's hosted vector store, which backs the published agent's
file search.`,
	RunE: runKBSync,
}

var kbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKBSearch,
}

func init() {
	kbSyncCmd.Flags().BoolVar(&kbSyncRemote, "remote", false, "also sync the hosted vector store")

	kbCmd.AddCommand(kbSyncCmd)
	kbCmd.AddCommand(kbSearchCmd)
	rootCmd.AddCommand(kbCmd)
}

func runKBSync(cmd *cobra.Command, args []string) error {
	if !cfg.KB.Enabled {
		return fmt.Errorf("knowledge base is disabled in config")
	}

	logger := appLogger.GetZerolog()
	manager, err := newKBManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open knowledge base: %w", err)
	}
	defer manager.Close()

	if err := manager.Sync(cmd.Context()); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	st := manager.GetStatus()
	cmd.Printf("Indexed %d documents (%d chunks)\n", st.Documents, st.Chunks)

	if !kbSyncRemote {
		return nil
	}

	client, err := newFoundryClient(cfg, logger)
	if err != nil {
		return err
	}
	result, err := manager.SyncRemote(cmd.Context(), client)
	if err != nil {
		return fmt.Errorf("remote sync failed: %w", err)
	}
	cmd.Printf("Vector store %s: %d uploaded, %d unchanged\n",
		result.VectorStoreID, result.Uploaded, result.Skipped)

	return nil
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	if !cfg.KB.Enabled {
		return fmt.Errorf("knowledge base is disabled in config")
	}

	logger := appLogger.GetZerolog()
	manager, err := newKBManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open knowledge base: %w", err)
	}
	defer manager.Close()

	query := strings.Join(args, " ")
	results, err := manager.Search(cmd.Context(), query, 5)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		cmd.Println("No matches.")
		return nil
	}

	for i, result := range results {
		cmd.Printf("%d. %s (score %.3f)\n", i+1, result.Path, result.Score)
		cmd.Printf("   %s\n", snippet(result.Content, 240))
	}
	return nil
}

// snippet collapses whitespace and trims content to one displayable
// excerpt.
func snippet(content string, max int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return content
}
