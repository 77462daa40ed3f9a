package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/pkg/foundry"
	"github.com/contoso/sofia/pkg/pizza"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Sofia status",
	Long: `Show the configured Foundry project, the published agent version, and
the state of the local knowledge base and order store.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := appLogger.GetZerolog()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Config\t%s\n", config.NewLoader(cfgFile).GetConfigPath())
	fmt.Fprintf(w, "Data dir\t%s\n", cfg.DataDir)

	printFoundryStatus(cmd.Context(), w, logger)
	printKBStatus(w, logger)
	printOrderStatus(cmd.Context(), w, logger)

	return nil
}

// printFoundryStatus probes the project with a bounded GetAgent call:
// one round trip answers both reachability and the published version.
func printFoundryStatus(ctx context.Context, w io.Writer, logger zerolog.Logger) {
	if !cfg.HasFoundry() {
		fmt.Fprintf(w, "Foundry\tnot configured\n")
		return
	}

	fmt.Fprintf(w, "Endpoint\t%s\n", cfg.Foundry.ProjectEndpoint)
	fmt.Fprintf(w, "Deployment\t%s\n", cfg.Foundry.ModelDeployment)

	client, err := newFoundryClient(cfg, logger)
	if err != nil {
		fmt.Fprintf(w, "Foundry\tunreachable (%v)\n", err)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	remote, err := client.GetAgent(checkCtx, cfg.Foundry.AgentName)
	switch {
	case err == nil:
		fmt.Fprintf(w, "Foundry\treachable\n")
		agentVersion := "-"
		if remote.Latest != nil {
			agentVersion = remote.Latest.Version
		}
		fmt.Fprintf(w, "Agent\t%s (version %s)\n", remote.Name, agentVersion)
	case foundry.IsNotFound(err):
		fmt.Fprintf(w, "Foundry\treachable\n")
		fmt.Fprintf(w, "Agent\t%s not published (run 'sofia agent push')\n", cfg.Foundry.AgentName)
	default:
		fmt.Fprintf(w, "Foundry\tunreachable (%v)\n", err)
	}
}

func printKBStatus(w io.Writer, logger zerolog.Logger) {
	if !cfg.KB.Enabled {
		fmt.Fprintf(w, "Knowledge base\tdisabled\n")
		return
	}

	manager, err := newKBManager(cfg, logger)
	if err != nil {
		fmt.Fprintf(w, "Knowledge base\terror (%v)\n", err)
		return
	}
	defer manager.Close()

	st := manager.GetStatus()
	line := fmt.Sprintf("%d documents, %d chunks", st.Documents, st.Chunks)
	if st.LastSync != nil {
		line += fmt.Sprintf(", synced %s ago", formatDuration(time.Since(*st.LastSync)))
	}
	fmt.Fprintf(w, "Knowledge base\t%s\n", line)
	if st.VectorStoreID != "" {
		fmt.Fprintf(w, "Vector store\t%s\n", st.VectorStoreID)
	}
}

func printOrderStatus(ctx context.Context, w io.Writer, logger zerolog.Logger) {
	store, err := newOrderStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(w, "Orders\terror (%v)\n", err)
		return
	}
	defer store.Close()

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		fmt.Fprintf(w, "Orders\terror (%v)\n", err)
		return
	}
	fmt.Fprintf(w, "Orders\t%s\n", orderSummary(counts))
}

// orderSummary renders per-status counts in lifecycle order.
func orderSummary(counts map[string]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return "none"
	}

	var parts []string
	for _, status := range []string{
		pizza.StatusReceived,
		pizza.StatusPreparing,
		pizza.StatusBaking,
		pizza.StatusOutForDelivery,
		pizza.StatusDelivered,
		pizza.StatusCancelled,
	} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	return fmt.Sprintf("%d total (%s)", total, strings.Join(parts, ", "))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
