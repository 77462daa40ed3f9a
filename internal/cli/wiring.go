package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/pkg/foundry"
	"github.com/contoso/sofia/pkg/kb"
	"github.com/contoso/sofia/pkg/pizza"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

// ordersDBPath returns the SQLite path of the order store.
func ordersDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "orders.db")
}

// kbDBPath returns the SQLite path of the knowledge base index.
func kbDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "kb.db")
}

// newOrderStore opens the order store under the data directory.
func newOrderStore(cfg *config.Config, logger zerolog.Logger) (*pizza.OrderStore, error) {
	return pizza.NewOrderStore(ordersDBPath(cfg), logger)
}

// newFoundryClient builds a client for the configured Foundry project.
// A project API key wins when present; otherwise the default Azure
// credential chain authenticates (environment, managed identity, az
// login).
func newFoundryClient(cfg *config.Config, logger zerolog.Logger) (*foundry.Client, error) {
	if !cfg.HasFoundry() {
		return nil, fmt.Errorf("no Foundry project endpoint configured (run 'sofia configure' or set AZURE_AI_FOUNDRY_PROJECT_ENDPOINT)")
	}

	var cred foundry.Credential
	if cfg.Foundry.APIKey != "" {
		cred = foundry.APIKeyCredential(cfg.Foundry.APIKey)
	} else {
		entra, err := foundry.NewEntraCredential(cfg.Foundry.TokenScope)
		if err != nil {
			return nil, fmt.Errorf("failed to build azure credential: %w", err)
		}
		cred = entra
	}

	return foundry.NewClient(
		cfg.Foundry.ProjectEndpoint,
		cred,
		foundry.WithAPIVersion(cfg.Foundry.APIVersion),
		foundry.WithPolling(
			time.Duration(cfg.Foundry.PollIntervalMs)*time.Millisecond,
			time.Duration(cfg.Foundry.PollTimeoutSec)*time.Second,
		),
		foundry.WithLogger(logger),
	)
}

// newKBManager opens the local knowledge base index. The embedding
// provider comes from the openai profile when one is configured;
// without one search falls back to keywords.
func newKBManager(cfg *config.Config, logger zerolog.Logger) (*kb.Manager, error) {
	var provider kb.EmbeddingProvider
	if profile, ok := cfg.Profile("openai"); ok {
		provider = kb.NewOpenAIProvider(profile.APIKey, profile.BaseURL, cfg.KB.EmbeddingModel)
	}

	return kb.NewManager(kb.Config{
		Dir:               cfg.KB.Dir,
		DBPath:            kbDBPath(cfg),
		VectorStoreName:   cfg.KB.VectorStoreName,
		ChunkSize:         cfg.KB.ChunkSize,
		ChunkOverlap:      cfg.KB.ChunkOverlap,
		Logger:            logger,
		EmbeddingProvider: provider,
	})
}

// newApprovals wires the approval pipeline around the given handler,
// seeding the allowlist with the configured auto-approve tools.
func newApprovals(cfg *config.Config, handler toolexecutor.ApprovalHandler) *toolexecutor.ApprovalManager {
	am := toolexecutor.NewApprovalManager(handler)
	if cfg.Tools.Approvals.TimeoutSeconds > 0 {
		am.SetDefaultTimeout(time.Duration(cfg.Tools.Approvals.TimeoutSeconds) * time.Second)
	}

	allowlist, err := toolexecutor.NewAllowlistManager(cfg.Tools.Approvals.AllowlistPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load approval allowlist")
		return am
	}
	for _, name := range cfg.Tools.Approvals.AutoApprove {
		if err := allowlist.Add(toolexecutor.AllowlistEntry{
			Tool:    name,
			Reason:  "configured auto-approve",
			AddedAt: time.Now(),
		}); err != nil {
			log.Warn().Err(err).Str("tool", name).Msg("Failed to seed allowlist entry")
		}
	}
	am.SetAllowlist(allowlist)
	return am
}
