package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Config represents the main Sofia configuration
type Config struct {
	// Azure AI Foundry project
	Foundry FoundryConfig `json:"foundry" mapstructure:"foundry"`

	// Direct provider profiles (used by chat --direct and embeddings)
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Hosted agent definition settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Knowledge base
	KB KBConfig `json:"kb" mapstructure:"kb"`

	// HTTP/MCP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Session transcripts
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Background maintenance
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// FoundryConfig holds Azure AI Foundry project settings
type FoundryConfig struct {
	ProjectEndpoint string `json:"project_endpoint" mapstructure:"project_endpoint"`
	APIVersion      string `json:"api_version" mapstructure:"api_version"`
	ModelDeployment string `json:"model_deployment" mapstructure:"model_deployment"`
	AgentName       string `json:"agent_name" mapstructure:"agent_name"`
	TokenScope      string `json:"token_scope" mapstructure:"token_scope"`
	APIKey          string `json:"api_key" mapstructure:"api_key"` // key auth fallback; Entra ID is the default
	PollIntervalMs  int    `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	PollTimeoutSec  int    `json:"poll_timeout_seconds" mapstructure:"poll_timeout_seconds"`
}

// AIConfig holds direct AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID        string `json:"id" mapstructure:"id"`
	Provider  string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	Model     string `json:"model" mapstructure:"model"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds the hosted agent definition settings
type AgentConfig struct {
	InstructionsFile string  `json:"instructions_file" mapstructure:"instructions_file"`
	Temperature      float64 `json:"temperature" mapstructure:"temperature"`
	TopP             float64 `json:"top_p" mapstructure:"top_p"`
	MaxTurns         int     `json:"max_turns" mapstructure:"max_turns"`
	RequireApproval  string  `json:"require_approval" mapstructure:"require_approval"` // always, never
}

// ToolsConfig holds tool execution configuration
type ToolsConfig struct {
	TimeoutSeconds int             `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxOutputKB    int             `json:"max_output_kb" mapstructure:"max_output_kb"`
	Approvals      ApprovalsConfig `json:"approvals" mapstructure:"approvals"`
}

// ApprovalsConfig holds tool approval settings
type ApprovalsConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	AllowlistPath  string   `json:"allowlist_path" mapstructure:"allowlist_path"`
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	AutoApprove    []string `json:"auto_approve" mapstructure:"auto_approve"`
}

// KBConfig holds knowledge base configuration
type KBConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	Dir             string `json:"dir" mapstructure:"dir"`
	VectorStoreName string `json:"vector_store_name" mapstructure:"vector_store_name"`
	EmbeddingModel  string `json:"embedding_model" mapstructure:"embedding_model"`
	ChunkSize       int    `json:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap    int    `json:"chunk_overlap" mapstructure:"chunk_overlap"`
	Watch           bool   `json:"watch" mapstructure:"watch"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	TimeoutSeconds     int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	MCPEnabled         bool   `json:"mcp_enabled" mapstructure:"mcp_enabled"`
	FeedEnabled        bool   `json:"feed_enabled" mapstructure:"feed_enabled"`
}

// SessionsConfig holds session transcript configuration
type SessionsConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	MaxEntries int    `json:"max_entries" mapstructure:"max_entries"`
}

// MaintenanceConfig holds background maintenance schedules.
// Schedules accept "at HH:MM", "every <duration>", or a 5-field cron line.
type MaintenanceConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	KBRefresh      string `json:"kb_refresh" mapstructure:"kb_refresh"`
	SessionCleanup string `json:"session_cleanup" mapstructure:"session_cleanup"`
	OrderPrune     string `json:"order_prune" mapstructure:"order_prune"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Foundry: FoundryConfig{
			APIVersion:     "2025-05-15-preview",
			AgentName:      "sofia-pizza-agent",
			TokenScope:     "https://ai.azure.com/.default",
			PollIntervalMs: 750,
			PollTimeoutSec: 120,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Agent: AgentConfig{
			Temperature:     0.7,
			TopP:            0.7,
			MaxTurns:        10,
			RequireApproval: "always",
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
			MaxOutputKB:    10,
			Approvals: ApprovalsConfig{
				Enabled:        true,
				TimeoutSeconds: 60,
			},
		},
		KB: KBConfig{
			Enabled:         true,
			VectorStoreName: "agentcon-pizza-vector-store",
			EmbeddingModel:  "text-embedding-3-small",
			ChunkSize:       1000,
			ChunkOverlap:    200,
			Watch:           false,
		},
		Server: ServerConfig{
			Enabled:            false,
			Host:               "0.0.0.0",
			Port:               8000,
			TimeoutSeconds:     30,
			RateLimitPerMinute: 60,
			MCPEnabled:         true,
			FeedEnabled:        true,
		},
		Sessions: SessionsConfig{
			MaxAgeDays: 7,
			MaxEntries: 500,
		},
		Maintenance: MaintenanceConfig{
			Enabled:        true,
			KBRefresh:      "every 6h",
			SessionCleanup: "at 03:30",
			OrderPrune:     "every 24h",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// HasFoundry reports whether a Foundry project endpoint is configured
func (c *Config) HasFoundry() bool {
	return strings.TrimSpace(c.Foundry.ProjectEndpoint) != ""
}

// Profile returns the first profile for the given provider, or the first
// profile overall when provider is empty
func (c *Config) Profile(provider string) (AIProfile, bool) {
	for _, p := range c.AI.Profiles {
		if provider == "" || p.Provider == provider {
			return p, true
		}
	}
	return AIProfile{}, false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Foundry endpoint must be a well-formed https URL when set
	if c.HasFoundry() {
		u, err := url.Parse(c.Foundry.ProjectEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("foundry project_endpoint is not a valid URL: %s", c.Foundry.ProjectEndpoint)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("foundry project_endpoint must use http(s), got %s", u.Scheme)
		}
		if c.Foundry.AgentName == "" {
			return fmt.Errorf("foundry agent_name is required when a project endpoint is set")
		}
	}

	// Validate AI profiles
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		validProviders := []string{"anthropic", "openai"}
		valid := false
		for _, vp := range validProviders {
			if profile.Provider == vp {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Model == "" {
			return fmt.Errorf("AI profile %s: model is required", profile.ID)
		}
	}

	// Agent settings
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		return fmt.Errorf("agent temperature must be between 0 and 2, got %g", c.Agent.Temperature)
	}
	if c.Agent.TopP < 0 || c.Agent.TopP > 1 {
		return fmt.Errorf("agent top_p must be between 0 and 1, got %g", c.Agent.TopP)
	}
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("agent max_turns must be at least 1, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.RequireApproval != "" && c.Agent.RequireApproval != "always" && c.Agent.RequireApproval != "never" {
		return fmt.Errorf("agent require_approval must be always or never, got %s", c.Agent.RequireApproval)
	}

	// Server settings
	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
		}
	}

	// Maintenance schedules
	if c.Maintenance.Enabled {
		for name, schedule := range map[string]string{
			"kb_refresh":      c.Maintenance.KBRefresh,
			"session_cleanup": c.Maintenance.SessionCleanup,
			"order_prune":     c.Maintenance.OrderPrune,
		} {
			if schedule == "" {
				continue
			}
			if err := validateSchedule(schedule); err != nil {
				return fmt.Errorf("maintenance %s: %w", name, err)
			}
		}
	}

	return nil
}
