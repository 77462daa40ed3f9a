package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateEndpoint validates a Foundry project endpoint URL
func (v *Validator) ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("project endpoint cannot be empty")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid project endpoint: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("project endpoint must use http(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("project endpoint has no host: %s", endpoint)
	}

	return nil
}

// ValidateAgentName validates a Foundry agent name
func (v *Validator) ValidateAgentName(name string) error {
	if name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("agent name may only contain letters, digits, hyphens and underscores: %q", name)
	}
	return nil
}

// ValidateTemperature validates a sampling temperature
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateTopP validates a nucleus sampling value
func (v *Validator) ValidateTopP(topP float64) error {
	if topP < 0 || topP > 1 {
		return fmt.Errorf("top_p must be between 0 and 1, got %g", topP)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateRequireApproval validates an MCP approval mode
func (v *Validator) ValidateRequireApproval(mode string) error {
	if mode == "" {
		return nil // Use default
	}

	validModes := []string{"always", "never"}
	for _, valid := range validModes {
		if mode == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid require_approval: %s (must be one of: %s)", mode, strings.Join(validModes, ", "))
}

// validateSchedule checks a maintenance schedule string.
// Accepted forms: "at HH:MM", "every <duration>", or 5 cron fields.
func validateSchedule(schedule string) error {
	s := strings.TrimSpace(schedule)
	switch {
	case strings.HasPrefix(s, "at "):
		spec := strings.TrimSpace(strings.TrimPrefix(s, "at "))
		if _, err := time.Parse("15:04", spec); err != nil {
			return fmt.Errorf("invalid time in %q (want at HH:MM)", schedule)
		}
	case strings.HasPrefix(s, "every "):
		spec := strings.TrimSpace(strings.TrimPrefix(s, "every "))
		d, err := time.ParseDuration(spec)
		if err != nil {
			return fmt.Errorf("invalid duration in %q: %w", schedule, err)
		}
		if d < time.Minute {
			return fmt.Errorf("schedule interval %q is below one minute", schedule)
		}
	default:
		if len(strings.Fields(s)) != 5 {
			return fmt.Errorf("invalid schedule %q (want at HH:MM, every <duration>, or 5 cron fields)", schedule)
		}
	}
	return nil
}

// ValidateSchedule validates a maintenance schedule string
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil // Job disabled
	}
	return validateSchedule(schedule)
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate Foundry settings when configured
	if cfg.HasFoundry() {
		if err := v.ValidateEndpoint(cfg.Foundry.ProjectEndpoint); err != nil {
			errors = append(errors, err)
		}
		if err := v.ValidateAgentName(cfg.Foundry.AgentName); err != nil {
			errors = append(errors, err)
		}
		if cfg.Foundry.ModelDeployment == "" {
			errors = append(errors, fmt.Errorf("foundry model_deployment is required to push an agent"))
		}
	}

	// Validate AI profiles (canonical source)
	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	// Agent settings
	if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTopP(cfg.Agent.TopP); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateRequireApproval(cfg.Agent.RequireApproval); err != nil {
		errors = append(errors, err)
	}

	// Tool settings
	if cfg.Tools.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("tools.timeout_seconds must be >= 0"))
	}
	if cfg.Tools.Approvals.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("tools.approvals.timeout_seconds must be >= 0"))
	}

	// KB settings
	if cfg.KB.Enabled {
		if cfg.KB.ChunkSize <= 0 {
			errors = append(errors, fmt.Errorf("kb.chunk_size must be positive"))
		}
		if cfg.KB.ChunkOverlap < 0 || cfg.KB.ChunkOverlap >= cfg.KB.ChunkSize {
			errors = append(errors, fmt.Errorf("kb.chunk_overlap must be >= 0 and smaller than chunk_size"))
		}
	}

	// Server settings
	if cfg.Server.Enabled {
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			errors = append(errors, fmt.Errorf("server.port must be between 1 and 65535"))
		}
		if cfg.Server.RateLimitPerMinute < 0 {
			errors = append(errors, fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
		}
	}

	// Maintenance schedules
	for name, schedule := range map[string]string{
		"kb_refresh":      cfg.Maintenance.KBRefresh,
		"session_cleanup": cfg.Maintenance.SessionCleanup,
		"order_prune":     cfg.Maintenance.OrderPrune,
	} {
		if err := v.ValidateSchedule(schedule); err != nil {
			errors = append(errors, fmt.Errorf("maintenance %s: %w", name, err))
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
