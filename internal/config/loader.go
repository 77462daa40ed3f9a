package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".sofia", "config.json")
	}

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Read environment variables
	v.SetEnvPrefix("SOFIA")
	v.AutomaticEnv()
	bindWorkshopEnv(v)

	cfg := DefaultConfig()

	// Missing file is fine; env and defaults still apply
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".sofia")
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "sofia.log")
	}

	// Set approval allowlist path if not specified
	if cfg.Tools.Approvals.AllowlistPath == "" {
		cfg.Tools.Approvals.AllowlistPath = filepath.Join(cfg.DataDir, "approvals.json")
	}

	// Set knowledge base and session directories if not specified
	if cfg.KB.Dir == "" {
		cfg.KB.Dir = filepath.Join(cfg.DataDir, "knowledge")
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")
	}

	return cfg, nil
}

// bindWorkshopEnv maps the Azure AI Foundry variables onto config keys.
// These are the unprefixed names the Foundry portal hands out.
func bindWorkshopEnv(v *viper.Viper) {
	v.BindEnv("foundry.project_endpoint", "AZURE_AI_FOUNDRY_PROJECT_ENDPOINT", "SOFIA_FOUNDRY_PROJECT_ENDPOINT")
	v.BindEnv("foundry.model_deployment", "AZURE_AI_FOUNDRY_MODEL_DEPLOYMENT_NAME", "SOFIA_FOUNDRY_MODEL_DEPLOYMENT")
	v.BindEnv("foundry.agent_name", "AZURE_AI_FOUNDRY_AGENT_NAME", "SOFIA_FOUNDRY_AGENT_NAME")
	v.BindEnv("foundry.api_key", "AZURE_AI_FOUNDRY_API_KEY", "SOFIA_FOUNDRY_API_KEY")
}

// applyEnvOverrides seeds provider profiles from conventional key variables
// when the config carries none for that provider.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if _, ok := cfg.Profile("openai"); !ok {
			cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
				ID:       "openai-env",
				Provider: "openai",
				APIKey:   key,
				Model:    "gpt-4o-mini",
			})
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if _, ok := cfg.Profile("anthropic"); !ok {
			cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
				ID:       "anthropic-env",
				Provider: "anthropic",
				APIKey:   key,
				Model:    "claude-sonnet-4-20250514",
			})
		}
	}
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".sofia", "config.json")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Set all config values (use canonical fields only)
	v.Set("foundry", cfg.Foundry)
	v.Set("ai", cfg.AI)
	v.Set("agent", cfg.Agent)
	v.Set("tools", cfg.Tools)
	v.Set("kb", cfg.KB)
	v.Set("server", cfg.Server)
	v.Set("sessions", cfg.Sessions)
	v.Set("maintenance", cfg.Maintenance)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	// Write config file
	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sofia", "config.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
