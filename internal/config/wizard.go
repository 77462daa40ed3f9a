package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Sofia Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Foundry project
	fmt.Println("Azure AI Foundry project:")
	fmt.Println()

	for {
		fmt.Print("Project endpoint (https://...): ")
		endpoint, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if endpoint == "" {
			fmt.Println("Skipping Foundry setup; chat will need --direct with a provider profile.")
			break
		}

		if err := validator.ValidateEndpoint(endpoint); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Foundry.ProjectEndpoint = endpoint
		break
	}

	if cfg.HasFoundry() {
		for {
			fmt.Print("Model deployment name (e.g. gpt-4o-mini): ")
			deployment, err := w.readLine()
			if err != nil {
				return nil, err
			}

			if deployment == "" {
				fmt.Println("Error: model deployment is required")
				continue
			}

			cfg.Foundry.ModelDeployment = deployment
			break
		}

		fmt.Printf("Agent name [%s]: ", cfg.Foundry.AgentName)
		name, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if name != "" {
			if err := validator.ValidateAgentName(name); err != nil {
				fmt.Printf("Warning: %v, using default (%s)\n", err, cfg.Foundry.AgentName)
			} else {
				cfg.Foundry.AgentName = name
			}
		}
	}

	fmt.Println()

	// Provider profile for embeddings and --direct chat
	fmt.Println("Provider profile (optional, used for embeddings and direct chat):")
	for {
		fmt.Print("OpenAI API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			break
		}

		if err := validator.ValidateAPIKey(key, "openai"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       "openai",
			Provider: "openai",
			APIKey:   key,
			Model:    "gpt-4o-mini",
		})
		break
	}

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
