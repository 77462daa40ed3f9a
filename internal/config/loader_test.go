package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "sofia-pizza-agent", cfg.Foundry.AgentName)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		// Create a test config file
		testConfig := `{
			"foundry": {
				"project_endpoint": "https://myproject.services.ai.azure.com/api/projects/pizza",
				"model_deployment": "gpt-4o-mini",
				"agent_name": "sofia-test"
			},
			"agent": {
				"temperature": 0.5
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "https://myproject.services.ai.azure.com/api/projects/pizza", cfg.Foundry.ProjectEndpoint)
		assert.Equal(t, "gpt-4o-mini", cfg.Foundry.ModelDeployment)
		assert.Equal(t, "sofia-test", cfg.Foundry.AgentName)
		assert.Equal(t, 0.5, cfg.Agent.Temperature)
	})

	t.Run("workshop env vars override file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"foundry": {
				"project_endpoint": "https://from-file.example.com",
				"agent_name": "from-file"
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		t.Setenv("AZURE_AI_FOUNDRY_PROJECT_ENDPOINT", "https://from-env.services.ai.azure.com/api/projects/pizza")
		t.Setenv("AZURE_AI_FOUNDRY_MODEL_DEPLOYMENT_NAME", "gpt-4o")
		t.Setenv("AZURE_AI_FOUNDRY_AGENT_NAME", "sofia-env")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "https://from-env.services.ai.azure.com/api/projects/pizza", cfg.Foundry.ProjectEndpoint)
		assert.Equal(t, "gpt-4o", cfg.Foundry.ModelDeployment)
		assert.Equal(t, "sofia-env", cfg.Foundry.AgentName)
	})

	t.Run("seeds openai profile from env key", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		t.Setenv("OPENAI_API_KEY", "sk-env-test123")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		p, ok := cfg.Profile("openai")
		assert.True(t, ok)
		assert.Equal(t, "sk-env-test123", p.APIKey)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"logging": {"level": "debug"}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
		assert.NotEmpty(t, cfg.Tools.Approvals.AllowlistPath)
		assert.NotEmpty(t, cfg.KB.Dir)
		assert.NotEmpty(t, cfg.Sessions.Dir)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		cfg := DefaultConfig()
		cfg.Foundry.ProjectEndpoint = "https://myproject.services.ai.azure.com/api/projects/pizza"
		cfg.Foundry.ModelDeployment = "gpt-4o-mini"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify file was created
		_, err = os.Stat(configPath)
		assert.NoError(t, err)

		// Load and verify
		loader2 := NewLoader(configPath)
		loadedCfg, err := loader2.Load()
		require.NoError(t, err)
		assert.Equal(t, cfg.Foundry.ProjectEndpoint, loadedCfg.Foundry.ProjectEndpoint)
		assert.Equal(t, "gpt-4o-mini", loadedCfg.Foundry.ModelDeployment)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		cfg := DefaultConfig()

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify directory was created
		_, err = os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		path := loader.GetConfigPath()
		assert.Equal(t, "/custom/path/config.json", path)
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".sofia")
	})
}
