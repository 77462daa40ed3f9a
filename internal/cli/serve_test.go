package cli

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/pkg/pizza"
)

func TestServeCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()

		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == "serve" {
				found = true
				break
			}
		}
		assert.True(t, found, "serve command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"serve", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "MCP endpoint")
		assert.Contains(t, helpText, "WebSocket feed")
	})
}

func TestStartMaintenance(t *testing.T) {
	restore := cfg
	defer func() { cfg = restore }()

	logger := zerolog.New(io.Discard)

	newTestStore := func(t *testing.T) *pizza.OrderStore {
		store, err := pizza.NewOrderStore(filepath.Join(t.TempDir(), "orders.db"), logger)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}

	t.Run("should stay off when disabled", func(t *testing.T) {
		cfg = &config.Config{}
		assert.Nil(t, startMaintenance(logger, nil, nil))
	})

	t.Run("should register the configured jobs", func(t *testing.T) {
		cfg = &config.Config{DataDir: t.TempDir()}
		cfg.Maintenance.Enabled = true
		cfg.Maintenance.KBRefresh = "every 6h"
		cfg.Maintenance.SessionCleanup = "at 03:30"
		cfg.Maintenance.OrderPrune = "every 24h"
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")

		service := startMaintenance(logger, newTestStore(t), nil)
		require.NotNil(t, service)
		t.Cleanup(service.Stop)

		// kb_refresh stays off without a knowledge base manager.
		jobs := service.Jobs()
		names := make([]string, 0, len(jobs))
		for _, job := range jobs {
			names = append(names, job.Name)
		}
		assert.Equal(t, []string{"session_cleanup", "order_prune"}, names)
	})

	t.Run("should skip jobs with empty schedules", func(t *testing.T) {
		cfg = &config.Config{DataDir: t.TempDir()}
		cfg.Maintenance.Enabled = true
		cfg.Maintenance.OrderPrune = "every 24h"
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")

		service := startMaintenance(logger, newTestStore(t), nil)
		require.NotNil(t, service)
		t.Cleanup(service.Stop)

		jobs := service.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, "order_prune", jobs[0].Name)
	})

	t.Run("should skip jobs with invalid schedules", func(t *testing.T) {
		cfg = &config.Config{DataDir: t.TempDir()}
		cfg.Maintenance.Enabled = true
		cfg.Maintenance.SessionCleanup = "whenever"
		cfg.Maintenance.OrderPrune = "every 24h"
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")

		service := startMaintenance(logger, newTestStore(t), nil)
		require.NotNil(t, service)
		t.Cleanup(service.Stop)

		jobs := service.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, "order_prune", jobs[0].Name)
	})
}
