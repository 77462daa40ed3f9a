package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAge     = 7 * 24 * time.Hour
	DefaultMaxEntries = 500
)

// CleanupService prunes transcripts on a daily ticker: entries older
// than maxAge are dropped, transcripts are capped at maxEntries, and
// sessions left empty are deleted outright.
type CleanupService struct {
	manager    *Manager
	maxAge     time.Duration
	maxEntries int

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// CleanupResult reports what one cleanup pass changed.
type CleanupResult struct {
	Pruned  int `json:"pruned"`
	Deleted int `json:"deleted"`
}

// NewCleanupService creates a cleanup service. Zero maxAge and
// maxEntries fall back to the defaults.
func NewCleanupService(manager *Manager, maxAge time.Duration, maxEntries int) *CleanupService {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &CleanupService{
		manager:    manager,
		maxAge:     maxAge,
		maxEntries: maxEntries,
	}
}

// Start begins the daily cleanup loop, running one pass immediately.
func (c *CleanupService) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	go c.run(c.stopCh)

	log.Info().
		Dur("max_age", c.maxAge).
		Int("max_entries", c.maxEntries).
		Msg("Session cleanup started")
	return nil
}

// Stop halts the cleanup loop.
func (c *CleanupService) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}
	close(c.stopCh)
	c.running = false

	log.Info().Msg("Session cleanup stopped")
	return nil
}

// IsRunning reports whether the cleanup loop is active.
func (c *CleanupService) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *CleanupService) run(stopCh chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	if _, err := c.RunOnce(context.Background()); err != nil {
		log.Error().Err(err).Msg("Session cleanup pass failed")
	}

	for {
		select {
		case <-ticker.C:
			if _, err := c.RunOnce(context.Background()); err != nil {
				log.Error().Err(err).Msg("Session cleanup pass failed")
			}
		case <-stopCh:
			return
		}
	}
}

// RunOnce performs a single cleanup pass over every session.
func (c *CleanupService) RunOnce(ctx context.Context) (CleanupResult, error) {
	keys, err := c.manager.List()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := time.Now().Add(-c.maxAge)
	var result CleanupResult

	for _, key := range keys {
		entries, err := c.manager.Load(ctx, key)
		if err != nil {
			log.Warn().Str("session_key", key).Err(err).Msg("Failed to load session for cleanup")
			continue
		}

		kept := entries[:0:0]
		for _, entry := range entries {
			if entry.Timestamp.After(cutoff) {
				kept = append(kept, entry)
			}
		}
		if len(kept) > c.maxEntries {
			kept = kept[len(kept)-c.maxEntries:]
		}

		if len(kept) == len(entries) {
			continue
		}

		if len(kept) == 0 {
			if err := c.manager.Delete(ctx, key); err != nil {
				log.Warn().Str("session_key", key).Err(err).Msg("Failed to delete expired session")
				continue
			}
			result.Deleted++
			continue
		}

		if err := c.manager.Replace(key, kept); err != nil {
			log.Warn().Str("session_key", key).Err(err).Msg("Failed to prune session")
			continue
		}
		result.Pruned++

		log.Debug().
			Str("session_key", key).
			Int("from_entries", len(entries)).
			Int("to_entries", len(kept)).
			Msg("Session pruned")
	}

	if result.Pruned > 0 || result.Deleted > 0 {
		log.Info().
			Int("pruned", result.Pruned).
			Int("deleted", result.Deleted).
			Msg("Session cleanup completed")
	}
	return result, nil
}
