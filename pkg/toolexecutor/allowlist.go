package toolexecutor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AllowlistEntry represents a remembered tool approval. Either Tool
// (exact name) or Pattern (glob, filepath.Match syntax) must be set.
type AllowlistEntry struct {
	Tool    string    `json:"tool,omitempty"`
	Pattern string    `json:"pattern,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// AllowlistManager persists remembered tool approvals to disk.
type AllowlistManager struct {
	filePath string
	entries  []AllowlistEntry
	mu       sync.RWMutex
}

// NewAllowlistManager creates a new allowlist manager
func NewAllowlistManager(filePath string) (*AllowlistManager, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, ".sofia", "approvals.json")
	}

	am := &AllowlistManager{
		filePath: filePath,
		entries:  []AllowlistEntry{},
	}

	if err := am.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
		log.Debug().Str("path", filePath).Msg("Allowlist file does not exist, will create on first save")
	}

	return am, nil
}

// Load loads the allowlist from file
func (am *AllowlistManager) Load() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	data, err := os.ReadFile(am.filePath)
	if err != nil {
		return err
	}

	var entries []AllowlistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse allowlist: %w", err)
	}

	am.entries = entries

	log.Info().
		Str("path", am.filePath).
		Int("count", len(entries)).
		Msg("Allowlist loaded")

	return nil
}

// Save writes the allowlist to file. The write goes through a temp
// file and rename so a crash never leaves a half-written allowlist.
func (am *AllowlistManager) Save() error {
	am.mu.RLock()
	defer am.mu.RUnlock()

	dir := filepath.Dir(am.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(am.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal allowlist: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".approvals-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write allowlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), am.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace allowlist: %w", err)
	}

	log.Info().
		Str("path", am.filePath).
		Int("count", len(am.entries)).
		Msg("Allowlist saved")

	return nil
}

// Add adds a tool to the allowlist
func (am *AllowlistManager) Add(entry AllowlistEntry) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	if entry.Tool == "" && entry.Pattern == "" {
		return fmt.Errorf("either tool or pattern must be specified")
	}

	for _, existing := range am.entries {
		if existing.Tool == entry.Tool && existing.Pattern == entry.Pattern {
			log.Debug().
				Str("tool", entry.Tool).
				Str("pattern", entry.Pattern).
				Msg("Entry already exists in allowlist")
			return nil
		}
	}

	am.entries = append(am.entries, entry)

	log.Info().
		Str("tool", entry.Tool).
		Str("pattern", entry.Pattern).
		Msg("Added to allowlist")

	return nil
}

// Remove removes a tool from the allowlist
func (am *AllowlistManager) Remove(tool string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	found := false
	newEntries := []AllowlistEntry{}
	for _, entry := range am.entries {
		if entry.Tool == tool || entry.Pattern == tool {
			found = true
			log.Info().Str("tool", tool).Msg("Removed from allowlist")
			continue
		}
		newEntries = append(newEntries, entry)
	}

	if !found {
		return fmt.Errorf("entry not found in allowlist")
	}

	am.entries = newEntries

	return nil
}

// IsAllowed checks if a tool is in the allowlist
func (am *AllowlistManager) IsAllowed(toolName string) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, entry := range am.entries {
		if entry.Tool != "" && entry.Tool == toolName {
			return true
		}
		if entry.Pattern != "" && matchGlob(entry.Pattern, toolName) {
			return true
		}
	}

	return false
}

// List returns all entries in the allowlist
func (am *AllowlistManager) List() []AllowlistEntry {
	am.mu.RLock()
	defer am.mu.RUnlock()

	entries := make([]AllowlistEntry, len(am.entries))
	copy(entries, am.entries)

	return entries
}

// Clear removes all entries from the allowlist
func (am *AllowlistManager) Clear() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.entries = []AllowlistEntry{}

	log.Info().Msg("Allowlist cleared")

	return nil
}

// Count returns the number of entries in the allowlist
func (am *AllowlistManager) Count() int {
	am.mu.RLock()
	defer am.mu.RUnlock()

	return len(am.entries)
}

// matchGlob matches a tool name against a glob pattern
func matchGlob(pattern, str string) bool {
	if pattern == "*" {
		return true
	}

	matched, err := filepath.Match(pattern, str)
	if err != nil {
		log.Warn().
			Err(err).
			Str("pattern", pattern).
			Msg("Invalid glob pattern")
		return false
	}

	return matched
}
