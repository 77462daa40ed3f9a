package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/internal/tracing"
)

// SessionEntry is one transcript line.
type SessionEntry struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SessionInfo summarizes one transcript file.
type SessionInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Entries      int       `json:"entries"`
}

// Manager persists conversation transcripts as JSONL files, one per
// session key, plus a .conversation sidecar holding the bound Foundry
// conversation ID.
type Manager struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a session manager rooted at dir. An empty dir defaults to
// ~/.sofia/sessions.
func New(dir string) (*Manager, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".sofia", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	m := &Manager{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Session manager initialized")
	m.updateActiveSessionsMetric()

	return m, nil
}

// Dir returns the directory transcripts are stored in.
func (m *Manager) Dir() string {
	return m.dir
}

// validateKey rejects keys that could escape the sessions directory.
func (m *Manager) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) transcriptPath(key string) string {
	return filepath.Join(m.dir, key+".jsonl")
}

func (m *Manager) conversationPath(key string) string {
	return filepath.Join(m.dir, key+".conversation")
}

func (m *Manager) updateActiveSessionsMetric() {
	keys, err := m.List()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(keys))
}

func (m *Manager) writeLock(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, exists := m.writeLocks[key]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	m.writeLocks[key] = lock
	return lock
}

func (m *Manager) releaseWriteLock(key string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.writeLocks, key)
}

// Append writes one entry to the session transcript, creating the file
// on first use.
func (m *Manager) Append(ctx context.Context, key string, entry SessionEntry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.session",
		"session.append",
		attribute.String("session_key", key),
		attribute.String("role", entry.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", key).Logger()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := m.validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if entry.Role == "" {
		return fmt.Errorf("entry role cannot be empty")
	}
	if entry.Content == "" {
		return fmt.Errorf("entry content cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	lock := m.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := m.transcriptPath(key)
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	if created {
		m.updateActiveSessionsMetric()
	}
	logger.Debug().Str("role", entry.Role).Msg("Session entry appended")
	return nil
}

// Load reads the whole transcript. Corrupt or incomplete lines are
// skipped with a warning.
func (m *Manager) Load(ctx context.Context, key string) ([]SessionEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.session",
		"session.load",
		attribute.String("session_key", key),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", key).Logger()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := m.validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	path := m.transcriptPath(key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []SessionEntry{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var entries []SessionEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry SessionEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse transcript line, skipping")
			continue
		}
		if entry.Role == "" || entry.Content == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid transcript entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().Int("entries", len(entries)).Msg("Session loaded")
	return entries, nil
}

// LoadRecent returns at most n trailing entries. n <= 0 returns the
// whole transcript.
func (m *Manager) LoadRecent(ctx context.Context, key string, n int) ([]SessionEntry, error) {
	entries, err := m.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(entries) <= n {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Replace atomically rewrites the transcript with the given entries.
func (m *Manager) Replace(key string, entries []SessionEntry) error {
	if err := m.validateKey(key); err != nil {
		return err
	}

	lock := m.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := m.transcriptPath(key)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Debug().Str("session_key", key).Int("entries", len(entries)).Msg("Session rewritten")
	return nil
}

// Delete removes the transcript and its conversation sidecar.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.session",
		"session.delete",
		attribute.String("session_key", key),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", key).Logger()

	if err := m.validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := m.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(m.transcriptPath(key)); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	if err := os.Remove(m.conversationPath(key)); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("Failed to delete conversation sidecar")
	}

	m.releaseWriteLock(key)
	m.updateActiveSessionsMetric()

	logger.Info().Msg("Session deleted")
	return nil
}

// List returns every session key with a transcript on disk.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}
	return keys, nil
}

// Info returns size, modification time, and entry count for a session.
func (m *Manager) Info(key string) (*SessionInfo, error) {
	if err := m.validateKey(key); err != nil {
		return nil, err
	}

	stat, err := os.Stat(m.transcriptPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %q does not exist", key)
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	entries, err := m.Load(context.Background(), key)
	if err != nil {
		return nil, err
	}

	return &SessionInfo{
		Key:          key,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
		Entries:      len(entries),
	}, nil
}

// BindConversation records the Foundry conversation ID for a session so
// later runs reconnect to the same server-side conversation.
func (m *Manager) BindConversation(key, conversationID string) error {
	if err := m.validateKey(key); err != nil {
		return err
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}

	if err := os.WriteFile(m.conversationPath(key), []byte(conversationID+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write conversation sidecar: %w", err)
	}

	log.Debug().
		Str("session_key", key).
		Str("conversation_id", conversationID).
		Msg("Conversation bound to session")
	return nil
}

// ConversationID returns the bound Foundry conversation ID, or false
// when the session has none.
func (m *Manager) ConversationID(key string) (string, bool) {
	if err := m.validateKey(key); err != nil {
		return "", false
	}

	data, err := os.ReadFile(m.conversationPath(key))
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", false
	}
	return id, true
}

// UnbindConversation removes the sidecar, forcing the next hosted run to
// create a fresh conversation.
func (m *Manager) UnbindConversation(key string) error {
	if err := m.validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(m.conversationPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove conversation sidecar: %w", err)
	}
	return nil
}

// Close releases the manager's in-memory state.
func (m *Manager) Close() error {
	m.locksMu.Lock()
	m.writeLocks = make(map[string]*sync.Mutex)
	m.locksMu.Unlock()

	log.Info().Msg("Session manager closed")
	return nil
}
