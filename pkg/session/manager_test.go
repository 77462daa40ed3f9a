package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	tempDir := t.TempDir()
	m, err := New(tempDir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, tempDir
}

func TestManager_ValidateKey(t *testing.T) {
	m, _ := setupTestManager(t)

	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "cli-default", false},
		{"valid key with colon", "cli:default", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"null byte", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.validateKey(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_Append(t *testing.T) {
	m, tempDir := setupTestManager(t)

	err := m.Append(context.Background(), "test-session", SessionEntry{
		Role:    "user",
		Content: "Hello, Sofia!",
	})
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(tempDir, "test-session.jsonl"))
	assert.NoError(t, err)

	t.Run("should reject empty role", func(t *testing.T) {
		err := m.Append(context.Background(), "test-session", SessionEntry{Content: "x"})
		assert.Error(t, err)
	})

	t.Run("should reject empty content", func(t *testing.T) {
		err := m.Append(context.Background(), "test-session", SessionEntry{Role: "user"})
		assert.Error(t, err)
	})
}

func TestManager_Load(t *testing.T) {
	m, _ := setupTestManager(t)

	entries := []SessionEntry{
		{Role: "user", Content: "How many pizzas for 12 people?"},
		{Role: "assistant", Content: "Five medium pizzas."},
		{Role: "user", Content: "Thanks!"},
	}
	for _, entry := range entries {
		require.NoError(t, m.Append(context.Background(), "test-session", entry))
	}

	loaded, err := m.Load(context.Background(), "test-session")
	assert.NoError(t, err)
	require.Len(t, loaded, 3)

	for i, entry := range loaded {
		assert.Equal(t, entries[i].Role, entry.Role)
		assert.Equal(t, entries[i].Content, entry.Content)
		assert.False(t, entry.Timestamp.IsZero(), "append should stamp entries")
	}
}

func TestManager_LoadNonExistent(t *testing.T) {
	m, _ := setupTestManager(t)

	entries, err := m.Load(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_LoadSkipsCorruptLines(t *testing.T) {
	m, tempDir := setupTestManager(t)

	content := `{"role":"user","content":"Valid 1","timestamp":"2024-01-01T00:00:00Z"}
not json at all
{"role":"assistant","content":"Valid 2","timestamp":"2024-01-01T00:00:01Z"}
{"role":"","content":"missing role"}
{"role":"user","content":"Valid 3","timestamp":"2024-01-01T00:00:02Z"}
`
	path := filepath.Join(tempDir, "damaged.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	entries, err := m.Load(context.Background(), "damaged")
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestManager_LoadRecent(t *testing.T) {
	m, _ := setupTestManager(t)

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, m.Append(context.Background(), "test-session", SessionEntry{
			Role:    "user",
			Content: content,
		}))
	}

	t.Run("should return trailing entries", func(t *testing.T) {
		recent, err := m.LoadRecent(context.Background(), "test-session", 2)
		assert.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "four", recent[0].Content)
		assert.Equal(t, "five", recent[1].Content)
	})

	t.Run("should return everything for n <= 0", func(t *testing.T) {
		all, err := m.LoadRecent(context.Background(), "test-session", 0)
		assert.NoError(t, err)
		assert.Len(t, all, 5)
	})
}

func TestManager_Replace(t *testing.T) {
	m, _ := setupTestManager(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Append(context.Background(), "test-session", SessionEntry{
			Role:    "user",
			Content: "original",
		}))
	}

	err := m.Replace("test-session", []SessionEntry{
		{Role: "assistant", Content: "kept", Timestamp: time.Now()},
	})
	assert.NoError(t, err)

	entries, err := m.Load(context.Background(), "test-session")
	assert.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Content)
}

func TestManager_Delete(t *testing.T) {
	m, tempDir := setupTestManager(t)

	require.NoError(t, m.Append(context.Background(), "test-session", SessionEntry{
		Role:    "user",
		Content: "Hello",
	}))
	require.NoError(t, m.BindConversation("test-session", "conv_123"))

	err := m.Delete(context.Background(), "test-session")
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(tempDir, "test-session.jsonl"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(tempDir, "test-session.conversation"))
	assert.True(t, os.IsNotExist(err), "sidecar should be removed with the session")
}

func TestManager_List(t *testing.T) {
	m, _ := setupTestManager(t)

	keys := []string{"alpha", "beta", "gamma"}
	for _, key := range keys {
		require.NoError(t, m.Append(context.Background(), key, SessionEntry{
			Role:    "user",
			Content: "hi",
		}))
	}
	// Sidecars must not show up as sessions.
	require.NoError(t, m.BindConversation("alpha", "conv_1"))

	list, err := m.List()
	assert.NoError(t, err)
	assert.ElementsMatch(t, keys, list)
}

func TestManager_Info(t *testing.T) {
	m, _ := setupTestManager(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(context.Background(), "test-session", SessionEntry{
			Role:    "user",
			Content: "Test message",
		}))
	}

	info, err := m.Info("test-session")
	assert.NoError(t, err)
	assert.Equal(t, "test-session", info.Key)
	assert.Equal(t, 5, info.Entries)
	assert.Greater(t, info.Size, int64(0))
	assert.False(t, info.LastModified.IsZero())

	_, err = m.Info("missing")
	assert.Error(t, err)
}

func TestManager_ConversationSidecar(t *testing.T) {
	m, tempDir := setupTestManager(t)

	t.Run("should report no binding initially", func(t *testing.T) {
		_, ok := m.ConversationID("test-session")
		assert.False(t, ok)
	})

	t.Run("should round-trip the conversation id", func(t *testing.T) {
		require.NoError(t, m.BindConversation("test-session", "conv_abc123"))

		id, ok := m.ConversationID("test-session")
		assert.True(t, ok)
		assert.Equal(t, "conv_abc123", id)
	})

	t.Run("should survive a manager restart", func(t *testing.T) {
		fresh, err := New(tempDir)
		require.NoError(t, err)
		defer fresh.Close()

		id, ok := fresh.ConversationID("test-session")
		assert.True(t, ok)
		assert.Equal(t, "conv_abc123", id)
	})

	t.Run("should unbind", func(t *testing.T) {
		require.NoError(t, m.UnbindConversation("test-session"))
		_, ok := m.ConversationID("test-session")
		assert.False(t, ok)

		// Unbinding again is a no-op.
		assert.NoError(t, m.UnbindConversation("test-session"))
	})

	t.Run("should reject empty conversation id", func(t *testing.T) {
		assert.Error(t, m.BindConversation("test-session", ""))
	})
}

func TestManager_ConcurrentAppends(t *testing.T) {
	m, _ := setupTestManager(t)

	const goroutines = 10
	const perGoroutine = 10

	done := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < perGoroutine; j++ {
				err := m.Append(context.Background(), "concurrent", SessionEntry{
					Role:    "user",
					Content: "concurrent message",
				})
				assert.NoError(t, err)
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	entries, err := m.Load(context.Background(), "concurrent")
	assert.NoError(t, err)
	assert.Len(t, entries, goroutines*perGoroutine)
}
