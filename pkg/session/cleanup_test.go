package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAt(t *testing.T, m *Manager, key, content string, at time.Time) {
	t.Helper()
	require.NoError(t, m.Append(context.Background(), key, SessionEntry{
		Role:      "user",
		Content:   content,
		Timestamp: at,
	}))
}

func TestNewCleanupService(t *testing.T) {
	m, _ := setupTestManager(t)

	t.Run("should keep explicit limits", func(t *testing.T) {
		svc := NewCleanupService(m, 48*time.Hour, 100)
		assert.Equal(t, 48*time.Hour, svc.maxAge)
		assert.Equal(t, 100, svc.maxEntries)
	})

	t.Run("should default zero limits", func(t *testing.T) {
		svc := NewCleanupService(m, 0, 0)
		assert.Equal(t, DefaultMaxAge, svc.maxAge)
		assert.Equal(t, DefaultMaxEntries, svc.maxEntries)
	})
}

func TestCleanupService_RemovesOldEntries(t *testing.T) {
	m, _ := setupTestManager(t)
	svc := NewCleanupService(m, 7*24*time.Hour, 500)

	now := time.Now()
	appendAt(t, m, "mixed", "stale 1", now.Add(-10*24*time.Hour))
	appendAt(t, m, "mixed", "stale 2", now.Add(-9*24*time.Hour))
	appendAt(t, m, "mixed", "fresh 1", now.Add(-time.Hour))
	appendAt(t, m, "mixed", "fresh 2", now)

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pruned)
	assert.Equal(t, 0, result.Deleted)

	entries, err := m.Load(context.Background(), "mixed")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fresh 1", entries[0].Content)
	assert.Equal(t, "fresh 2", entries[1].Content)
}

func TestCleanupService_DeletesEmptySessions(t *testing.T) {
	m, _ := setupTestManager(t)
	svc := NewCleanupService(m, 7*24*time.Hour, 500)

	old := time.Now().Add(-30 * 24 * time.Hour)
	appendAt(t, m, "expired", "long gone", old)

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	keys, err := m.List()
	require.NoError(t, err)
	assert.NotContains(t, keys, "expired")
}

func TestCleanupService_TrimsToMaxEntries(t *testing.T) {
	m, _ := setupTestManager(t)
	svc := NewCleanupService(m, 7*24*time.Hour, 4)

	now := time.Now()
	for i := 0; i < 10; i++ {
		appendAt(t, m, "busy", fmt.Sprintf("turn %d", i), now.Add(-time.Duration(10-i)*time.Minute))
	}

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pruned)

	entries, err := m.Load(context.Background(), "busy")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "turn 6", entries[0].Content)
	assert.Equal(t, "turn 9", entries[3].Content)
}

func TestCleanupService_LeavesFreshSessionsAlone(t *testing.T) {
	m, _ := setupTestManager(t)
	svc := NewCleanupService(m, 7*24*time.Hour, 500)

	appendAt(t, m, "fresh", "recent", time.Now())

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pruned)
	assert.Equal(t, 0, result.Deleted)

	entries, err := m.Load(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCleanupService_StartStop(t *testing.T) {
	m, _ := setupTestManager(t)
	svc := NewCleanupService(m, 7*24*time.Hour, 500)

	err := svc.Start()
	assert.NoError(t, err)
	assert.True(t, svc.IsRunning())

	// Give the initial pass a moment.
	time.Sleep(50 * time.Millisecond)

	err = svc.Start()
	assert.Error(t, err, "starting twice should fail")

	err = svc.Stop()
	assert.NoError(t, err)
	assert.False(t, svc.IsRunning())

	err = svc.Stop()
	assert.Error(t, err, "stopping twice should fail")
}
