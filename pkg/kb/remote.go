package kb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contoso/sofia/internal/tracing"
	"github.com/contoso/sofia/pkg/foundry"
)

const metaVectorStoreID = "vector_store_id"

// RemoteSyncResult summarizes one hosted vector store sync.
type RemoteSyncResult struct {
	VectorStoreID string `json:"vector_store_id"`
	Uploaded      int    `json:"uploaded"`
	Skipped       int    `json:"skipped"`
}

// SyncRemote mirrors the knowledge directory into the project's hosted
// vector store, creating the store on first use. Files whose hash is
// unchanged since the last upload are skipped; changed files are
// re-uploaded and their superseded copy deleted. The store ID is
// persisted so the agent definition can reference it.
func (m *Manager) SyncRemote(ctx context.Context, client *foundry.Client) (*RemoteSyncResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.kb",
		"kb.sync_remote",
		attribute.String("vector_store", m.vectorStoreName),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	if client == nil {
		return nil, fmt.Errorf("kb: foundry client is required")
	}
	if m.vectorStoreName == "" {
		return nil, fmt.Errorf("kb: vector store name is not configured")
	}

	store, err := client.EnsureVectorStore(ctx, m.vectorStoreName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ensure vector store %q: %w", m.vectorStoreName, err)
	}
	if err := m.setMetadata(metaVectorStoreID, store.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist vector store ID")
	}

	files, err := m.listFiles()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &RemoteSyncResult{VectorStoreID: store.ID}
	failed := 0
	var lastErr error

	for _, relPath := range files {
		content, err := os.ReadFile(filepath.Join(m.dir, relPath))
		if err != nil {
			logger.Warn().Err(err).Str("file", relPath).Msg("Failed to read file for upload")
			failed++
			lastErr = err
			continue
		}

		hash := sha256.Sum256(content)
		contentHash := hex.EncodeToString(hash[:])

		var prevHash, prevFileID string
		_ = m.db.QueryRow("SELECT hash, file_id FROM remote_files WHERE path = ?", relPath).Scan(&prevHash, &prevFileID)
		if prevHash == contentHash {
			result.Skipped++
			continue
		}

		vsFile, err := client.UploadFileToVectorStore(ctx, store.ID, filepath.ToSlash(relPath), bytes.NewReader(content))
		if err != nil {
			logger.Warn().Err(err).Str("file", relPath).Msg("Failed to upload file to vector store")
			span.RecordError(err)
			failed++
			lastErr = err
			continue
		}

		if prevFileID != "" && prevFileID != vsFile.ID {
			if err := client.DeleteFile(ctx, prevFileID); err != nil {
				logger.Warn().Err(err).Str("file_id", prevFileID).Msg("Failed to delete superseded file")
			}
		}

		if _, err := m.db.Exec(
			"INSERT OR REPLACE INTO remote_files (path, hash, file_id, uploaded_at) VALUES (?, ?, ?, ?)",
			relPath, contentHash, vsFile.ID, time.Now().Unix(),
		); err != nil {
			logger.Warn().Err(err).Str("file", relPath).Msg("Failed to record uploaded file")
		}

		result.Uploaded++
	}

	logger.Info().
		Str("vector_store_id", store.ID).
		Int("uploaded", result.Uploaded).
		Int("skipped", result.Skipped).
		Int("failed", failed).
		Msg("Remote knowledge sync completed")

	if failed > 0 {
		return result, fmt.Errorf("kb: %d file(s) failed to upload: %w", failed, lastErr)
	}
	return result, nil
}

// VectorStoreID returns the hosted vector store ID recorded by the last
// SyncRemote, or empty when none has run yet.
func (m *Manager) VectorStoreID() string {
	return m.getMetadata(metaVectorStoreID)
}

func (m *Manager) setMetadata(key, value string) error {
	_, err := m.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value)
	return err
}

func (m *Manager) getMetadata(key string) string {
	var value string
	if err := m.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value); err != nil {
		return ""
	}
	return value
}
