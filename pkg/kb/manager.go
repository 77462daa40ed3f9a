package kb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/internal/tracing"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// ErrSyncInProgress is returned when Sync is called while another sync
// is still running.
var ErrSyncInProgress = errors.New("kb: sync already in progress")

// Hybrid scoring weights.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// candidateLimit caps how many rows each retrieval side contributes
// before merging.
const candidateLimit = 100

const defaultTopK = 5

// Result is one knowledge base hit.
type Result struct {
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Status describes the current state of the knowledge base.
type Status struct {
	Documents     int        `json:"documents"`
	Chunks        int        `json:"chunks"`
	Dirty         bool       `json:"dirty"`
	Syncing       bool       `json:"syncing"`
	CacheHitRate  *float64   `json:"cache_hit_rate,omitempty"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	VectorStoreID string     `json:"vector_store_id,omitempty"`
}

// Manager indexes knowledge documents into SQLite and serves hybrid
// vector + keyword search over them.
type Manager struct {
	db                *sql.DB
	dir               string
	vectorStoreName   string
	chunkSize         int
	chunkOverlap      int
	logger            zerolog.Logger
	embeddingProvider EmbeddingProvider
	watcher           *fileWatcher
	debounce          time.Duration
	mu                sync.RWMutex
	dirty             bool
	syncing           bool
	lastSync          *time.Time
	stats             struct {
		cacheHits   int
		cacheMisses int
	}
}

// Config holds knowledge base manager configuration
type Config struct {
	Dir             string
	DBPath          string
	VectorStoreName string
	ChunkSize       int
	ChunkOverlap    int
	Logger          zerolog.Logger
	// EmbeddingProvider is optional; without one search is keyword only.
	EmbeddingProvider EmbeddingProvider
}

// NewManager creates a knowledge base manager. The directory is not
// watched until Watch is called.
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Dir == "" {
		return nil, errors.New("kb: directory is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("kb: database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	m := &Manager{
		db:                db,
		dir:               cfg.Dir,
		vectorStoreName:   cfg.VectorStoreName,
		chunkSize:         cfg.ChunkSize,
		chunkOverlap:      cfg.ChunkOverlap,
		logger:            cfg.Logger,
		embeddingProvider: cfg.EmbeddingProvider,
		debounce:          2 * time.Second,
		dirty:             true, // start dirty to trigger the initial sync
	}

	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	m.logger.Info().Str("dir", cfg.Dir).Msg("Knowledge base manager initialized")
	return m, nil
}

// initSchema creates database tables
func (m *Manager) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			hash TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);

		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			doc_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS remote_files (
			path TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			file_id TEXT NOT NULL,
			uploaded_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`

	if _, err := m.db.Exec(schema); err != nil {
		return err
	}

	if m.embeddingProvider != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				doc_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, m.embeddingProvider.Dimension())

		if _, err := m.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// isKnowledgeFile reports whether path names an indexable document.
func isKnowledgeFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// listFiles walks the knowledge directory and returns relative paths of
// indexable documents. A missing directory is treated as empty.
func (m *Manager) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isKnowledgeFile(d.Name()) {
			relPath, _ := filepath.Rel(m.dir, path)
			files = append(files, relPath)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to walk knowledge directory: %w", err)
	}
	return files, nil
}

// Sync indexes the knowledge directory, skipping files whose content
// hash is unchanged and pruning chunks of deleted files.
func (m *Manager) Sync(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "sofia.kb", "kb.sync")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		span.SetStatus(codes.Error, ErrSyncInProgress.Error())
		return ErrSyncInProgress
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.dirty = false
		now := time.Now()
		m.lastSync = &now
		m.mu.Unlock()
	}()

	start := time.Now()
	defer func() { observability.RecordKBSync(time.Since(start)) }()

	files, err := m.listFiles()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	indexed := 0
	skipped := 0
	chunksCreated := 0

	for _, relPath := range files {
		didIndex, chunks, err := m.indexFile(ctx, relPath)
		if err != nil {
			logger.Warn().Err(err).Str("file", relPath).Msg("Failed to index file")
			span.RecordError(err)
			continue
		}
		if didIndex {
			indexed++
			chunksCreated += chunks
		} else {
			skipped++
		}
	}

	pruned, err := m.pruneDeleted(files)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune deleted files")
		span.RecordError(err)
	}

	logger.Info().
		Int("files_indexed", indexed).
		Int("files_skipped", skipped).
		Int("chunks_created", chunksCreated).
		Int("files_pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Knowledge base sync completed")

	var docCount int
	_ = m.db.QueryRow("SELECT COUNT(DISTINCT path) FROM documents").Scan(&docCount)
	observability.SetKBDocuments(docCount)

	return nil
}

// indexFile re-chunks and re-embeds one file when its hash changed.
// Returns whether the file was (re)indexed and how many chunks it made.
func (m *Manager) indexFile(ctx context.Context, relPath string) (bool, int, error) {
	content, err := os.ReadFile(filepath.Join(m.dir, relPath))
	if err != nil {
		return false, 0, err
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	var existingHash string
	err = m.db.QueryRow("SELECT hash FROM documents WHERE path = ? LIMIT 1", relPath).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		return false, 0, nil
	}

	chunks := splitChunks(string(content), m.chunkSize, m.chunkOverlap)

	// Resolve embeddings before the transaction so the write lock is
	// never held across network calls.
	vectors := m.resolveEmbeddings(ctx, chunks)

	tx, err := m.db.Begin()
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	if err := m.deleteDocRows(tx, relPath); err != nil {
		return false, 0, err
	}

	now := time.Now().Unix()
	for i, chunk := range chunks {
		docID := fmt.Sprintf("%s#%d", relPath, i)

		if _, err := tx.Exec(
			"INSERT INTO documents (id, path, chunk_index, content, hash, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			docID, relPath, i, chunk, contentHash, now,
		); err != nil {
			return false, 0, err
		}

		if _, err := tx.Exec(
			"INSERT INTO documents_fts (doc_id, content) VALUES (?, ?)",
			docID, chunk,
		); err != nil {
			return false, 0, err
		}

		if vectors != nil && vectors[i] != nil {
			if err := m.storeEmbedding(tx, docID, chunk, vectors[i]); err != nil {
				m.logger.Warn().Err(err).Str("doc", docID).Msg("Failed to store embedding")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}

	return true, len(chunks), nil
}

// resolveEmbeddings returns one vector per chunk, serving from the cache
// where possible and batching the rest into a single provider call. A
// provider failure degrades the file to keyword-only rather than failing
// the sync; the corresponding entries stay nil.
func (m *Manager) resolveEmbeddings(ctx context.Context, chunks []string) [][]float32 {
	if m.embeddingProvider == nil || len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float32, len(chunks))
	var missing []int

	hits := 0
	for i, chunk := range chunks {
		cached, ok := m.cachedEmbedding(chunk)
		if ok {
			hits++
			vectors[i] = cached
			continue
		}
		missing = append(missing, i)
	}

	m.mu.Lock()
	m.stats.cacheHits += hits
	m.stats.cacheMisses += len(missing)
	m.mu.Unlock()

	if len(missing) == 0 {
		return vectors
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = chunks[i]
	}

	generated, err := m.embeddingProvider.GenerateEmbeddings(ctx, texts)
	if err != nil {
		m.logger.Warn().Err(err).Int("chunks", len(texts)).Msg("Embedding generation failed, indexing keyword only")
		return vectors
	}

	for j, i := range missing {
		vectors[i] = generated[j]
	}
	return vectors
}

// cachedEmbedding looks a chunk's embedding up by content hash.
func (m *Manager) cachedEmbedding(chunk string) ([]float32, bool) {
	hash := sha256.Sum256([]byte(chunk))
	contentHash := hex.EncodeToString(hash[:])

	var blob []byte
	err := m.db.QueryRow("SELECT embedding FROM embedding_cache WHERE content_hash = ?", contentHash).Scan(&blob)
	if err != nil {
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(blob, &embedding); err != nil {
		return nil, false
	}
	return embedding, true
}

// storeEmbedding writes an embedding to the vector table and the cache.
func (m *Manager) storeEmbedding(tx *sql.Tx, docID, chunk string, embedding []float32) error {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	hash := sha256.Sum256([]byte(chunk))
	contentHash := hex.EncodeToString(hash[:])

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
		contentHash, embeddingJSON, len(embedding), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO embeddings (doc_id, embedding) VALUES (?, ?)",
		docID, string(embeddingJSON),
	); err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}

	return nil
}

// deleteDocRows removes a file's chunks from the documents, FTS, and
// vector tables.
func (m *Manager) deleteDocRows(tx *sql.Tx, relPath string) error {
	rows, err := tx.Query("SELECT id FROM documents WHERE path = ?", relPath)
	if err != nil {
		return err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM documents_fts WHERE doc_id = ?", id); err != nil {
			return err
		}
		if m.embeddingProvider != nil {
			if _, err := tx.Exec("DELETE FROM embeddings WHERE doc_id = ?", id); err != nil {
				return err
			}
		}
	}

	_, err = tx.Exec("DELETE FROM documents WHERE path = ?", relPath)
	return err
}

// pruneDeleted removes chunks of files that no longer exist on disk.
func (m *Manager) pruneDeleted(existing []string) (int, error) {
	existingSet := make(map[string]bool, len(existing))
	for _, f := range existing {
		existingSet[f] = true
	}

	rows, err := m.db.Query("SELECT DISTINCT path FROM documents")
	if err != nil {
		return 0, err
	}

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, err
		}
		if !existingSet[path] {
			stale = append(stale, path)
		}
	}
	rows.Close()

	for _, path := range stale {
		tx, err := m.db.Begin()
		if err != nil {
			return 0, err
		}
		if err := m.deleteDocRows(tx, path); err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}

	return len(stale), nil
}

// Search runs hybrid retrieval over the local store and returns the topK
// best chunks. With no embedding provider it degrades to keyword search;
// either side failing degrades to the other.
func (m *Manager) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.kb",
		"kb.search",
		attribute.String("query", query),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	m.mu.RLock()
	dirty := m.dirty
	m.mu.RUnlock()

	if dirty {
		if err := m.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logger.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	var vectorResults []docScore
	var keywordResults []docScore
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if m.embeddingProvider != nil {
			vectorResults, vectorErr = m.vectorSearch(ctx, query, candidateLimit)
		}
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = m.keywordSearch(ctx, query, candidateLimit)
	}()

	wg.Wait()

	mode := "hybrid"
	if m.embeddingProvider == nil {
		mode = "keyword"
	}
	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
		mode = "keyword"
	}
	if keywordErr != nil {
		logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
		mode = "vector"
	}

	if vectorErr != nil && keywordErr != nil {
		span.RecordError(vectorErr)
		span.RecordError(keywordErr)
		span.SetStatus(codes.Error, "both search methods failed")
		return nil, fmt.Errorf("kb search failed: %w", errors.Join(vectorErr, keywordErr))
	}

	results, err := m.mergeResults(vectorResults, keywordResults, topK)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	observability.RecordKBSearch(mode, time.Since(start))
	logger.Debug().
		Str("query", query).
		Str("mode", mode).
		Int("results", len(results)).
		Msg("Knowledge search completed")

	return results, nil
}

// docScore pairs a document chunk with one retrieval side's raw score.
type docScore struct {
	docID string
	score float64
}

// vectorSearch ranks chunks by cosine similarity to the query embedding.
func (m *Manager) vectorSearch(ctx context.Context, query string, limit int) ([]docScore, error) {
	embedding, err := m.embeddingProvider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT doc_id, vec_distance_cosine(embedding, ?) AS distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []docScore
	for rows.Next() {
		var docID string
		var distance float64
		if err := rows.Scan(&docID, &distance); err != nil {
			return nil, err
		}
		// Cosine distance is in [0, 2]; 1-distance is similarity in [-1, 1].
		results = append(results, docScore{docID: docID, score: 1.0 - distance})
	}
	return results, rows.Err()
}

// keywordSearch ranks chunks by BM25 over the FTS index.
func (m *Manager) keywordSearch(ctx context.Context, query string, limit int) ([]docScore, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT doc_id, bm25(documents_fts) AS score
		FROM documents_fts
		WHERE documents_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []docScore
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, err
		}
		// BM25 scores are negative; flip so bigger is better.
		results = append(results, docScore{docID: docID, score: -score})
	}
	return results, rows.Err()
}

// ftsQuery turns a free-text query into a safe FTS5 MATCH expression:
// each token is phrase-quoted and tokens are OR-ed so any match counts.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// mergeResults combines both retrieval sides into one ranked list.
// Vector similarity is mapped from [-1, 1] to [0, 1]; keyword scores are
// normalized against the best keyword hit.
func (m *Manager) mergeResults(vectorResults, keywordResults []docScore, topK int) ([]Result, error) {
	vectorMap := make(map[string]float64, len(vectorResults))
	keywordMap := make(map[string]float64, len(keywordResults))

	var maxKeyword float64
	for _, r := range vectorResults {
		vectorMap[r.docID] = r.score
	}
	for _, r := range keywordResults {
		keywordMap[r.docID] = r.score
		if r.score > maxKeyword {
			maxKeyword = r.score
		}
	}

	seen := make(map[string]bool, len(vectorMap)+len(keywordMap))
	var scored []docScore
	for id := range vectorMap {
		seen[id] = true
	}
	for id := range keywordMap {
		seen[id] = true
	}

	for id := range seen {
		var normVector, normKeyword float64
		if v, ok := vectorMap[id]; ok {
			normVector = (v + 1) / 2
		}
		if k, ok := keywordMap[id]; ok && maxKeyword > 0 {
			normKeyword = k / maxKeyword
		}
		scored = append(scored, docScore{
			docID: id,
			score: normVector*vectorWeight + normKeyword*keywordWeight,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		var path, content string
		err := m.db.QueryRow("SELECT path, content FROM documents WHERE id = ?", s.docID).Scan(&path, &content)
		if err != nil {
			m.logger.Warn().Err(err).Str("doc", s.docID).Msg("Failed to fetch chunk details")
			continue
		}
		results = append(results, Result{
			Path:    path,
			Content: content,
			Score:   s.score,
		})
	}

	return results, nil
}

// Watch starts the fsnotify watcher on the knowledge directory. Changes
// mark the index dirty and trigger a background re-sync once they have
// settled. Calling Watch twice is a no-op.
func (m *Manager) Watch() error {
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}
	debounce := m.debounce
	m.mu.Unlock()

	watcher, err := newFileWatcher(m.logger, debounce, func() {
		m.MarkDirty()
		go func() {
			if err := m.Sync(context.Background()); err != nil && !errors.Is(err, ErrSyncInProgress) {
				m.logger.Warn().Err(err).Msg("Background sync failed")
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.watch(m.dir); err != nil {
		watcher.stop()
		return fmt.Errorf("failed to watch knowledge directory: %w", err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	m.logger.Info().Str("dir", m.dir).Msg("Watching knowledge directory")
	return nil
}

// MarkDirty marks the index as needing sync.
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = true
}

// GetStatus reports index counts and sync state.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var status Status
	status.Dirty = m.dirty
	status.Syncing = m.syncing
	status.LastSync = m.lastSync

	m.db.QueryRow("SELECT COUNT(DISTINCT path) FROM documents").Scan(&status.Documents)
	m.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&status.Chunks)

	total := m.stats.cacheHits + m.stats.cacheMisses
	if total > 0 {
		rate := float64(m.stats.cacheHits) / float64(total)
		status.CacheHitRate = &rate
	}

	status.VectorStoreID = m.getMetadata(metaVectorStoreID)

	return status
}

// Close stops the watcher and closes the database.
func (m *Manager) Close() error {
	m.logger.Info().Msg("Closing knowledge base manager")

	m.mu.Lock()
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher != nil {
		watcher.stop()
	}

	return m.db.Close()
}
