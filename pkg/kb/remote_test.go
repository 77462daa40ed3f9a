package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contoso/sofia/pkg/foundry"
)

// fakeVectorStoreServer emulates the hosted file and vector store
// surface: list/create stores, multipart uploads, attach, delete.
type fakeVectorStoreServer struct {
	mu          sync.Mutex
	storeID     string
	storeName   string
	nextFileID  int
	uploads     []string
	purposes    []string
	deleted     []string
	createCalls int
}

func (f *fakeVectorStoreServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && path == "/openai/v1/vector_stores":
			stores := []foundry.VectorStore{}
			if f.storeID != "" {
				stores = append(stores, foundry.VectorStore{ID: f.storeID, Name: f.storeName})
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data":     stores,
				"has_more": false,
			})

		case r.Method == http.MethodPost && path == "/openai/v1/vector_stores":
			var body struct {
				Name string `json:"name"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.createCalls++
			f.storeID = "vs_test_1"
			f.storeName = body.Name
			json.NewEncoder(w).Encode(foundry.VectorStore{ID: f.storeID, Name: f.storeName})

		case r.Method == http.MethodPost && path == "/openai/v1/files":
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_, header, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.nextFileID++
			id := fmt.Sprintf("file-%d", f.nextFileID)
			f.uploads = append(f.uploads, header.Filename)
			f.purposes = append(f.purposes, r.FormValue("purpose"))
			json.NewEncoder(w).Encode(foundry.File{ID: id, Filename: header.Filename})

		case r.Method == http.MethodPost && strings.HasSuffix(path, "/files") && strings.HasPrefix(path, "/openai/v1/vector_stores/"):
			var body struct {
				FileID string `json:"file_id"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(foundry.VectorStoreFile{
				ID:            body.FileID,
				VectorStoreID: f.storeID,
				Status:        foundry.FileStatusCompleted,
			})

		case r.Method == http.MethodDelete && strings.HasPrefix(path, "/openai/v1/files/"):
			f.deleted = append(f.deleted, strings.TrimPrefix(path, "/openai/v1/files/"))
			json.NewEncoder(w).Encode(map[string]interface{}{"deleted": true})

		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeVectorStoreServer) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeVectorStoreServer) uploadedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *fakeVectorStoreServer) uploadPurposes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purposes...)
}

func (f *fakeVectorStoreServer) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func (f *fakeVectorStoreServer) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func newFakeFoundry(t *testing.T) (*fakeVectorStoreServer, *foundry.Client) {
	t.Helper()

	fake := &fakeVectorStoreServer{}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := foundry.NewClient(server.URL, foundry.APIKeyCredential("test-key"),
		foundry.WithRetryBase(time.Millisecond),
		foundry.WithPolling(time.Millisecond, time.Second),
		foundry.WithLogger(zerolog.New(os.Stdout).Level(zerolog.Disabled)),
	)
	require.NoError(t, err)
	return fake, client
}

func TestSyncRemote_UploadsNewFiles(t *testing.T) {
	m, dir := newTestManager(t, nil)
	writeDoc(t, dir, "hours.txt", "Open daily from 11:00 to 22:00.")
	writeDoc(t, dir, "menu.md", "# Menu\n\nEight pizzas, three sizes.")

	fake, client := newFakeFoundry(t)

	result, err := m.SyncRemote(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, "vs_test_1", result.VectorStoreID)
	assert.Equal(t, 2, result.Uploaded)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, "vs_test_1", m.VectorStoreID())

	assert.ElementsMatch(t, []string{"hours.txt", "menu.md"}, fake.uploadedNames())
	for _, purpose := range fake.uploadPurposes() {
		assert.Equal(t, "assistants", purpose)
	}
}

func TestSyncRemote_SkipsUnchangedFiles(t *testing.T) {
	m, dir := newTestManager(t, nil)
	writeDoc(t, dir, "menu.md", "# Menu\n\nEight pizzas, three sizes.")

	fake, client := newFakeFoundry(t)

	_, err := m.SyncRemote(context.Background(), client)
	require.NoError(t, err)

	result, err := m.SyncRemote(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Uploaded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, fake.uploadCount(), "unchanged files should not be re-uploaded")
}

func TestSyncRemote_ReplacesChangedFiles(t *testing.T) {
	m, dir := newTestManager(t, nil)
	writeDoc(t, dir, "menu.md", "# Menu\n\nEight pizzas, three sizes.")
	writeDoc(t, dir, "hours.txt", "Open daily from 11:00 to 22:00.")

	fake, client := newFakeFoundry(t)

	_, err := m.SyncRemote(context.Background(), client)
	require.NoError(t, err)

	writeDoc(t, dir, "menu.md", "# Menu\n\nNine pizzas, three sizes.")

	result, err := m.SyncRemote(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, fake.deletedCount(), "the superseded upload should be deleted")
}

func TestSyncRemote_ReusesExistingStore(t *testing.T) {
	m, dir := newTestManager(t, nil)
	writeDoc(t, dir, "menu.md", "# Menu\n\nEight pizzas, three sizes.")

	fake, client := newFakeFoundry(t)
	fake.storeID = "vs_existing"
	fake.storeName = "agentcon-pizza-vector-store"

	result, err := m.SyncRemote(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, "vs_existing", result.VectorStoreID)
	assert.Equal(t, 0, fake.createCount())
}

func TestSyncRemote_RequiresClient(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.SyncRemote(context.Background(), nil)
	assert.ErrorContains(t, err, "foundry client is required")
}

func TestVectorStoreID_EmptyBeforeSync(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assert.Empty(t, m.VectorStoreID())
}
