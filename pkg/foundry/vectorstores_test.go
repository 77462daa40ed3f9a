package foundry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureVectorStoreFindsExisting(t *testing.T) {
	var created atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"data":[
				{"id":"vs_other","name":"scratch"},
				{"id":"vs_1","name":"agentcon-pizza-vector-store"}
			],"has_more":false}`))
		case r.Method == http.MethodPost:
			created.Add(1)
			_, _ = w.Write([]byte(`{"id":"vs_new","name":"agentcon-pizza-vector-store"}`))
		}
	}))

	store, err := client.EnsureVectorStore(context.Background(), "agentcon-pizza-vector-store")
	require.NoError(t, err)

	assert.Equal(t, "vs_1", store.ID)
	assert.Equal(t, int32(0), created.Load())
}

func TestEnsureVectorStoreCreatesMissing(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"data":[],"has_more":false}`))
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"id":"vs_new","name":"agentcon-pizza-vector-store"}`))
		}
	}))

	store, err := client.EnsureVectorStore(context.Background(), "agentcon-pizza-vector-store")
	require.NoError(t, err)

	assert.Equal(t, "vs_new", store.ID)
	assert.Equal(t, "agentcon-pizza-vector-store", got["name"])
}

func TestListVectorStoresFollowsPagination(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			assert.Empty(t, r.URL.Query().Get("after"))
			_, _ = w.Write([]byte(`{"data":[{"id":"vs_1","name":"a"}],"has_more":true,"last_id":"vs_1"}`))
			return
		}
		assert.Equal(t, "vs_1", r.URL.Query().Get("after"))
		_, _ = w.Write([]byte(`{"data":[{"id":"vs_2","name":"b"}],"has_more":false}`))
	}))

	stores, err := client.ListVectorStores(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.Equal(t, "vs_2", stores[1].ID)
}

func TestUploadFileMultipart(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/v1/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, FilePurposeAssistants, r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "contoso_pizza_sofia.md", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "# Contoso Pizza", string(content))

		_, _ = w.Write([]byte(`{"id":"file_1","filename":"contoso_pizza_sofia.md","purpose":"assistants"}`))
	}))

	file, err := client.UploadFile(context.Background(), "contoso_pizza_sofia.md", strings.NewReader("# Contoso Pizza"))
	require.NoError(t, err)
	assert.Equal(t, "file_1", file.ID)
}

func TestAttachFileAndPoll(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"vsf_1","status":"in_progress"}`))
		case polls.Add(1) < 2:
			_, _ = w.Write([]byte(`{"id":"vsf_1","status":"in_progress"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"vsf_1","status":"completed"}`))
		}
	}))

	vsFile, err := client.AttachFileAndPoll(context.Background(), "vs_1", "file_1")
	require.NoError(t, err)
	assert.Equal(t, FileStatusCompleted, vsFile.Status)
}

func TestAttachFileAndPollIngestionFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"vsf_1","status":"in_progress"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"vsf_1","status":"failed","last_error":{"code":"unsupported_file","message":"binary files are not supported"}}`))
	}))

	_, err := client.AttachFileAndPoll(context.Background(), "vs_1", "file_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary files are not supported")
}

func TestSearchVectorStore(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/v1/vector_stores/vs_1/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[
			{"file_id":"file_1","filename":"contoso_pizza_sofia.md","score":0.92,
				"content":[{"type":"text","text":"Margherita costs 9.50"}]}
		],"has_more":false}`))
	}))

	results, err := client.SearchVectorStore(context.Background(), "vs_1", "margherita price", 5)
	require.NoError(t, err)

	assert.Equal(t, "margherita price", got["query"])
	assert.Equal(t, float64(5), got["max_num_results"])

	require.Len(t, results, 1)
	assert.Equal(t, "file_1", results[0].FileID)
	assert.InDelta(t, 0.92, results[0].Score, 0.001)
}

func TestSearchVectorStoreValidation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("invalid request should not reach the server")
	}))

	_, err := client.SearchVectorStore(context.Background(), "", "query", 5)
	assert.Error(t, err)

	_, err = client.SearchVectorStore(context.Background(), "vs_1", "", 5)
	assert.Error(t, err)
}
