package foundry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversationSendsMetadata(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"conv_1","created_at":1727000000,"metadata":{"session":"default"}}`))
	}))

	conv, err := client.CreateConversation(context.Background(), map[string]string{"session": "default"})
	require.NoError(t, err)

	assert.Equal(t, "conv_1", conv.ID)
	assert.Equal(t, map[string]any{"session": "default"}, got["metadata"])
}

func TestGetConversation(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"conv_1","created_at":1727000000}`))
	}))

	conv, err := client.GetConversation(context.Background(), "conv_1")
	require.NoError(t, err)

	assert.Equal(t, "/openai/v1/conversations/conv_1", gotPath)
	assert.Equal(t, "conv_1", conv.ID)
}

func TestGetConversationNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"conversation does not exist"}}`))
	}))

	_, err := client.GetConversation(context.Background(), "conv_stale")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListConversationItems(t *testing.T) {
	var gotPath, gotLimit string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"data":[
			{"type":"message","role":"user","content":[{"type":"input_text","text":"We are 6 people"}]},
			{"type":"message","role":"assistant","content":[{"type":"output_text","text":"I suggest 3 pizzas."}]}
		],"has_more":false}`))
	}))

	items, err := client.ListConversationItems(context.Background(), "conv_1", 20)
	require.NoError(t, err)

	assert.Equal(t, "/openai/v1/conversations/conv_1/items", gotPath)
	assert.Equal(t, "20", gotLimit)
	require.Len(t, items, 2)
	assert.Equal(t, "user", items[0].Role)
	assert.Equal(t, "assistant", items[1].Role)
}

func TestListConversationItemsDefaultLimit(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data":[],"has_more":false}`))
	}))

	_, err := client.ListConversationItems(context.Background(), "conv_1", 0)
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestDeleteConversation(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"conv_1","deleted":true}`))
	}))

	err := client.DeleteConversation(context.Background(), "conv_1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/openai/v1/conversations/conv_1", gotPath)
}

func TestConversationIDRequired(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("invalid request should not reach the server")
	}))

	_, err := client.GetConversation(context.Background(), "")
	assert.Error(t, err)

	_, err = client.ListConversationItems(context.Background(), "", 10)
	assert.Error(t, err)

	err = client.DeleteConversation(context.Background(), "")
	assert.Error(t, err)
}
