package foundry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResponseWithAgentReference(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"status": "completed",
			"output": [{
				"type": "message",
				"role": "assistant",
				"content": [{"type": "output_text", "text": "Hi, I am Sofia!"}]
			}]
		}`))
	}))

	resp, err := client.CreateResponse(context.Background(), ResponseRequest{
		Conversation: "conv_1",
		Agent:        NewAgentReference("sofia-pizza-agent"),
		Input:        "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "conv_1", got["conversation"])
	assert.Equal(t, "hello", got["input"])

	agentRef, ok := got["agent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent_reference", agentRef["type"])
	assert.Equal(t, "sofia-pizza-agent", agentRef["name"])

	assert.Equal(t, "resp_1", resp.ID)
	assert.Equal(t, "Hi, I am Sofia!", resp.OutputText())
}

func TestCreateResponseWithStructuredInput(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"resp_2","status":"completed","output":[]}`))
	}))

	input := []InputItem{
		FunctionCallOutputItem("call_1", `{"recommendation":"order 3 pizzas"}`),
		MCPApprovalResponseItem("mcpr_1", true),
	}
	_, err := client.CreateResponse(context.Background(), ResponseRequest{
		Agent: NewAgentReference("sofia-pizza-agent"),
		Input: input,
	})
	require.NoError(t, err)

	items, ok := got["input"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "function_call_output", first["type"])
	assert.Equal(t, "call_1", first["call_id"])
	assert.Equal(t, `{"recommendation":"order 3 pizzas"}`, first["output"])

	second := items[1].(map[string]any)
	assert.Equal(t, "mcp_approval_response", second["type"])
	assert.Equal(t, "mcpr_1", second["approval_request_id"])
	assert.Equal(t, true, second["approve"])
}

func TestCreateResponseRequiresTarget(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	}))

	_, err := client.CreateResponse(context.Background(), ResponseRequest{Input: "hello"})
	assert.Error(t, err)
}

func TestOutputTextSkipsNonMessageItems(t *testing.T) {
	resp := &Response{
		Status: StatusCompleted,
		Output: []OutputItem{
			{Type: OutputTypeFileSearchCall, ID: "fsc_1"},
			{Type: OutputTypeMessage, Role: "assistant", Content: []ContentPart{
				{Type: "output_text", Text: "We have "},
				{Type: "output_text", Text: "12 pizzas."},
			}},
			{Type: OutputTypeFunctionCall, Name: "calculate_pizza_order"},
		},
	}

	assert.Equal(t, "We have 12 pizzas.", resp.OutputText())
}

func TestFunctionCallsAndApprovalRequests(t *testing.T) {
	resp := &Response{
		Output: []OutputItem{
			{Type: OutputTypeMessage, Role: "assistant"},
			{Type: OutputTypeFunctionCall, CallID: "call_1", Name: "calculate_pizza_order", Arguments: `{"people_count":7}`},
			{Type: OutputTypeMCPApprovalRequest, ID: "mcpr_1", Name: "place_order", ServerLabel: "contoso_pizza"},
			{Type: OutputTypeFunctionCall, CallID: "call_2", Name: "get_menu"},
		},
	}

	calls := resp.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "calculate_pizza_order", calls[0].Name)
	assert.Equal(t, "get_menu", calls[1].Name)

	approvals := resp.ApprovalRequests()
	require.Len(t, approvals, 1)
	assert.Equal(t, "mcpr_1", approvals[0].ID)
	assert.Equal(t, "contoso_pizza", approvals[0].ServerLabel)
}

func TestWaitForResponsePollsUntilCompleted(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"id":"resp_1","status":"in_progress","output":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"status": "completed",
			"output": [{"type":"message","role":"assistant","content":[{"type":"output_text","text":"done"}]}]
		}`))
	}))

	resp, err := client.WaitForResponse(context.Background(), &Response{ID: "resp_1", Status: StatusQueued})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "done", resp.OutputText())
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestWaitForResponseAlreadyTerminal(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("terminal response should not be polled")
	}))

	input := &Response{ID: "resp_1", Status: StatusCompleted}
	resp, err := client.WaitForResponse(context.Background(), input)
	require.NoError(t, err)
	assert.Same(t, input, resp)
}

func TestWaitForResponseFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"resp_1","status":"failed","output":[],"error":{"code":"server_error","message":"model unavailable"}}`))
	}))

	_, err := client.WaitForResponse(context.Background(), &Response{ID: "resp_1", Status: StatusInProgress})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResponseFailed))
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []string{StatusCompleted, StatusFailed, StatusIncomplete, StatusCancelled}
	for _, status := range terminal {
		assert.True(t, (&Response{Status: status}).Terminal(), status)
	}

	pending := []string{StatusQueued, StatusInProgress}
	for _, status := range pending {
		assert.False(t, (&Response{Status: status}).Terminal(), status)
	}
}
