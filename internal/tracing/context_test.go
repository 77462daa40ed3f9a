package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewTurnID(t *testing.T) {
	id1 := NewTurnID()
	id2 := NewTurnID()

	if id1 == "" {
		t.Error("NewTurnID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTurnID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	retrieved := GetTraceID(ctx)
	if retrieved != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, retrieved)
	}
}

func TestWithTurnID(t *testing.T) {
	ctx := context.Background()
	turnID := "test-turn-id"

	ctx = WithTurnID(ctx, turnID)

	retrieved := GetTurnID(ctx)
	if retrieved != turnID {
		t.Errorf("Expected turn ID %s, got %s", turnID, retrieved)
	}
}

func TestWithConversationID(t *testing.T) {
	ctx := context.Background()
	conversationID := "conv_abc123"

	ctx = WithConversationID(ctx, conversationID)

	retrieved := GetConversationID(ctx)
	if retrieved != conversationID {
		t.Errorf("Expected conversation ID %s, got %s", conversationID, retrieved)
	}
}

func TestWithSessionKey(t *testing.T) {
	ctx := context.Background()
	sessionKey := "cli:default"

	ctx = WithSessionKey(ctx, sessionKey)

	retrieved := GetSessionKey(ctx)
	if retrieved != sessionKey {
		t.Errorf("Expected session key %s, got %s", sessionKey, retrieved)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID on fresh context")
	}
	if GetTurnID(ctx) != "" {
		t.Error("Expected empty turn ID on fresh context")
	}
	if GetConversationID(ctx) != "" {
		t.Error("Expected empty conversation ID on fresh context")
	}
	if GetSessionKey(ctx) != "" {
		t.Error("Expected empty session key on fresh context")
	}
	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID on fresh context")
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	tc := &TraceContext{
		TraceID:        "trace-1",
		TurnID:         "turn-1",
		ConversationID: "conv-1",
		SessionKey:     "session-1",
		RequestID:      "req-1",
	}

	ctx := NewContext(context.Background(), tc)
	extracted := FromContext(ctx)

	if *extracted != *tc {
		t.Errorf("round trip mismatch: got %+v, want %+v", extracted, tc)
	}
}

func TestNewTurnContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "conv_xyz")

	if GetTraceID(ctx) == "" {
		t.Error("Expected a trace ID to be generated")
	}
	if GetTurnID(ctx) == "" {
		t.Error("Expected a turn ID to be generated")
	}
	if GetConversationID(ctx) != "conv_xyz" {
		t.Errorf("Expected conversation ID conv_xyz, got %s", GetConversationID(ctx))
	}

	// Trace ID survives into the next turn, turn ID does not
	next := NewTurnContext(ctx, "conv_xyz")
	if GetTraceID(next) != GetTraceID(ctx) {
		t.Error("Expected trace ID to be kept across turns")
	}
	if GetTurnID(next) == GetTurnID(ctx) {
		t.Error("Expected a fresh turn ID per turn")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx = WithSessionKey(ctx, "cli:default")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, "trace-abc") {
		t.Errorf("Expected trace ID in log output, got %s", out)
	}
	if !strings.Contains(out, "cli:default") {
		t.Errorf("Expected session key in log output, got %s", out)
	}
}
