package foundry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CreateConversation opens a new server-side conversation. Metadata is
// optional and stored verbatim.
func (c *Client) CreateConversation(ctx context.Context, metadata map[string]string) (*Conversation, error) {
	body := struct {
		Metadata map[string]string `json:"metadata,omitempty"`
	}{Metadata: metadata}

	var conv Conversation
	if err := c.doOpenAI(ctx, "conversations.create", http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("conversation_id", conv.ID).Msg("Conversation created")
	return &conv, nil
}

// GetConversation fetches a conversation by ID. A stale ID surfaces as
// ErrNotFound, which callers use to decide whether a stored conversation
// can be resumed.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("foundry: conversation id is required")
	}
	var conv Conversation
	if err := c.doOpenAI(ctx, "conversations.get", http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversationItems returns up to limit items of a conversation's
// stored history, oldest first. limit <= 0 uses the service default.
func (c *Client) ListConversationItems(ctx context.Context, id string, limit int) ([]OutputItem, error) {
	if id == "" {
		return nil, fmt.Errorf("foundry: conversation id is required")
	}
	path := "/conversations/" + url.PathEscape(id) + "/items"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var page listEnvelope[OutputItem]
	if err := c.doOpenAI(ctx, "conversations.list_items", http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// DeleteConversation discards the conversation and its stored history.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("foundry: conversation id is required")
	}
	if err := c.doOpenAI(ctx, "conversations.delete", http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil); err != nil {
		return err
	}
	c.logger.Debug().Str("conversation_id", id).Msg("Conversation deleted")
	return nil
}
