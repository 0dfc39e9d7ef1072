package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ChatRequest is one user turn sent to the chat service
type ChatRequest struct {
	Text         string `json:"text"`
	Context      string `json:"context,omitempty"`
	LocationHint string `json:"location_hint,omitempty"`
}

// Attribution cites a source the chat service used
type Attribution struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ChatMessage is one message of a chat reply
type ChatMessage struct {
	Text         string        `json:"text"`
	Attributions []Attribution `json:"attributions,omitempty"`
}

// ChatResponse is the reply to a ChatRequest
type ChatResponse struct {
	Messages []ChatMessage `json:"messages"`
}

// Text joins the text of every message in the reply
func (r *ChatResponse) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		if t := strings.TrimSpace(m.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// ChatClient is the chat-completion collaborator
type ChatClient interface {
	CreateConversation(ctx context.Context, authToken string) (string, error)
	Chat(ctx context.Context, authToken, conversationID string, req ChatRequest) (*ChatResponse, error)
}

// HTTPChatClient talks to the chat service over JSON/HTTP
type HTTPChatClient struct {
	client *httpClient
}

// NewHTTPChatClient creates a chat client for cfg.ChatEndpoint
func NewHTTPChatClient(cfg Config, logger *slog.Logger) *HTTPChatClient {
	return &HTTPChatClient{client: newHTTPClient(cfg.ChatEndpoint, cfg, logger)}
}

// CreateConversation opens a new conversation and returns its id
func (c *HTTPChatClient) CreateConversation(ctx context.Context, authToken string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.client.postJSON(ctx, "/conversations", authToken, struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("chat service returned an empty conversation id")
	}
	return resp.ID, nil
}

// Chat sends one turn to an existing conversation
func (c *HTTPChatClient) Chat(ctx context.Context, authToken, conversationID string, req ChatRequest) (*ChatResponse, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/chat"

	var resp ChatResponse
	if err := c.client.postJSON(ctx, path, authToken, req, &resp); err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	return &resp, nil
}
