package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "conv-1"})
	})
	mux.HandleFunc("POST /conversations/{id}/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "conv-1", r.PathValue("id"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		_ = json.NewEncoder(w).Encode(ChatResponse{Messages: []ChatMessage{
			{Text: reply, Attributions: []Attribution{{Title: "doc"}}},
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPChatClient_ConversationAndChat(t *testing.T) {
	srv := newChatServer(t, "Paris")
	client := NewHTTPChatClient(Config{ChatEndpoint: srv.URL}, testLogger())
	ctx := context.Background()

	id, err := client.CreateConversation(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", id)

	resp, err := client.Chat(ctx, "secret", id, ChatRequest{Text: "Capital of France?"})
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.Text())
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "doc", resp.Messages[0].Attributions[0].Title)
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "server error", status: http.StatusInternalServerError, retryable: true},
		{name: "bad gateway", status: http.StatusBadGateway, retryable: true},
		{name: "throttled", status: http.StatusTooManyRequests, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, retryable: false},
		{name: "bad request", status: http.StatusBadRequest, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			client := NewHTTPChatClient(Config{ChatEndpoint: srv.URL}, testLogger())
			_, err := client.CreateConversation(context.Background(), "secret")
			require.Error(t, err)

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}

func TestHTTPSearchClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sources/kb-1/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refund policy", req.Query)
		assert.Equal(t, 3, req.MaxResults)

		_ = json.NewEncoder(w).Encode(map[string]any{"hits": []SearchHit{
			{ID: "1", Content: "a"}, {ID: "2", Content: "b"}, {ID: "3", Content: "c"}, {ID: "4", Content: "d"},
		}})
	}))
	defer srv.Close()

	client := NewHTTPSearchClient(Config{SearchEndpoint: srv.URL}, testLogger())
	hits, err := client.Search(context.Background(), "secret", "kb-1", "refund policy", 3)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestHTTPClient_CanceledContext(t *testing.T) {
	srv := newChatServer(t, "unused")
	client := NewHTTPChatClient(Config{ChatEndpoint: srv.URL, RequestsPerSecond: 1}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CreateConversation(ctx, "secret")
	require.Error(t, err)
	assert.True(t, domain.IsCancellation(err))
}

func TestChatJudge(t *testing.T) {
	srv := newChatServer(t, "Score: 0.9\nReasoning: close\nDifferences: none")
	judge := NewChatJudge(NewHTTPChatClient(Config{ChatEndpoint: srv.URL}, testLogger()), StaticToken("secret"))

	reply, err := judge.Judge(context.Background(), "compare these")
	require.NoError(t, err)
	assert.Contains(t, reply, "Score: 0.9")
}
