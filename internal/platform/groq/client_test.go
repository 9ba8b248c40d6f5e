package groq

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/scry-jobs/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr, err := NewTransport("test-key", "llama-3.3-70b-versatile", 5*time.Second, testLogger(),
		WithBaseURL(srv.URL+"/"),
		WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return tr
}

func TestCompleteSendsOpenAIRequest(t *testing.T) {
	var got map[string]any
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"model": "llama-3.3-70b-versatile",
			"choices": [{"message": {"role": "assistant", "content": "{\"suggestions\":[]}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`)
	})

	temp := 0.5
	resp, err := tr.Complete(context.Background(), generation.Request{
		Messages: []generation.Message{
			generation.SystemMessage("sys"),
			generation.UserMessage("hello"),
		},
		Temperature: &temp,
		MaxTokens:   2000,
		JSONMode:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"suggestions":[]}`, resp.Content)
	assert.Equal(t, "llama-3.3-70b-versatile", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, generation.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, resp.Usage)

	assert.Equal(t, "llama-3.3-70b-versatile", got["model"])
	assert.InDelta(t, 0.5, got["temperature"], 1e-9)
	assert.InDelta(t, 2000, got["max_tokens"], 1e-9)
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestCompleteOmitsResponseFormatWithoutJSONMode(t *testing.T) {
	var got map[string]any
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"model":"m","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"total_tokens":1}}`)
	})

	_, err := tr.Complete(context.Background(), generation.Request{
		Messages: []generation.Message{generation.UserMessage("x")},
	})
	require.NoError(t, err)
	_, present := got["response_format"]
	assert.False(t, present)
}

func TestCompleteClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"error":{"message":"Invalid API Key"}}`, generation.ErrAuth},
		{http.StatusForbidden, ``, generation.ErrAuth},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, generation.ErrRateLimited},
		{http.StatusInternalServerError, `oops`, generation.ErrTransient},
		{http.StatusServiceUnavailable, ``, generation.ErrTransient},
		{http.StatusBadRequest, `{"error":{"message":"bad model"}}`, generation.ErrConfig},
		{http.StatusNotFound, ``, generation.ErrConfig},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := tr.Complete(context.Background(), generation.Request{
				Messages: []generation.Message{generation.UserMessage("x")},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCompleteRejectsIncompleteResponses(t *testing.T) {
	bodies := map[string]string{
		"no choices": `{"model":"m","choices":[],"usage":{"total_tokens":1}}`,
		"no content": `{"model":"m","choices":[{"message":{},"finish_reason":"stop"}],"usage":{"total_tokens":1}}`,
		"no usage":   `{"model":"m","choices":[{"message":{"content":"x"}}]}`,
		"no model":   `{"choices":[{"message":{"content":"x"}}],"usage":{"total_tokens":1}}`,
		"not json":   `<html>`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			_, err := tr.Complete(context.Background(), generation.Request{
				Messages: []generation.Message{generation.UserMessage("x")},
			})
			assert.ErrorIs(t, err, generation.ErrConfig)
		})
	}
}

func TestCompleteNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr, err := NewTransport("k", "m", time.Second, testLogger(), WithBaseURL(url))
	require.NoError(t, err)
	_, err = tr.Complete(context.Background(), generation.Request{
		Messages: []generation.Message{generation.UserMessage("x")},
	})
	assert.ErrorIs(t, err, generation.ErrTransient)
	assert.True(t, generation.IsRetryable(err))
}

func TestNewTransportValidation(t *testing.T) {
	_, err := NewTransport("", "m", 0, testLogger())
	assert.ErrorIs(t, err, generation.ErrConfig)
	_, err = NewTransport("k", "", 0, testLogger())
	assert.ErrorIs(t, err, generation.ErrConfig)
	_, err = NewTransport("k", "m", 0, nil)
	assert.Error(t, err)

	tr, err := NewTransport("k", "m", 0, testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, tr.baseURL)
}
