package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/scry-jobs/internal/generation"
)

// DefaultBaseURL is the Groq OpenAI-compatible API root.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 4 << 10

// Transport calls POST {baseURL}/chat/completions.
type Transport struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger
}

var _ generation.Completer = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithBaseURL points the transport at another OpenAI-compatible server.
func WithBaseURL(u string) Option {
	return func(t *Transport) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewTransport creates a transport for the given key and model.
func NewTransport(apiKey, model string, timeout time.Duration, logger *slog.Logger, opts ...Option) (*Transport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", generation.ErrConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", generation.ErrConfig)
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	t := &Transport{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		model:      model,
		logger:     logger.With("component", "groq_transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete performs a single chat completion call. Retry and rate limiting
// are the caller's concern.
func (t *Transport) Complete(ctx context.Context, req generation.Request) (*generation.Response, error) {
	body := chatRequest{
		Model:       t.model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", generation.ErrConfig, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", generation.ErrConfig, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", generation.ErrTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		err := classifyStatus(resp)
		t.logger.WarnContext(ctx, "chat completion returned error status",
			"status", resp.StatusCode,
			"error", err)
		return nil, err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", generation.ErrConfig, err)
	}
	return toResponse(out)
}

func toResponse(out chatResponse) (*generation.Response, error) {
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", generation.ErrConfig)
	}
	choice := out.Choices[0]
	if choice.Message.Content == nil {
		return nil, fmt.Errorf("%w: response has no message content", generation.ErrConfig)
	}
	if out.Usage == nil {
		return nil, fmt.Errorf("%w: response has no usage", generation.ErrConfig)
	}
	if out.Model == "" {
		return nil, fmt.Errorf("%w: response has no model", generation.ErrConfig)
	}
	return &generation.Response{
		Content: *choice.Message.Content,
		Usage: generation.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
		Model:        out.Model,
		FinishReason: choice.FinishReason,
	}, nil
}

// classifyStatus maps a non-200 response onto the generation error classes.
func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var class error
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		class = generation.ErrAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		class = generation.ErrRateLimited
	case resp.StatusCode >= 500:
		class = generation.ErrTransient
	default:
		class = generation.ErrConfig
	}
	return fmt.Errorf("%w: status %d: %s", class, resp.StatusCode, msg)
}
