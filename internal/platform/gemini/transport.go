package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/scry-jobs/internal/generation"
	"google.golang.org/genai"
)

// contentGenerator is the part of *genai.Models the transport uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Transport sends completion requests to the Gemini API.
type Transport struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

var _ generation.Completer = (*Transport)(nil)

// NewTransport creates a Gemini client for the given API key and model.
func NewTransport(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Transport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrConfig, err)
	}
	return newTransport(client.Models, model, logger)
}

func newTransport(models contentGenerator, model string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrConfig)
	}
	return &Transport{
		models: models,
		model:  model,
		logger: logger.With("component", "gemini_transport"),
	}, nil
}

// Complete performs a single GenerateContent call.
func (t *Transport) Complete(ctx context.Context, req generation.Request) (*generation.Response, error) {
	contents, cfg := buildRequest(req)
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: request has no user or assistant messages", generation.ErrConfig)
	}

	resp, err := t.models.GenerateContent(ctx, t.model, contents, cfg)
	if err != nil {
		classified := classifyError(ctx, err)
		t.logger.WarnContext(ctx, "Gemini API call failed",
			"model", t.model,
			"error", classified)
		return nil, classified
	}
	return t.toResponse(resp)
}

func buildRequest(req generation.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case generation.RoleSystem:
			system = append(system, m.Content)
		case generation.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, cfg
}

func (t *Transport) toResponse(resp *genai.GenerateContentResponse) (*generation.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrConfig)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: content blocked by safety filters", generation.ErrConfig)
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrConfig)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	out := &generation.Response{
		Content:      text.String(),
		Model:        resp.ModelVersion,
		FinishReason: strings.ToLower(string(candidate.FinishReason)),
	}
	if out.Model == "" {
		out.Model = t.model
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = generation.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// classifyError maps SDK errors onto the generation error classes.
func classifyError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return fmt.Errorf("%w: %v", generation.ErrTransient, err)
	}

	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", generation.ErrAuth, err)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", generation.ErrRateLimited, err)
	case code >= 500:
		return fmt.Errorf("%w: %v", generation.ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", generation.ErrConfig, err)
	}
}
