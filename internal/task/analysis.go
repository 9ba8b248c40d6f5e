package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/generation"
)

// Built-in analysis task types.
const (
	TypeSuggest  = "suggest"
	TypeChat     = "chat"
	TypeDiff     = "diff"
	TypeCLOCheck = "clo_check"
	TypeSummary  = "summary"
)

// ErrInvalidOutput is returned when the model output cannot be parsed.
var ErrInvalidOutput = errors.New("model returned invalid output")

// chatHistoryLimit is how many previous turns are sent with a chat request.
const chatHistoryLimit = 5

// analysis is a single-call completion task. Progress steps in before are
// reported in order ahead of the model call; after is reported once the
// model has answered.
type analysis struct {
	completer   generation.Completer
	before      []int
	after       int
	temperature float64
	maxTokens   int
	jsonMode    bool
	validate    func(payload json.RawMessage) error
	messages    func(payload json.RawMessage) ([]generation.Message, error)
	result      func(job *domain.Job, resp *generation.Response) (any, error)
}

var (
	_ Handler          = (*analysis)(nil)
	_ PayloadValidator = (*analysis)(nil)
)

func (a *analysis) ValidatePayload(payload json.RawMessage) error {
	if a.validate == nil {
		return nil
	}
	return a.validate(payload)
}

func (a *analysis) Handle(ctx context.Context, job *domain.Job, progress Progress) (json.RawMessage, error) {
	messages, err := a.messages(job.Request)
	if err != nil {
		return nil, err
	}

	// the last checkpoint sits immediately before the external call
	for _, step := range a.before {
		if err := progress.Report(ctx, step); err != nil {
			return nil, err
		}
	}

	temp := a.temperature
	resp, err := a.completer.Complete(ctx, generation.Request{
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   a.maxTokens,
		JSONMode:    a.jsonMode,
	})
	if err != nil {
		return nil, err
	}

	if a.after > 0 {
		if err := progress.Report(ctx, a.after); err != nil {
			return nil, err
		}
	}

	out, err := a.result(job, resp)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// RegisterAnalysisHandlers registers the five built-in analysis tasks.
func RegisterAnalysisHandlers(r *Registry, completer generation.Completer) {
	r.Register(TypeSuggest, NewSuggestHandler(completer))
	r.Register(TypeChat, NewChatHandler(completer))
	r.Register(TypeDiff, NewDiffHandler(completer))
	r.Register(TypeCLOCheck, NewCLOCheckHandler(completer))
	r.Register(TypeSummary, NewSummaryHandler(completer))
}

type suggestPayload struct {
	Content   string `json:"content"`
	FocusArea string `json:"focusArea"`
}

// NewSuggestHandler reviews a syllabus and proposes improvements.
func NewSuggestHandler(completer generation.Completer) Handler {
	return &analysis{
		completer:   completer,
		before:      []int{10, 30, 50},
		after:       80,
		temperature: 0.7,
		maxTokens:   2000,
		jsonMode:    true,
		validate: func(raw json.RawMessage) error {
			var p suggestPayload
			if err := decodePayload(raw, &p); err != nil {
				return err
			}
			if p.Content == "" {
				return errors.New("content is required")
			}
			return nil
		},
		messages: func(raw json.RawMessage) ([]generation.Message, error) {
			var p suggestPayload
			if err := decodePayload(raw, &p); err != nil {
				return nil, err
			}
			return []generation.Message{
				generation.SystemMessage(suggestSystemPrompt),
				generation.UserMessage(buildSuggestPrompt(p.Content, p.FocusArea)),
			}, nil
		},
		result: func(job *domain.Job, resp *generation.Response) (any, error) {
			var out struct {
				Suggestions []json.RawMessage `json:"suggestions"`
				Summary     string            `json:"summary"`
			}
			if err := parseOutput(resp.Content, &out); err != nil {
				return nil, err
			}
			return map[string]any{
				"jobId":       job.ID,
				"suggestions": nonNil(out.Suggestions),
				"summary":     out.Summary,
				"tokens":      resp.Usage.TotalTokens,
				"model":       resp.Model,
			}, nil
		},
	}
}

type chatPayload struct {
	ConversationID  string               `json:"conversationId"`
	Message         string               `json:"message"`
	SyllabusContext string               `json:"syllabusContext"`
	History         []generation.Message `json:"history"`
}

var citationPattern = regexp.MustCompile(`(?:Section \d+(?:\.\d+)?|Chapter \d+)`)

// NewChatHandler answers a question about a syllabus.
func NewChatHandler(completer generation.Completer) Handler {
	return &analysis{
		completer:   completer,
		before:      []int{20, 40, 60},
		after:       90,
		temperature: 0.7,
		maxTokens:   1500,
		validate: func(raw json.RawMessage) error {
			var p chatPayload
			if err := decodePayload(raw, &p); err != nil {
				return err
			}
			if p.Message == "" {
				return errors.New("message is required")
			}
			return nil
		},
		messages: func(raw json.RawMessage) ([]generation.Message, error) {
			var p chatPayload
			if err := decodePayload(raw, &p); err != nil {
				return nil, err
			}
			msgs := []generation.Message{generation.SystemMessage(chatSystemPrompt)}
			if p.SyllabusContext != "" {
				msgs = append(msgs, generation.SystemMessage("Syllabus under discussion:\n"+p.SyllabusContext))
			}
			history := p.History
			if len(history) > chatHistoryLimit {
				history = history[len(history)-chatHistoryLimit:]
			}
			for _, m := range history {
				if m.Role == generation.RoleUser || m.Role == generation.RoleAssistant {
					msgs = append(msgs, m)
				}
			}
			return append(msgs, generation.UserMessage(p.Message)), nil
		},
		result: func(job *domain.Job, resp *generation.Response) (any, error) {
			var p chatPayload
			_ = decodePayload(job.Request, &p)
			conversationID := p.ConversationID
			if conversationID == "" {
				conversationID = "conv_" + job.ID
			}
			return map[string]any{
				"jobId":          job.ID,
				"conversationId": conversationID,
				"answer": map[string]any{
					"content":   resp.Content,
					"citations": extractCitations(resp.Content),
				},
				"usage": map[string]int{
					"promptTokens":     resp.Usage.PromptTokens,
					"completionTokens": resp.Usage.CompletionTokens,
					"totalTokens":      resp.Usage.TotalTokens,
				},
				"model": resp.Model,
			}, nil
		},
	}
}

type diffPayload struct {
	OldContent string `json:"oldContent"`
	NewContent string `json:"newContent"`
}

// NewDiffHandler explains the changes between two document versions.
func NewDiffHandler(completer generation.Completer) Handler {
	return &analysis{
		completer:   completer,
		before:      []int{20, 40, 60},
		after:       85,
		temperature: 0.5,
		maxTokens:   2500,
		jsonMode:    true,
		validate: func(raw json.RawMessage) error {
			var p diffPayload
			if err := decodePayload(raw, &p); err != nil {
				return err
			}
			if p.OldContent == "" && p.NewContent == "" {
				return errors.New("oldContent or newContent is required")
			}
			return nil
		},
		messages: func(raw json.RawMessage) ([]generation.Message, error) {
			var p diffPayload
			if err := decodePayload(raw, &p); err != nil {
				return nil, err
			}
			return []generation.Message{
				generation.SystemMessage(diffSystemPrompt),
				generation.UserMessage(buildDiffPrompt(p.OldContent, p.NewContent)),
			}, nil
		},
		result: func(job *domain.Job, resp *generation.Response) (any, error) {
			var out struct {
				Diffs       []json.RawMessage `json:"diffs"`
				Summary     string            `json:"summary"`
				ImpactLevel string            `json:"impactLevel"`
			}
			if err := parseOutput(resp.Content, &out); err != nil {
				return nil, err
			}
			if out.ImpactLevel == "" {
				out.ImpactLevel = "medium"
			}
			return map[string]any{
				"jobId":       job.ID,
				"diffs":       nonNil(out.Diffs),
				"summary":     out.Summary,
				"impactLevel": out.ImpactLevel,
				"tokens":      resp.Usage.TotalTokens,
				"model":       resp.Model,
			}, nil
		},
	}
}

type cloCheckPayload struct {
	CLOs    json.RawMessage `json:"clos"`
	PLOs    json.RawMessage `json:"plos"`
	Mapping json.RawMessage `json:"mapping"`
}

// NewCLOCheckHandler checks learning outcome alignment.
func NewCLOCheckHandler(completer generation.Completer) Handler {
	return &analysis{
		completer:   completer,
		before:      []int{25, 45, 65},
		after:       85,
		temperature: 0.4,
		maxTokens:   2500,
		jsonMode:    true,
		validate: func(raw json.RawMessage) error {
			var p cloCheckPayload
			if err := decodePayload(raw, &p); err != nil {
				return err
			}
			if rawOrEmpty(p.CLOs, "") == "" {
				return errors.New("clos is required")
			}
			return nil
		},
		messages: func(raw json.RawMessage) ([]generation.Message, error) {
			var p cloCheckPayload
			if err := decodePayload(raw, &p); err != nil {
				return nil, err
			}
			return []generation.Message{
				generation.SystemMessage(cloCheckSystemPrompt),
				generation.UserMessage(buildCLOCheckPrompt(p.CLOs, p.PLOs, p.Mapping)),
			}, nil
		},
		result: func(job *domain.Job, resp *generation.Response) (any, error) {
			var out struct {
				Report  json.RawMessage `json:"report"`
				Score   float64         `json:"score"`
				Summary string          `json:"summary"`
			}
			if err := parseOutput(resp.Content, &out); err != nil {
				return nil, err
			}
			report := out.Report
			if len(report) == 0 || string(report) == "null" {
				report = json.RawMessage("{}")
			}
			return map[string]any{
				"jobId":   job.ID,
				"report":  report,
				"score":   out.Score,
				"summary": out.Summary,
				"tokens":  resp.Usage.TotalTokens,
				"model":   resp.Model,
			}, nil
		},
	}
}

type summaryPayload struct {
	Content string `json:"content"`
	Length  string `json:"length"`
}

// NewSummaryHandler summarises a document.
func NewSummaryHandler(completer generation.Completer) Handler {
	return &analysis{
		completer:   completer,
		before:      []int{30, 50},
		after:       70,
		temperature: 0.6,
		maxTokens:   1500,
		jsonMode:    true,
		validate: func(raw json.RawMessage) error {
			var p summaryPayload
			if err := decodePayload(raw, &p); err != nil {
				return err
			}
			if p.Content == "" {
				return errors.New("content is required")
			}
			if _, ok := summaryLengths[p.Length]; p.Length != "" && !ok {
				return fmt.Errorf("length must be one of %v", sortedKeys(summaryLengths))
			}
			return nil
		},
		messages: func(raw json.RawMessage) ([]generation.Message, error) {
			var p summaryPayload
			if err := decodePayload(raw, &p); err != nil {
				return nil, err
			}
			return []generation.Message{
				generation.SystemMessage(summarySystemPrompt),
				generation.UserMessage(buildSummaryPrompt(p.Content, p.Length)),
			}, nil
		},
		result: func(job *domain.Job, resp *generation.Response) (any, error) {
			var out struct {
				Summary        string   `json:"summary"`
				Bullets        []string `json:"bullets"`
				Keywords       []string `json:"keywords"`
				TargetAudience string   `json:"targetAudience"`
				Prerequisites  string   `json:"prerequisites"`
			}
			if err := parseOutput(resp.Content, &out); err != nil {
				return nil, err
			}
			return map[string]any{
				"jobId":          job.ID,
				"summary":        out.Summary,
				"bullets":        nonNilStrings(out.Bullets),
				"keywords":       nonNilStrings(out.Keywords),
				"targetAudience": out.TargetAudience,
				"prerequisites":  out.Prerequisites,
				"tokens":         resp.Usage.TotalTokens,
				"model":          resp.Model,
			}, nil
		},
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func parseOutput(content string, v any) error {
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

func extractCitations(text string) []string {
	seen := make(map[string]struct{})
	citations := []string{}
	for _, m := range citationPattern.FindAllString(text, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		citations = append(citations, m)
	}
	return citations
}

func nonNil(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
