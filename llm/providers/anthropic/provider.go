// Package anthropic implements the Provider Gateway's Backend interface
// against Anthropic's native Messages API over raw net/http (no vendor
// SDK), grounded on the teacher's hand-rolled Claude wire client.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inkforge/pipeline/internal/pool"
	"github.com/inkforge/pipeline/internal/tlsutil"
	"github.com/inkforge/pipeline/llm"
	"github.com/inkforge/pipeline/llm/providers"
	"github.com/inkforge/pipeline/types"
	"go.uber.org/zap"
)

const defaultModel = "claude-3-5-sonnet-20241022"

// Provider implements llm.Backend for Anthropic's Messages API.
type Provider struct {
	cfg    providers.AnthropicConfig
	client *http.Client
	logger *zap.Logger
}

// New creates an Anthropic backend. cfg.BaseURL defaults to the public API
// host; cfg.AnthropicVersion defaults to "2023-06-01".
func New(cfg providers.AnthropicConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = "2023-06-01"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *Provider) Name() string            { return "anthropic" }
func (p *Provider) SupportsJSONMode() bool   { return false }

// Claude's native wire shapes. System prompt travels as a top-level field,
// never as a message in the conversation array.
type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type response struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    []content `json:"content"`
	Model      string    `json:"model"`
	StopReason string    `json:"stop_reason"`
	Usage      *usage    `json:"usage,omitempty"`
}

type errorResp struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", p.cfg.AnthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func convertMessages(msgs []types.Message) (string, []message) {
	var system string
	var out []message
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		out = append(out, message{
			Role:    string(m.Role),
			Content: []content{{Type: "text", Text: m.Content}},
		})
	}
	return system, out
}

// GenerateText implements llm.Backend.
func (p *Provider) GenerateText(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.ModelOverride
	if model == "" {
		model = p.cfg.Model
	}
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	system, messages := convertMessages(req.Messages)
	body := request{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassInput, Backend: p.Name(), Err: err}
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassInput, Backend: p.Name(), Err: err}
	}
	p.buildHeaders(httpReq)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassTransient, Backend: p.Name(), Err: err}
	}
	defer providers.SafeCloseBody(httpResp.Body)

	if httpResp.StatusCode >= 400 {
		msg := readErrMsg(httpResp.Body)
		return llm.Response{}, mapError(httpResp.StatusCode, msg, p.Name())
	}

	var parsed response
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassTransient, Backend: p.Name(), Err: err}
	}

	var text strings.Builder
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	out := llm.Response{Text: text.String(), Model: parsed.Model}
	if parsed.Usage != nil {
		out.Usage = types.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		}
	} else {
		out.Usage = types.TokenUsage{
			TotalTokens: types.EstimateTokensFromBytes(len(text.String())),
			Approximate: true,
		}
	}
	return out, nil
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var e errorResp
	if err := json.Unmarshal(data, &e); err == nil && e.Error.Message != "" {
		return fmt.Sprintf("%s (type: %s)", e.Error.Message, e.Error.Type)
	}
	return string(data)
}

// mapError applies Anthropic's status-code vocabulary, including its
// 529-overloaded extension, on top of the shared HTTP mapping.
func mapError(status int, msg, backend string) *llm.BackendError {
	if status == http.StatusBadRequest && (strings.Contains(msg, "credit") || strings.Contains(msg, "quota")) {
		return &llm.BackendError{Class: llm.ClassInput, Backend: backend, Err: fmt.Errorf("quota exceeded: %s", msg)}
	}
	return providers.MapHTTPError(status, msg, backend)
}
