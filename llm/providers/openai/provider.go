package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

const defaultModel = "gpt-4o"

var errNoChoices = errors.New("openai: response contained no choices")

// Provider implements llm.Backend for OpenAI's Chat Completions API.
type Provider struct {
	cfg    providers.OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// New creates an OpenAI backend. cfg.BaseURL defaults to the public API host.
func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: tlsutil.SecureHTTPClient(cfg.Timeout), logger: logger}
}

func (p *Provider) Name() string          { return "openai" }
func (p *Provider) SupportsJSONMode() bool { return true }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type request struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type choice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      message `json:"message"`
}

type response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.cfg.Organization)
	}
	req.Header.Set("Content-Type", "application/json")
}

func convertMessages(msgs []types.Message) []message {
	out := make([]message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, message{Role: string(m.Role), Content: m.Content})
	}
	return out
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

	body := request{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	}
	if req.RequireJSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassInput, Backend: p.Name(), Err: err}
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
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
		msg := providers.ReadErrorMessage(httpResp.Body)
		return llm.Response{}, providers.MapHTTPError(httpResp.StatusCode, msg, p.Name())
	}

	var parsed response
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassTransient, Backend: p.Name(), Err: err}
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassTransient, Backend: p.Name(), Err: errNoChoices}
	}

	text := parsed.Choices[0].Message.Content
	out := llm.Response{Text: text, Model: parsed.Model}
	if parsed.Usage != nil {
		out.Usage = types.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	} else {
		out.Usage = types.TokenUsage{
			TotalTokens: types.EstimateTokensFromBytes(len(text)),
			Approximate: true,
		}
	}
	return out, nil
}
