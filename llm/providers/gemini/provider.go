package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

const defaultModel = "gemini-2.5-flash"

var errNoCandidates = errors.New("gemini: response contained no candidates")

// Provider implements llm.Backend for Google's Gemini REST API.
type Provider struct {
	cfg    providers.GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// New creates a Gemini backend. cfg.BaseURL defaults to the public API host.
func New(cfg providers.GeminiConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: tlsutil.SecureHTTPClient(cfg.Timeout), logger: logger}
}

func (p *Provider) Name() string          { return "gemini" }
func (p *Provider) SupportsJSONMode() bool { return true }

type part struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type request struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type candidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type response struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// convertMessages separates the leading system turn (Gemini takes it as a
// distinct systemInstruction) from the user/assistant turns, mapping
// RoleAssistant to Gemini's "model" role.
func convertMessages(msgs []types.Message) (*geminiContent, []geminiContent) {
	var system *geminiContent
	var out []geminiContent
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			if system == nil {
				system = &geminiContent{Parts: []part{{Text: m.Content}}}
			} else {
				system.Parts[0].Text += "\n\n" + m.Content
			}
			continue
		}
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "model"
		}
		out = append(out, geminiContent{Role: role, Parts: []part{{Text: m.Content}}})
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

	system, contents := convertMessages(req.Messages)
	body := request{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &generationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.RequireJSON {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassInput, Backend: p.Name(), Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.cfg.BaseURL, "/"), model)
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
	if len(parsed.Candidates) == 0 {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassTransient, Backend: p.Name(), Err: errNoCandidates}
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	out := llm.Response{Text: text.String(), Model: parsed.ModelVersion}
	if out.Model == "" {
		out.Model = model
	}
	if parsed.UsageMetadata != nil {
		out.Usage = types.TokenUsage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		}
	} else {
		out.Usage = types.TokenUsage{
			TotalTokens: types.EstimateTokensFromBytes(len(text.String())),
			Approximate: true,
		}
	}
	return out, nil
}
