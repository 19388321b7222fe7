package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inkforge/pipeline/llm"
	"github.com/inkforge/pipeline/llm/providers"
	"github.com/inkforge/pipeline/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProvider_Name(t *testing.T) {
	p := New(providers.GeminiConfig{}, zap.NewNop())
	assert.Equal(t, "gemini", p.Name())
}

func TestProvider_SupportsJSONMode(t *testing.T) {
	p := New(providers.GeminiConfig{}, zap.NewNop())
	assert.True(t, p.SupportsJSONMode())
}

func TestProvider_GenerateText_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, ":generateContent"))
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.SystemInstruction)
		assert.Equal(t, "be helpful", body.SystemInstruction.Parts[0].Text)
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "user", body.Contents[0].Role)

		_ = json.NewEncoder(w).Encode(response{
			Candidates: []candidate{
				{Content: geminiContent{Parts: []part{{Text: "an answer"}}}},
			},
			UsageMetadata: &usageMetadata{PromptTokenCount: 4, CandidatesTokenCount: 6, TotalTokenCount: 10},
		})
	}))
	defer server.Close()

	p := New(providers.GeminiConfig{BaseConfig: providers.BaseConfig{
		APIKey: "test-key", BaseURL: server.URL,
	}}, zap.NewNop())

	resp, err := p.GenerateText(context.Background(), llm.Request{
		Messages: []types.Message{
			types.NewSystemMessage("be helpful"),
			types.NewUserMessage("hi"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "an answer", resp.Text)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestProvider_GenerateText_AssistantRoleMapsToModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 2)
		assert.Equal(t, "model", body.Contents[0].Role)
		_ = json.NewEncoder(w).Encode(response{Candidates: []candidate{{Content: geminiContent{Parts: []part{{Text: "ok"}}}}}})
	}))
	defer server.Close()

	p := New(providers.GeminiConfig{BaseConfig: providers.BaseConfig{
		APIKey: "k", BaseURL: server.URL,
	}}, zap.NewNop())

	_, err := p.GenerateText(context.Background(), llm.Request{
		Messages: []types.Message{
			types.NewAssistantMessage("prior turn"),
			types.NewUserMessage("follow up"),
		},
	})
	require.NoError(t, err)
}

func TestProvider_GenerateText_NoCandidatesIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(response{})
	}))
	defer server.Close()

	p := New(providers.GeminiConfig{BaseConfig: providers.BaseConfig{
		APIKey: "k", BaseURL: server.URL,
	}}, zap.NewNop())

	_, err := p.GenerateText(context.Background(), llm.Request{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)
	var backendErr *llm.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, llm.ClassTransient, backendErr.Class)
}
