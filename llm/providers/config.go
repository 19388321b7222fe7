package providers

import "time"

// BaseConfig holds the fields every backend config shares. Embedding it
// gives each family's Config the APIKey/BaseURL/Model/Timeout quartet
// without repeating the field definitions.
type BaseConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AnthropicConfig configures the anthropic backend.
type AnthropicConfig struct {
	BaseConfig       `yaml:",inline"`
	AnthropicVersion string `json:"anthropic_version,omitempty" yaml:"anthropic_version,omitempty"`
}

// OpenAIConfig configures the openai backend.
type OpenAIConfig struct {
	BaseConfig   `yaml:",inline"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// GeminiConfig configures the gemini backend.
type GeminiConfig struct {
	BaseConfig `yaml:",inline"`
}
