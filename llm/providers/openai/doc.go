// Package openai adapts the Provider Gateway's Backend interface to the
// OpenAI Chat Completions API (/v1/chat/completions): Bearer auth and a
// native JSON response_format mode the gateway can request directly.
package openai
