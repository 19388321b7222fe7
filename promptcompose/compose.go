package promptcompose

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inkforge/pipeline/types"
)

// Compose renders stage's messages from ctx (spec §4.2). ctx keys are
// whatever the stage's Fields() declares; unrecognized keys are ignored,
// missing ones render as empty.
func Compose(stage Stage, ctx map[string]any) ([]types.Message, error) {
	t, ok := registry[stage]
	if !ok {
		return nil, fmt.Errorf("promptcompose: unknown stage %q", stage)
	}
	return t.Render(ctx), nil
}

// Parse decodes raw backend text into stage's typed value (spec §4.2). It
// never retries; a failure is reported as *types.ErrParseFailureDetail and
// the Orchestrator decides whether to retry the underlying call.
func Parse(stage Stage, raw string) (any, error) {
	t, ok := registry[stage]
	if !ok {
		return nil, fmt.Errorf("promptcompose: unknown stage %q", stage)
	}
	v, err := t.Parse(stage, raw)
	if err != nil {
		return nil, &types.ErrParseFailureDetail{Stage: string(stage), Reason: err.Error(), Raw: raw}
	}
	return v, nil
}

// RequiresJSON reports whether stage's output shape calls for requesting
// the backend's native JSON mode.
func RequiresJSON(stage Stage) bool {
	shape, ok := Shape(stage)
	return ok && shape == ShapeJSON
}

// SchemaFor returns the JSON schema a stage's output must satisfy, or nil
// for non-JSON stages.
func SchemaFor(stage Stage) *types.JSONSchema {
	t, ok := registry[stage]
	if !ok {
		return nil
	}
	return t.Schema
}

// parseJSON decodes raw as JSON into a fresh *T, tolerating a leading/
// trailing code fence some backends wrap JSON output in despite JSON mode.
func parseJSON[T any](raw string) (*T, error) {
	raw = stripCodeFence(raw)
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &v, nil
}

func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

// parseText trims raw and rejects an empty result.
func parseText(raw string) (TextResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty response")
	}
	return TextResult(trimmed), nil
}
