package orchestrator

import (
	"fmt"

	"github.com/inkforge/pipeline/llm"
	"github.com/inkforge/pipeline/promptcompose"
	"github.com/inkforge/pipeline/types"
)

const temperatureBump = 0.1

// callJSONStage composes, calls, and parses a JSON-shaped stage into T,
// retrying once at a temperature raised by 0.1 on a schema mismatch or a
// parse failure (spec §4.3 outline step, spec §7 ErrSchemaMismatch row:
// "one retry at raised temperature, then fatal"). Any other gateway
// error (bad request, auth, all-backends-failed) is fatal on the first
// attempt; it is never worth retrying at a different temperature.
func callJSONStage[T any](r *jobRun, stage promptcompose.Stage, vars map[string]any, baseTemperature float64) (T, error) {
	var zero T
	temperature := baseTemperature
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		msgs, err := promptcompose.Compose(stage, vars)
		if err != nil {
			return zero, err
		}
		req := llm.Request{
			Messages:    msgs,
			Temperature: temperature,
			RequireJSON: promptcompose.RequiresJSON(stage),
			Schema:      promptcompose.SchemaFor(stage),
		}
		resp, err := r.o.gateway.GenerateText(r.ctx, req, r.callMeta(string(stage)))
		if err != nil {
			if attempt == 1 && types.GetErrorCode(err) == types.ErrSchemaMismatch {
				temperature += temperatureBump
				lastErr = err
				continue
			}
			return zero, err
		}
		r.addTokens(resp.Usage)

		parsed, err := promptcompose.Parse(stage, resp.Text)
		if err != nil {
			if attempt == 1 {
				temperature += temperatureBump
				lastErr = err
				continue
			}
			return zero, err
		}
		v, ok := parsed.(T)
		if !ok {
			return zero, fmt.Errorf("orchestrator: stage %s produced unexpected type %T", stage, parsed)
		}
		return v, nil
	}
	return zero, fmt.Errorf("orchestrator: stage %s failed after retry at raised temperature: %w", stage, lastErr)
}

// callFreeTextStage composes, calls, and parses a free-text/Markdown
// stage. It never retries itself; soft-failure handling (placeholder
// body, warning event) is the caller's responsibility per item.
func callFreeTextStage(r *jobRun, stage promptcompose.Stage, vars map[string]any) (string, error) {
	msgs, err := promptcompose.Compose(stage, vars)
	if err != nil {
		return "", err
	}
	req := llm.Request{
		Messages:    msgs,
		RequireJSON: promptcompose.RequiresJSON(stage),
		Schema:      promptcompose.SchemaFor(stage),
	}
	resp, err := r.o.gateway.GenerateText(r.ctx, req, r.callMeta(string(stage)))
	if err != nil {
		return "", err
	}
	r.addTokens(resp.Usage)

	parsed, err := promptcompose.Parse(stage, resp.Text)
	if err != nil {
		return "", err
	}
	text, _ := parsed.(promptcompose.TextResult)
	return string(text), nil
}

func (r *jobRun) callMeta(stage string) llm.CallMeta {
	return llm.CallMeta{ConversationID: r.conversationID, JobID: r.jobID, Stage: stage}
}
