// Package promptcompose implements the Prompt Composer (spec §4.2): a
// stateless translation layer between the Orchestrator's typed stage
// context and the Provider Gateway's role-tagged message list, plus the
// reverse translation from a backend's raw text back into a typed value.
//
// Stage templates are declared in-code, not user-editable, mirroring the
// teacher's PromptBundle pattern of rendering named sections with
// {{variable}} placeholders (agent/prompt_bundle.go) rather than loading
// templates from disk.
package promptcompose

import "github.com/inkforge/pipeline/types"

// Stage enumerates the recognized prompt stages (spec §4.2).
type Stage string

const (
	StageOutline         Stage = "outline"
	StageIntro           Stage = "intro"
	StageSectionBody     Stage = "section-body"
	StageConclusion      Stage = "conclusion"
	StageFAQs            Stage = "faqs"
	StageMetaDescription Stage = "meta-description"
	StageProofread       Stage = "proofread"
	StageHumanize        Stage = "humanize"
	StageBookOutline     Stage = "book-outline"
	StageChapterTopics   Stage = "chapter-topics"
	StageTopicBody       Stage = "topic-body"
)

// OutputShape describes what form a stage's raw text takes, so Compose
// knows whether to request JSON mode and Parse knows how to decode it.
type OutputShape int

const (
	ShapeFreeText OutputShape = iota
	ShapeMarkdown
	ShapeJSON
)

// template declares one stage's contract: which context fields it reads,
// what shape its output takes, the JSON schema if applicable, and the
// functions that render its messages and parse its response.
type template struct {
	Fields []string
	Shape  OutputShape
	Schema *types.JSONSchema
	Render func(ctx map[string]any) []types.Message
	Parse  func(stage Stage, raw string) (any, error)
}

var registry = map[Stage]template{}

func register(stage Stage, t template) {
	registry[stage] = t
}

// Fields returns the context keys a stage reads, for callers that want to
// validate a context map before calling Compose.
func Fields(stage Stage) ([]string, bool) {
	t, ok := registry[stage]
	if !ok {
		return nil, false
	}
	return t.Fields, true
}

// Shape reports a stage's declared output shape.
func Shape(stage Stage) (OutputShape, bool) {
	t, ok := registry[stage]
	if !ok {
		return ShapeFreeText, false
	}
	return t.Shape, true
}
