package promptcompose

import "github.com/inkforge/pipeline/types"

func init() {
	register(StageProofread, template{
		Fields: []string{"body"},
		Shape:  ShapeMarkdown,
		Render: renderProofread,
		Parse:  func(_ Stage, raw string) (any, error) { return parseText(raw) },
	})
	register(StageHumanize, template{
		Fields: []string{"body"},
		Shape:  ShapeMarkdown,
		Render: renderHumanize,
		Parse:  func(_ Stage, raw string) (any, error) { return parseText(raw) },
	})
}

// renderProofread always runs before renderHumanize within a body's
// post-processing pass (spec §4.3: "proofread ALWAYS precedes humanize").
func renderProofread(ctx map[string]any) []types.Message {
	system := "Proofread the given Markdown passage: fix grammar, spelling, and " +
		"punctuation. Preserve meaning, structure, and Markdown formatting " +
		"exactly. Return only the corrected passage."
	user := ctxString(ctx, "body")
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func renderHumanize(ctx map[string]any) []types.Message {
	system := "Rewrite the given Markdown passage to read more naturally and " +
		"less formulaically, without changing its facts, structure, or " +
		"Markdown formatting. Return only the rewritten passage."
	user := ctxString(ctx, "body")
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}
