package promptcompose

import (
	"fmt"
	"regexp"
	"strings"
)

// templateVarRegexp matches {{variable}} or {{ variable }}, the same
// placeholder syntax the teacher's PromptBundle uses for system-prompt
// variables (agent/prompt_bundle.go).
var templateVarRegexp = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.-]*)\s*\}\}`)

// renderVars substitutes {{name}} placeholders in text using vars,
// stringifying each context value. A placeholder with no matching key is
// left in place, same as the teacher's replaceTemplateVars.
func renderVars(text string, ctx map[string]any) string {
	if text == "" || len(ctx) == 0 {
		return text
	}
	return templateVarRegexp.ReplaceAllStringFunc(text, func(match string) string {
		sub := templateVarRegexp.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		val, ok := ctx[sub[1]]
		if !ok {
			return match
		}
		return stringify(val)
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// bulletList renders items as a "- item" block, or "" when empty.
func bulletList(items []string) string {
	var cleaned []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it != "" {
			cleaned = append(cleaned, "- "+it)
		}
	}
	return strings.Join(cleaned, "\n")
}

func ctxString(ctx map[string]any, key string) string {
	v, ok := ctx[key]
	if !ok {
		return ""
	}
	return stringify(v)
}

func ctxStrings(ctx map[string]any, key string) []string {
	v, ok := ctx[key]
	if !ok {
		return nil
	}
	if s, ok := v.([]string); ok {
		return s
	}
	return nil
}

func ctxBool(ctx map[string]any, key string) bool {
	v, ok := ctx[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
