package curation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxRequirementChars = 1200
	maxChunkChars       = 2000
)

// renderTemplate substitutes {{name}} placeholders from a fixed field
// map. Unknown placeholders are reported, never evaluated: the template
// is data, not code. Validation runs against the template itself, so a
// {{...}} marker arriving inside a field value (chunk content quoting a
// config file, say) is literal text, not a placeholder.
func renderTemplate(template string, fields map[string]string) (string, error) {
	var missing string
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		rest = rest[start+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			break
		}
		name := rest[:end]
		rest = rest[end+2:]
		if _, ok := fields[name]; !ok && missing == "" {
			missing = name
		}
	}

	out := template
	for name, value := range fields {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}

	if missing != "" {
		return out, fmt.Errorf("unresolved placeholder {{%s}}", missing)
	}
	return out, nil
}

const scoringTemplate = `Agent task requirements:
{{requirement_summary}}

Key concepts: {{concepts}}
Key procedures: {{procedures}}
Domain vocabulary: {{vocabulary}}

Knowledge-base fragment (category: {{category}}):
{{chunk_content}}

Score this fragment's relevance to the requirements.`

// buildScoringPrompt assembles the bounded per-chunk scoring prompt.
// Requirement summary and chunk content are truncated so prompt size
// stays independent of document size.
func buildScoringPrompt(summary string, concepts, procedures, vocabulary []string, category, content string) (string, error) {
	return renderTemplate(scoringTemplate, map[string]string{
		"requirement_summary": clip(summary, maxRequirementChars),
		"concepts":            clip(strings.Join(concepts, ", "), 400),
		"procedures":          clip(strings.Join(procedures, ", "), 400),
		"vocabulary":          clip(strings.Join(vocabulary, ", "), 400),
		"category":            category,
		"chunk_content":       clip(content, maxChunkChars),
	})
}

// clip truncates to at most max bytes, backing up to a rune boundary
// so a multi-byte character is never split.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
