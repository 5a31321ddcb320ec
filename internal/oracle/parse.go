package oracle

import (
	"fmt"
	"strconv"
	"strings"
)

// parseDimensionScores extracts the five "name: value" lines from an
// oracle reply. The oracle occasionally wraps its answer in a fenced
// block or adds prose around it, so parsing scans line by line instead
// of assuming an exact layout.
func parseDimensionScores(content string) (*DimensionScores, error) {
	scores := &DimensionScores{}
	seen := make(map[string]bool)

	for _, line := range strings.Split(stripFences(content), "\n") {
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}

		if key == "rationale" {
			scores.Rationale = value
			seen[key] = true
			continue
		}

		num, err := parseScoreValue(value)
		if err != nil {
			continue
		}

		switch key {
		case "semantic_relevance":
			scores.Semantic = num
		case "concept_coverage":
			scores.Concept = num
		case "procedural_match":
			scores.Procedural = num
		case "vocabulary_alignment":
			scores.Vocabulary = num
		case "reference_match":
			scores.Reference = num
		default:
			continue
		}
		seen[key] = true
	}

	required := []string{"semantic_relevance", "concept_coverage", "procedural_match", "vocabulary_alignment", "reference_match"}
	for _, key := range required {
		if !seen[key] {
			return nil, fmt.Errorf("missing dimension %q: %w", key, ErrMalformedResponse)
		}
	}

	return scores, nil
}

// stripFences removes markdown code fences the oracle sometimes wraps
// its answer in.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	lines := strings.Split(content, "\n")
	var kept []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func splitKeyValue(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}

	key := strings.ToLower(strings.TrimSpace(line[:idx]))
	key = strings.Trim(key, "*-• ")
	value := strings.TrimSpace(line[idx+1:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

func parseScoreValue(value string) (float64, error) {
	// Tolerate trailing annotations like "85/100" or "85 (high)".
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == '/' || r == ' ' || r == '('
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty score value")
	}

	num, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil {
		return 0, err
	}

	if num < 0 {
		num = 0
	}
	if num > 100 {
		num = 100
	}
	return num, nil
}

func parseCategory(content string) string {
	word := strings.ToLower(strings.TrimSpace(stripFences(content)))
	word = strings.Trim(word, ".\"'` ")

	switch word {
	case "concept", "procedure", "decision", "vocabulary", "reference":
		return word
	default:
		return "other"
	}
}
