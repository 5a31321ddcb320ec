package oracle

import (
	"context"
	"fmt"
)

// DimensionScores holds the five raw dimension scores on the oracle's
// 0-100 scale, plus the short rationale line. Normalization to 0-1 and
// weighting happen in the curation layer.
type DimensionScores struct {
	Semantic   float64
	Concept    float64
	Procedural float64
	Vocabulary float64
	Reference  float64
	Rationale  string
}

const scoreSystemPrompt = `You evaluate how relevant a knowledge-base fragment is to an agent's task requirements.
Score each dimension 0-100. Respond with exactly these six lines and nothing else:

semantic_relevance: <0-100>
concept_coverage: <0-100>
procedural_match: <0-100>
vocabulary_alignment: <0-100>
reference_match: <0-100>
rationale: <one sentence>`

// ScoreRelevance issues one scoring call and parses the structured
// reply. A reply that cannot be parsed after transport retries returns
// ErrMalformedResponse; the caller skips the chunk rather than aborting
// the batch.
func (c *Client) ScoreRelevance(ctx context.Context, userPrompt string) (*DimensionScores, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: scoreSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		return nil, err
	}

	scores, err := parseDimensionScores(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing scoring response: %w", err)
	}

	return scores, nil
}

// SuggestRemediation asks the oracle for one concrete suggestion to
// close a coverage gap. Callers fall back to a templated string on
// failure.
func (c *Client) SuggestRemediation(ctx context.Context, item, itemKind, contextText string) (string, error) {
	systemPrompt := `You advise on knowledge-base coverage gaps. Given a requirement item with weak coverage,
suggest in 1-2 sentences what kind of content should be added. Be concrete.`

	userPrompt := fmt.Sprintf("Requirement %s: %q\n\nClosest existing content:\n%s",
		itemKind, item, truncate(contextText, 1500))

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.4,
		MaxTokens:    150,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate suggestion: %w", err)
	}

	return resp.Content, nil
}
