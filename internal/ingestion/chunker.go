package ingestion

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

const (
	targetChunkChars  = 1000
	chunkOverlapSents = 1
)

// ChunkText splits extracted text into chunks of roughly
// targetChunkChars characters, breaking on sentence boundaries with a
// one-sentence overlap so no statement is orphaned at a cut point.
func ChunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0

	for _, sent := range sentences {
		if currentLen > 0 && currentLen+len(sent) > targetChunkChars {
			chunks = append(chunks, strings.Join(current, " "))
			// Carry the tail sentences into the next chunk.
			start := len(current) - chunkOverlapSents
			if start < 0 {
				start = 0
			}
			current = append([]string{}, current[start:]...)
			currentLen = 0
			for _, s := range current {
				currentLen += len(s) + 1
			}
		}
		current = append(current, sent)
		currentLen += len(sent) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

func splitSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false))
	if err != nil {
		// Fall back to paragraph splitting rather than dropping the
		// document.
		return splitParagraphs(text)
	}

	var sentences []string
	for _, sent := range doc.Sentences() {
		s := strings.TrimSpace(sent.Text)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return splitParagraphs(text)
	}
	return sentences
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
