package ingestion

import (
	"fmt"
	"strings"
	"testing"
)

func TestChunkTextEmptyInput(t *testing.T) {
	if got := ChunkText(""); got != nil {
		t.Errorf("ChunkText(\"\") = %v, want nil", got)
	}
	if got := ChunkText("   \n\t  "); got != nil {
		t.Errorf("ChunkText(whitespace) = %v, want nil", got)
	}
}

func TestChunkTextShortInputIsOneChunk(t *testing.T) {
	text := "Refunds are processed within five business days. Contact support for exceptions."
	chunks := ChunkText(text)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0], "five business days") {
		t.Errorf("chunk lost content: %q", chunks[0])
	}
}

func TestChunkTextSplitsOnSentenceBoundaries(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Sentence number %d describes one step of the refund workflow in enough detail to matter. ", i)
	}

	chunks := ChunkText(b.String())
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several for ~3.5k chars", len(chunks))
	}

	for i, chunk := range chunks {
		// Chunks may exceed the target by at most one sentence.
		if len(chunk) > targetChunkChars+200 {
			t.Errorf("chunk %d is %d chars, far over target", i, len(chunk))
		}
		if !strings.HasSuffix(strings.TrimSpace(chunk), ".") {
			t.Errorf("chunk %d does not end on a sentence boundary: %q", i, chunk[len(chunk)-40:])
		}
	}
}

func TestChunkTextOverlapsOneSentence(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Sentence number %d describes one step of the refund workflow in enough detail to matter. ", i)
	}

	chunks := ChunkText(b.String())
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := splitSentences(chunks[i-1])
		last := prev[len(prev)-1]
		if !strings.Contains(chunks[i], last) {
			t.Errorf("chunk %d does not carry over the last sentence of chunk %d", i, i-1)
		}
	}
}

func TestSplitParagraphsFallback(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\n\n\nThird."
	got := splitParagraphs(text)
	if len(got) != 3 {
		t.Fatalf("paragraphs = %d, want 3", len(got))
	}
	if got[1] != "Second paragraph." {
		t.Errorf("paragraph[1] = %q", got[1])
	}
}
