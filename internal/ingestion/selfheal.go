package ingestion

import (
	"fmt"

	"github.com/kbcurator/backend/internal/storage/models"
)

// HealVerdict is the self-healer's decision after an extraction pass.
type HealVerdict int

const (
	// VerdictOK means the extraction yield is acceptable.
	VerdictOK HealVerdict = iota
	// VerdictRetryOCR means the yield is suspicious and the document
	// should be re-extracted with the heavy OCR strategy.
	VerdictRetryOCR
	// VerdictFailed means all strategies were exhausted and the
	// document should be marked failed with a diagnostic reason.
	VerdictFailed
)

// HealConfig bounds the extraction ratio check.
type HealConfig struct {
	MinPagesForCheck     int     // documents shorter than this always pass
	MinChunksPerPage     float64 // expected chunk yield per page
	MinTotalChunks       int     // absolute floor regardless of page count
	MaxExtractionRetries int
}

// Evaluate inspects an extraction result and decides whether it is
// plausible. Very short documents always pass; longer ones must hit
// both the absolute chunk floor and the chunks-per-page ratio. Each
// document gets a bounded number of escalations before it is marked
// failed rather than retried forever.
func Evaluate(cfg HealConfig, pages, chunkCount int, mode string, attempts int) (HealVerdict, string) {
	if pages < cfg.MinPagesForCheck {
		return VerdictOK, ""
	}

	ratio := float64(chunkCount) / float64(pages)
	underYield := chunkCount < cfg.MinTotalChunks || ratio < cfg.MinChunksPerPage
	if !underYield {
		return VerdictOK, ""
	}

	if mode == models.ExtractionModeStandard && attempts < cfg.MaxExtractionRetries {
		return VerdictRetryOCR, ""
	}

	reason := fmt.Sprintf(
		"insufficient extraction yield after %d attempt(s): %d chunks from %d pages (%.2f per page, need %.2f) in %s mode",
		attempts, chunkCount, pages, ratio, cfg.MinChunksPerPage, mode)
	return VerdictFailed, reason
}
