package ingestion

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/kbcurator/backend/internal/storage/models"
)

// Extraction is the output of one extraction pass over a document's
// raw content.
type Extraction struct {
	Text  string
	Pages int
}

// Extractor turns a document's raw content into plain text plus a page
// count. Two strategies exist: the cheap structural one used first,
// and the heavy OCR one the self-healer escalates to.
type Extractor interface {
	Extract(ctx context.Context, doc *models.Document) (*Extraction, error)
	Mode() string
}

// StandardExtractor is the light strategy: structural text extraction
// from PDF or cleaned HTML.
type StandardExtractor struct{}

func (StandardExtractor) Mode() string {
	return models.ExtractionModeStandard
}

func (e StandardExtractor) Extract(ctx context.Context, doc *models.Document) (*Extraction, error) {
	switch doc.SourceType {
	case "pdf":
		return extractPDF(doc.RawContent)
	case "html":
		text := cleanHTML(doc.RawContent)
		if text == "" {
			return nil, fmt.Errorf("no content extracted from HTML")
		}
		return &Extraction{Text: text, Pages: estimatePages(text)}, nil
	default:
		text := strings.TrimSpace(doc.RawContent)
		if text == "" {
			return nil, fmt.Errorf("document %s has no content", doc.ID)
		}
		return &Extraction{Text: text, Pages: estimatePages(text)}, nil
	}
}

func extractPDF(raw string) (*Extraction, error) {
	data := []byte(raw)
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	pages := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page is exactly what the ratio
			// self-healer exists for; keep going.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return &Extraction{Text: strings.TrimSpace(sb.String()), Pages: pages}, nil
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()

	text = regexp.MustCompile(`\s+`).ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// estimatePages approximates a page count for sources that have no
// physical pages, so the chunks-per-page ratio stays meaningful.
func estimatePages(text string) int {
	const charsPerPage = 3000
	pages := len(text) / charsPerPage
	if pages < 1 {
		pages = 1
	}
	return pages
}

// OCRBackend transcribes raw document bytes. The backend itself is
// opaque; the default implementation sends page images through the
// oracle's vision model.
type OCRBackend interface {
	Transcribe(ctx context.Context, raw []byte) (string, int, error)
}

// OCRExtractor is the heavy strategy used when structural extraction
// under-delivers.
type OCRExtractor struct {
	Backend OCRBackend
}

func (OCRExtractor) Mode() string {
	return models.ExtractionModeOCR
}

func (e OCRExtractor) Extract(ctx context.Context, doc *models.Document) (*Extraction, error) {
	text, pages, err := e.Backend.Transcribe(ctx, []byte(doc.RawContent))
	if err != nil {
		return nil, fmt.Errorf("ocr extraction failed: %w", err)
	}
	if pages <= 0 {
		pages = estimatePages(text)
	}
	return &Extraction{Text: strings.TrimSpace(text), Pages: pages}, nil
}

// PageTranscriber matches the oracle client's vision endpoint.
type PageTranscriber interface {
	TranscribePage(ctx context.Context, imageDataURL string) (string, error)
}

// OracleOCR adapts the oracle's vision model into an OCRBackend.
type OracleOCR struct {
	Transcriber PageTranscriber
}

func (o OracleOCR) Transcribe(ctx context.Context, raw []byte) (string, int, error) {
	dataURL := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(raw)
	text, err := o.Transcriber.TranscribePage(ctx, dataURL)
	if err != nil {
		return "", 0, err
	}
	return text, 0, nil
}
