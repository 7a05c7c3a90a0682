// Package pdfsplit splits PDF documents into page-range chunks with a
// one-page overlap between adjacent chunks.
package pdfsplit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Document holds per-page extracted text for a parsed PDF.
type Document struct {
	// PageCount is the number of pages in the PDF.
	PageCount int
	// PageText holds the extracted plain text of each page, 0-indexed
	// (page 1 is PageText[0]). Pages that fail extraction are empty.
	PageText []string
}

// ChunkSpec describes one planned chunk: its page range and the extracted
// text payload the worker will process.
type ChunkSpec struct {
	Index      int
	StartPage  int
	EndPage    int
	PageCount  int
	HasOverlap bool
	// Text is the concatenated plain text of the page range.
	Text string
	// SizeBytes is the payload size.
	SizeBytes int
}

// Splitter parses PDFs and plans chunks.
type Splitter struct {
	strategy Strategy
}

// New creates a Splitter with the given strategy.
func New(strategy Strategy) *Splitter {
	return &Splitter{strategy: strategy}
}

// NewDefault creates a Splitter with the default page-count strategy.
func NewDefault() *Splitter {
	return New(DefaultStrategy())
}

// Parse reads a PDF byte stream and extracts per-page text.
// Pages that fail text extraction are kept as empty strings so page
// numbering stays aligned; a fully empty document is reported by the
// caller as a NO_TEXT chunk failure, not here.
func (s *Splitter) Parse(data []byte) (*Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	total := reader.NumPage()
	if total <= 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	doc := &Document{
		PageCount: total,
		PageText:  make([]string, total),
	}

	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract.
			continue
		}
		doc.PageText[i-1] = strings.TrimSpace(text)
	}

	return doc, nil
}

// Split plans chunk ranges for the document and assembles their text
// payloads. The returned specs are ordered by index.
func (s *Splitter) Split(doc *Document) []ChunkSpec {
	ranges := s.strategy.Plan(doc.PageCount)
	specs := make([]ChunkSpec, 0, len(ranges))

	for _, r := range ranges {
		var b strings.Builder
		for p := r.StartPage; p <= r.EndPage; p++ {
			text := doc.PageText[p-1]
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(text)
		}
		text := b.String()
		specs = append(specs, ChunkSpec{
			Index:      r.Index,
			StartPage:  r.StartPage,
			EndPage:    r.EndPage,
			PageCount:  r.PageCount(),
			HasOverlap: r.HasOverlap,
			Text:       text,
			SizeBytes:  len(text),
		})
	}

	return specs
}

// SplitText splits an already-extracted text payload roughly in half at a
// paragraph or sentence boundary. The retry engine uses it for the
// sub-chunk fallback tier.
func SplitText(text string) (string, string) {
	mid := len(text) / 2
	if mid == 0 {
		return text, ""
	}

	// Prefer a paragraph break near the midpoint, then a sentence end,
	// then a space. The nearest boundary on either side of the midpoint
	// wins, so a break just before the middle is not skipped over.
	for _, sep := range []string{"\n\n", ". ", " "} {
		cut := -1
		if idx := strings.LastIndex(text[:mid], sep); idx >= 0 {
			cut = idx + len(sep)
		}
		if idx := strings.Index(text[mid:], sep); idx >= 0 {
			forward := mid + idx + len(sep)
			if cut < 0 || forward-mid < mid-cut {
				cut = forward
			}
		}
		if cut > 0 && cut < len(text) {
			return strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])
		}
	}
	return strings.TrimSpace(text[:mid]), strings.TrimSpace(text[mid:])
}
