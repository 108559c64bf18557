package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	// DefaultCharBudget is the number of code points of document text sent to the model.
	DefaultCharBudget = 4000

	pageSeparator = "\n\n"
)

// ExtractedText is the text of a whole PDF, held only for the request.
type ExtractedText struct {
	Text      string
	PageCount int
}

// BudgetedChunk is extracted text cut down to the configured budget.
type BudgetedChunk struct {
	Text        string
	IsTruncated bool
}

// ExtractTextFromPDF extracts all text from a PDF file, page by page.
// A page that fails to parse fails the whole document.
func ExtractTextFromPDF(path string) (result *ExtractedText, err error) {
	// ledongthuc/pdf panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = Wrap(KindExtractionFailure, "Failed to extract text from PDF", fmt.Errorf("pdf panic: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, Wrap(KindExtractionFailure, "Failed to extract text from PDF", fmt.Errorf("failed to open PDF: %w", err))
	}
	defer f.Close()

	var textBuilder strings.Builder
	totalPage := r.NumPage()

	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, Wrap(KindExtractionFailure, "Failed to extract text from PDF", fmt.Errorf("page %d: %w", pageIndex, err))
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString(pageSeparator)
	}

	text := textBuilder.String()
	if strings.TrimSpace(text) == "" {
		return nil, NewError(KindEmptyDocument, "No text could be extracted from this PDF.")
	}

	return &ExtractedText{Text: text, PageCount: totalPage}, nil
}

// Budget truncates text to its first limit code points.
// A non-positive limit falls back to DefaultCharBudget.
func Budget(text string, limit int) BudgetedChunk {
	if limit <= 0 {
		limit = DefaultCharBudget
	}
	if utf8.RuneCountInString(text) <= limit {
		return BudgetedChunk{Text: text}
	}

	n := 0
	for i := range text {
		if n == limit {
			return BudgetedChunk{Text: text[:i], IsTruncated: true}
		}
		n++
	}
	return BudgetedChunk{Text: text}
}
