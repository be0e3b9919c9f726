package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocumentParser turns a document stored on disk into plain text.
type DocumentParser interface {
	Parse(ctx context.Context, path string) (ParsedDocument, error)
}

type ParsedDocument struct {
	Text         string
	Pages        int
	SkippedPages []int
}

type pdfParser struct {
	logger *slog.Logger
}

func (p pdfParser) Parse(ctx context.Context, path string) (ParsedDocument, error) {
	f, reader, err := openPDF(path)
	if err != nil {
		return ParsedDocument{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	doc := ParsedDocument{Pages: reader.NumPage()}
	parts := make([]string, 0, doc.Pages)

	for i := 1; i <= doc.Pages; i++ {
		if err := ctx.Err(); err != nil {
			return ParsedDocument{}, err
		}

		text, err := pageText(reader, i)
		if err != nil {
			p.logger.Warn("skip unreadable pdf page", "page", i, "err", err)
			doc.SkippedPages = append(doc.SkippedPages, i)
			continue
		}
		if text = strings.TrimSpace(normalizePlainText(text)); text != "" {
			parts = append(parts, text)
		}
	}

	if doc.Pages > 0 && len(doc.SkippedPages) == doc.Pages {
		return ParsedDocument{}, errors.New("no readable pages in pdf")
	}

	doc.Text = strings.Join(parts, "\n")
	return doc, nil
}

func openPDF(path string) (f *os.File, reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
		if err != nil && f != nil {
			f.Close()
			f = nil
		}
	}()
	return pdf.Open(path)
}

// pageText reads one 1-based page. The pdf package panics on some malformed
// content streams, so a panic is reported as a page error.
func pageText(reader *pdf.Reader, index int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read page %d: %v", index, r)
		}
	}()

	page := reader.Page(index)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("read page %d: %w", index, err)
	}
	return text, nil
}

type textParser struct{}

func (textParser) Parse(_ context.Context, path string) (ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ParsedDocument{}, fmt.Errorf("read text document: %w", err)
	}
	return ParsedDocument{Text: strings.TrimSpace(normalizePlainText(string(data))), Pages: 1}, nil
}
