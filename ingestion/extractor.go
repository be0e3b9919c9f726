package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Document is the text recovered from one uploaded payload.
type Document struct {
	Text         string
	Format       DocumentFormat
	Pages        int
	SkippedPages []int
}

// Extractor materialises uploaded payloads into a scoped temp file, parses
// them and always removes the file before returning.
type Extractor struct {
	workDir string
	logger  *slog.Logger
	parsers map[DocumentFormat]DocumentParser
}

func NewExtractor(workDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &Extractor{
		workDir: workDir,
		logger:  logger,
		parsers: map[DocumentFormat]DocumentParser{
			FormatPDF:  pdfParser{logger: logger},
			FormatText: textParser{},
		},
	}
}

// ExtractBase64 decodes a base64 payload and extracts its text.
func (e *Extractor) ExtractBase64(ctx context.Context, encoded string) (Document, error) {
	data, err := DecodeBase64(encoded)
	if err != nil {
		return Document{}, err
	}
	return e.Extract(ctx, data)
}

func (e *Extractor) Extract(ctx context.Context, data []byte) (Document, error) {
	format := SniffFormat(data)
	parser, ok := e.parsers[format]
	if !ok {
		return Document{}, ErrUnsupportedFormat
	}

	start := time.Now()
	path, cleanup, err := e.writeTemp(data, format)
	if err != nil {
		return Document{}, err
	}
	defer cleanup()

	parsed, err := parser.Parse(ctx, path)
	if err != nil {
		return Document{}, fmt.Errorf("extract %s text: %w", format, err)
	}

	doc := Document{
		Text:         parsed.Text,
		Format:       format,
		Pages:        parsed.Pages,
		SkippedPages: parsed.SkippedPages,
	}
	e.logger.Debug("document extracted",
		"format", format,
		"pages", doc.Pages,
		"skipped_pages", len(doc.SkippedPages),
		"words", WordCount(doc.Text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

func (e *Extractor) writeTemp(data []byte, format DocumentFormat) (string, func(), error) {
	f, err := os.CreateTemp(e.workDir, "contract-*."+string(format))
	if err != nil {
		return "", nil, fmt.Errorf("create temp document: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("remove temp document", "path", path, "err", err)
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp document: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp document: %w", err)
	}
	return path, cleanup, nil
}
