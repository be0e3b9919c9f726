// Package ingestion turns uploaded contract payloads into plain text and
// splits that text into ordered chunks sized for an LLM conversation turn.
package ingestion

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatText represents UTF-8 plain text documents.
	FormatText DocumentFormat = "txt"
)

var pdfMagic = []byte("%PDF-")

// ErrUnsupportedFormat is returned when a payload is neither a PDF nor UTF-8 text.
var ErrUnsupportedFormat = errors.New("unsupported document format, expected pdf or txt")

// ContentType returns the MIME type stored alongside a persisted payload.
func (f DocumentFormat) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// SniffFormat inspects the payload bytes. A PDF is recognised by its header,
// anything else must be valid UTF-8 to count as text.
func SniffFormat(data []byte) DocumentFormat {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.Contains(head, pdfMagic) {
		return FormatPDF
	}
	if len(data) > 0 && utf8.Valid(data) {
		return FormatText
	}
	return FormatUnknown
}

// DecodeBase64 decodes a base64 document payload. Data URIs
// ("data:application/pdf;base64,...") and unpadded input are accepted.
func DecodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		idx := strings.Index(encoded, ";base64,")
		if idx < 0 {
			return nil, errors.New("data uri is not base64 encoded")
		}
		encoded = encoded[idx+len(";base64,"):]
	}
	encoded = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, encoded)
	if encoded == "" {
		return nil, errors.New("empty document payload")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return data, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
