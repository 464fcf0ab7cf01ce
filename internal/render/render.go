package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Format tags how a document was rendered.
type Format string

const (
	FormatHTML  Format = "html"
	FormatPlain Format = "plain"
	FormatPDF   Format = "pdf"
	FormatDOCX  Format = "docx"
)

// ErrUnparseable is returned when a document cannot be tokenized. It is fatal
// for that document and never retried.
var ErrUnparseable = errors.New("unparseable document")

// Renderer converts raw document bytes into plain text lines joined by '\n'.
type Renderer interface {
	Render(raw []byte) (string, error)
}

// Detect classifies a raw document. HTML is recognized by the first non-blank
// line starting with an <html> tag or an HTML doctype declaration.
func Detect(raw []byte) Format {
	switch {
	case bytes.HasPrefix(raw, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		return FormatDOCX
	}
	first := firstNonBlankLine(raw)
	first = strings.ToLower(strings.TrimSpace(first))
	if strings.HasPrefix(first, "<!doctype html") || isHTMLOpenTag(first) {
		return FormatHTML
	}
	return FormatPlain
}

func isHTMLOpenTag(s string) bool {
	if !strings.HasPrefix(s, "<html") {
		return false
	}
	if len(s) == len("<html") {
		return true
	}
	switch s[len("<html")] {
	case '>', ' ', '\t', '\r':
		return true
	}
	return false
}

func firstNonBlankLine(raw []byte) string {
	for len(raw) > 0 {
		line := raw
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			raw = nil
		}
		if len(bytes.TrimSpace(line)) > 0 {
			return string(line)
		}
	}
	return ""
}

// PdftotextFallback makes the PDF renderer retry with the pdftotext binary
// when the pure Go extraction fails.
var PdftotextFallback = true

// ForFormat returns the renderer for a detected format.
func ForFormat(f Format) (Renderer, error) {
	switch f {
	case FormatHTML:
		return &HTMLRenderer{}, nil
	case FormatPlain:
		return &TextRenderer{}, nil
	case FormatPDF:
		return &PDFRenderer{FallbackPdftotext: PdftotextFallback}, nil
	case FormatDOCX:
		return &DOCXRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", f)
	}
}

// Render detects the format of raw and renders it.
func Render(raw []byte) (Format, string, error) {
	f := Detect(raw)
	r, err := ForFormat(f)
	if err != nil {
		return f, "", err
	}
	text, err := r.Render(raw)
	if err != nil {
		return f, "", fmt.Errorf("render %s: %w", f, err)
	}
	return f, text, nil
}

// Lines splits rendered text on '\n'. Line indexes are the coordinates used by
// every later stage, so the split never drops empty lines.
func Lines(text string) []string {
	return strings.Split(text, "\n")
}
