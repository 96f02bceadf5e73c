package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// Format is the detected source format of a document.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Document is candidate text ready for validation.
type Document struct {
	// Source names where the text came from: a path, or "-" for stdin.
	Source string

	// Format is the format the text was read in. Text is always markdown.
	Format Format

	// Title is the first level-one heading, if any.
	Title string

	// Text is the normalized markdown text.
	Text string
}

var (
	bom              = []byte{0xEF, 0xBB, 0xBF}
	htmlSniffRe      = regexp.MustCompile(`(?is)^\s*(<!doctype\s+html|<html|<head|<body|<h[1-6][\s>]|<p[\s>]|<div[\s>]|<article[\s>])`)
	outerFenceRe     = regexp.MustCompile("(?s)^```(?:markdown|md)?[ \t]*\n(.*?)\n```[ \t]*$")
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
)

// Reader turns raw generator output into normalized markdown.
type Reader struct {
	converter *md.Converter
}

// NewReader creates a document reader.
func NewReader() *Reader {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Reader{converter: converter}
}

// ReadFile reads a document from path. "-" reads standard input.
func (r *Reader) ReadFile(path string) (*Document, error) {
	if path == "-" {
		return r.ReadFrom("-", os.Stdin)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return r.Parse(path, data)
}

// ReadFrom reads a document from rd.
func (r *Reader) ReadFrom(source string, rd io.Reader) (*Document, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return r.Parse(source, data)
}

// Parse normalizes raw document bytes. The format comes from the source
// extension when it has a known one and is sniffed otherwise.
func (r *Reader) Parse(source string, data []byte) (*Document, error) {
	data = bytes.TrimPrefix(data, bom)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("document %s is not valid UTF-8", source)
	}

	text := normalizeNewlines(string(data))
	format := detectFormat(source, text)

	if format == FormatHTML {
		converted, err := r.convertHTML(text)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s to markdown: %w", source, err)
		}
		text = converted
	} else {
		text = unwrapFence(text)
	}

	return &Document{
		Source: source,
		Format: format,
		Title:  extractTitle(text),
		Text:   text,
	}, nil
}

// convertHTML converts the main content of an HTML page to markdown.
func (r *Reader) convertHTML(page string) (string, error) {
	markdown, err := r.converter.ConvertString(extractMainContent(page))
	if err != nil {
		return "", err
	}
	return cleanMarkdown(markdown), nil
}

func detectFormat(source, text string) Format {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".html", ".htm", ".xhtml":
		return FormatHTML
	case ".md", ".markdown", ".txt":
		return FormatMarkdown
	}
	if htmlSniffRe.MatchString(text) {
		return FormatHTML
	}
	return FormatMarkdown
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// unwrapFence removes a code fence that encloses the whole document, as
// generators sometimes return markdown inside one.
func unwrapFence(text string) string {
	if m := outerFenceRe.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		return m[1]
	}
	return text
}

// cleanMarkdown cleans up converted markdown.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractTitle returns the first level-one ATX heading.
func extractTitle(content string) string {
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimRight(trimmed[2:], "#"))
		}
	}
	return ""
}
