// Package extract turns uploaded files into plain text for chunking.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	TypeText     = "text"
	TypeMarkdown = "markdown"
	TypePDF      = "pdf"
)

type Page struct {
	Number int
	Text   string
}

type Result struct {
	Text  string
	Pages []Page
	Type  string
}

var frontmatterRe = regexp.MustCompile(`(?s)^---\n.*?\n---\n`)

// FromFile extracts text from the file at path, dispatching on the declared
// mime type with an extension fallback.
func FromFile(path, mimeType, originalFilename string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	switch {
	case mimeType == "application/pdf" || ext == ".pdf":
		return fromPDF(path)
	case mimeType == "text/markdown" || ext == ".md":
		return fromMarkdown(path)
	default:
		return fromPlainText(path)
	}
}

func fromPlainText(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Result{Text: string(content), Type: TypeText}, nil
}

func fromMarkdown(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stripped := frontmatterRe.ReplaceAllString(string(content), "")
	return &Result{Text: stripped, Type: TypeMarkdown}, nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func fromPDF(path string) (*Result, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		texts = append(texts, page.Text)
	}
	return &Result{
		Text:  strings.Join(texts, "\n\n"),
		Pages: pages,
		Type:  TypePDF,
	}, nil
}
