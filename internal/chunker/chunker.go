// Package chunker splits extracted document text into overlapping chunks
// sized for embedding.
package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/xxxsen/kbchat/internal/extract"
	"github.com/xxxsen/kbchat/internal/model"
)

const (
	// CharsPerToken approximates tokens from character counts.
	CharsPerToken = 4

	chunkSizeTokens = 500
	overlapTokens   = 50

	chunkSizeChars = chunkSizeTokens * CharsPerToken
	overlapChars   = overlapTokens * CharsPerToken

	// minChunkChars drops fragments too small to carry meaning.
	minChunkChars = 50
)

// splitSeparators are tried in order of preference; the empty separator
// forces a hard split when nothing else fits.
var splitSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type Chunker struct {
	chunkSize int
	overlap   int
}

func New() *Chunker {
	return &Chunker{chunkSize: chunkSizeChars, overlap: overlapChars}
}

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// Chunk splits an extraction result into chunks, picking the strategy from
// the extraction type. Chunk indexes are contiguous across the whole
// document regardless of page or section boundaries.
func (c *Chunker) Chunk(extracted *extract.Result, sourceFile string) []model.Chunk {
	switch extracted.Type {
	case extract.TypePDF:
		if len(extracted.Pages) > 0 {
			return c.chunkPDF(extracted.Pages, sourceFile)
		}
		return c.chunkText(extracted.Text, sourceFile)
	case extract.TypeMarkdown:
		return c.chunkMarkdown(extracted.Text, sourceFile)
	default:
		return c.chunkText(extracted.Text, sourceFile)
	}
}

func (c *Chunker) chunkText(text, sourceFile string) []model.Chunk {
	return c.appendChunks(nil, text, model.ChunkMetadata{SourceFile: sourceFile})
}

func (c *Chunker) chunkPDF(pages []extract.Page, sourceFile string) []model.Chunk {
	var chunks []model.Chunk
	for _, page := range pages {
		chunks = c.appendChunks(chunks, page.Text, model.ChunkMetadata{
			SourceFile: sourceFile,
			PageNumber: page.Number,
		})
	}
	return chunks
}

func (c *Chunker) chunkMarkdown(text, sourceFile string) []model.Chunk {
	var chunks []model.Chunk
	for _, sec := range splitSections(text) {
		chunks = c.appendChunks(chunks, sec.text, model.ChunkMetadata{
			SourceFile:   sourceFile,
			SectionTitle: sec.title,
		})
	}
	return chunks
}

// appendChunks splits text and appends the surviving parts to chunks,
// continuing the running chunk index.
func (c *Chunker) appendChunks(chunks []model.Chunk, text string, meta model.ChunkMetadata) []model.Chunk {
	if strings.TrimSpace(text) == "" {
		return chunks
	}
	for _, part := range c.splitText(text) {
		trimmed := strings.TrimSpace(part)
		if len(trimmed) < minChunkChars {
			continue
		}
		chunks = append(chunks, model.Chunk{
			Content:    trimmed,
			ChunkIndex: len(chunks),
			TokenCount: EstimateTokens(part),
			Metadata:   meta,
		})
	}
	return chunks
}

// splitText cuts text at the latest acceptable separator within the chunk
// window, carrying overlapChars of trailing context into the next chunk. A
// separator only qualifies when the resulting chunk keeps at least 30% of
// the window, otherwise the next weaker separator is tried.
func (c *Chunker) splitText(text string) []string {
	if len(text) <= c.chunkSize {
		return []string{text}
	}
	for _, sep := range splitSeparators {
		if sep == "" {
			return c.hardSplit(text)
		}
		limit := c.chunkSize + len(sep)
		if limit > len(text) {
			limit = len(text)
		}
		idx := strings.LastIndex(text[:limit], sep)
		if idx <= c.chunkSize*3/10 {
			continue
		}
		cut := idx + len(sep)
		rest := text[cut-c.overlap:]
		return append([]string{text[:cut]}, c.splitText(rest)...)
	}
	return c.hardSplit(text)
}

func (c *Chunker) hardSplit(text string) []string {
	var parts []string
	step := c.chunkSize - c.overlap
	for start := 0; start < len(text); start += step {
		end := start + c.chunkSize
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[start:end])
		if end == len(text) {
			break
		}
	}
	return parts
}

type section struct {
	title string
	text  string
}

// splitSections partitions markdown at headings of level 1 to 3. Text
// before the first heading becomes an untitled section.
func splitSections(text string) []section {
	src := []byte(text)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(src))

	type boundary struct {
		offset int
		title  string
	}
	var bounds []boundary
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Level > 3 {
			continue
		}
		lines := heading.Lines()
		if lines.Len() == 0 {
			continue
		}
		start := lines.At(0).Start
		for start > 0 && src[start-1] != '\n' {
			start--
		}
		bounds = append(bounds, boundary{
			offset: start,
			title:  string(heading.Text(src)),
		})
	}
	if len(bounds) == 0 {
		return []section{{text: text}}
	}

	var sections []section
	if bounds[0].offset > 0 {
		sections = append(sections, section{text: text[:bounds[0].offset]})
	}
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].offset
		}
		sections = append(sections, section{title: b.title, text: text[b.offset:end]})
	}
	return sections
}
