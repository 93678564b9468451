package services

import (
	"bytes"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Markdown renders language model answers written in Markdown into HTML. Fenced code blocks are
// highlighted according to their language tag; untagged blocks get a best-effort guess.
//
// Raw HTML in the source is omitted from the output.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a Markdown renderer using the given chroma style name.
func NewMarkdown(style string) Markdown {
	if style == "" {
		style = "github"
	}
	return Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle(style),
					highlighting.WithGuessLanguage(true),
					highlighting.WithFormatOptions(
						chromahtml.WithClasses(false),
					),
				),
			),
		),
	}
}

// Render converts the Markdown source into HTML.
func (m Markdown) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
