// ABOUTME: Markdown rendering of message content for API responses
// ABOUTME: Raw HTML in user content is dropped by goldmark's default renderer

package api

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders GitHub-flavoured markdown. Unsafe HTML stays disabled.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// renderMarkdown converts message content to HTML. On a render failure the
// empty string is returned and clients fall back to the raw content.
func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return ""
	}
	return buf.String()
}
