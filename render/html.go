// Package render turns compiled research reports into presentation
// artifacts. The HTML renderer is the default; PDF generation is left to an
// external converter consuming its output.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

// HTML renders markdown reports to a standalone styled HTML document.
type HTML struct {
	md    goldmark.Markdown
	title string
}

// NewHTML creates the HTML renderer. title is the document title fallback.
func NewHTML(title string) *HTML {
	return &HTML{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(ghtml.WithHardWraps()),
		),
		title: title,
	}
}

// Render implements conductor.Renderer.
func (h *HTML) Render(_ context.Context, markdown string) ([]byte, string, error) {
	var body bytes.Buffer
	if err := h.md.Convert([]byte(markdown), &body); err != nil {
		return nil, "", fmt.Errorf("convert markdown: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, pageShell, html.EscapeString(h.title), body.String())
	return out.Bytes(), "text/html; charset=utf-8", nil
}

const pageShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: Georgia, serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #1a1a1a; }
h1, h2, h3 { font-family: Helvetica, Arial, sans-serif; }
h1 { border-bottom: 2px solid #333; padding-bottom: .3rem; }
h2 { border-bottom: 1px solid #ccc; padding-bottom: .2rem; margin-top: 2rem; }
code { background: #f4f4f4; padding: .1rem .3rem; border-radius: 3px; }
pre { background: #f4f4f4; padding: 1rem; overflow-x: auto; border-radius: 4px; }
blockquote { border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; color: #555; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .3rem .6rem; }
</style>
</head>
<body>
%s
</body>
</html>
`
