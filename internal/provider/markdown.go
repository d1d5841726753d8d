package provider

import (
	"bytes"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
)

// commentMarkdown renders comment bodies for trackers that only accept
// HTML. Raw HTML in the source is not passed through.
var commentMarkdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
)

func renderCommentHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := commentMarkdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
