package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"gemcast/internal/document"
	"gemcast/internal/prosemirror"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataURIImages()
	p.AllowElements("ins", "del")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^diff-(inserted|deleted)$`)).Globally()
	return p
}

// Sanitize strips anything from rendered HTML that the export templates
// do not expect: scripts, event handlers, foreign classes.
func Sanitize(rendered string) template.HTML {
	return template.HTML(policy.Sanitize(rendered))
}

// RevisionHTML renders the body of a revision as sanitized HTML. Text
// documents are treated as Markdown, which is how agents write them.
func RevisionHTML(rev document.Revision, schema *prosemirror.Schema) (template.HTML, error) {
	switch rev.Kind {
	case document.KindRich:
		tree, err := rev.Tree(schema)
		if err != nil {
			return "", err
		}
		return Sanitize(ProseMirrorToHTML(tree)), nil
	case document.KindText:
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(rev.Content), &buf); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
		return Sanitize(buf.String()), nil
	case document.KindCode:
		return Sanitize("<pre><code>" + html.EscapeString(rev.Content) + "</code></pre>"), nil
	case document.KindImage:
		return Sanitize(fmt.Sprintf(`<img src="%s" alt="%s">`, html.EscapeString(imageSource(rev.Content)), html.EscapeString(rev.Title))), nil
	case document.KindSheet:
		table, err := sheetHTML(rev.Content)
		if err != nil {
			return "", err
		}
		return Sanitize(table), nil
	}
	return "", fmt.Errorf("cannot render %s documents", rev.Kind)
}

// imageSource turns stored image content into an <img> source. Uploads
// store a URL; agent-generated images store bare base64 PNG data.
func imageSource(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "data:") || strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://") {
		return content
	}
	return "data:image/png;base64," + content
}

func sheetHTML(content string) (string, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse sheet: %w", err)
	}

	var b strings.Builder
	b.WriteString("<table>\n")
	for i, row := range rows {
		cell := "td"
		if i == 0 {
			cell = "th"
		}
		b.WriteString("<tr>")
		for _, value := range row {
			fmt.Fprintf(&b, "<%s>%s</%s>", cell, html.EscapeString(value), cell)
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")
	return b.String(), nil
}
