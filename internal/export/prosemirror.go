package export

import (
	"fmt"
	"html"
	"strings"

	"gemcast/internal/prosemirror"
)

// Class names carried by diff-marked content in rendered HTML.
const (
	ClassInserted = "diff-inserted"
	ClassDeleted  = "diff-deleted"
)

// ProseMirrorToHTML renders a document tree to HTML. Text marked inserted
// or deleted is wrapped in <ins>/<del>; blocks carrying a diff mark get the
// matching class.
func ProseMirrorToHTML(doc prosemirror.Node) string {
	var b strings.Builder
	renderNode(&b, doc)
	return b.String()
}

func renderNode(b *strings.Builder, node prosemirror.Node) {
	if node.IsText() {
		b.WriteString(renderTextWithMarks(node.Text, node.Marks))
		return
	}

	class := diffClass(node.Marks)
	open := func(tag string) {
		if class != "" {
			fmt.Fprintf(b, `<%s class="%s">`, tag, class)
		} else {
			fmt.Fprintf(b, "<%s>", tag)
		}
	}
	wrap := func(tag string, inner string) {
		open(tag)
		b.WriteString(inner)
		fmt.Fprintf(b, "</%s>\n", tag)
	}

	switch node.Type {
	case "doc":
		renderContent(b, node.Content)
	case "paragraph":
		wrap("p", contentHTML(node.Content))
	case "heading":
		level := 1
		if lvl, ok := node.Attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			level = int(lvl)
		}
		wrap(fmt.Sprintf("h%d", level), contentHTML(node.Content))
	case "bulletList":
		wrap("ul", "\n"+contentHTML(node.Content))
	case "orderedList":
		wrap("ol", "\n"+contentHTML(node.Content))
	case "listItem":
		wrap("li", contentHTML(node.Content))
	case "blockquote":
		wrap("blockquote", "\n"+contentHTML(node.Content))
	case "codeBlock":
		open("pre")
		b.WriteString("<code>")
		renderContent(b, node.Content)
		b.WriteString("</code></pre>\n")
	case "hardBreak":
		b.WriteString("<br>")
	case "table":
		wrap("table", "\n"+contentHTML(node.Content))
	case "tableRow":
		wrap("tr", "\n"+contentHTML(node.Content))
	case "tableCell":
		wrap("td", contentHTML(node.Content))
	case "tableHeader":
		wrap("th", contentHTML(node.Content))
	case "horizontalRule":
		open("hr")
		b.WriteString("\n")
	case "image":
		src, _ := node.Attrs["src"].(string)
		alt, _ := node.Attrs["alt"].(string)
		if class != "" {
			fmt.Fprintf(b, `<img class="%s" src="%s" alt="%s">`, class, html.EscapeString(src), html.EscapeString(alt))
		} else {
			fmt.Fprintf(b, `<img src="%s" alt="%s">`, html.EscapeString(src), html.EscapeString(alt))
		}
	default:
		// Unknown node type - render content if any
		renderContent(b, node.Content)
	}
}

func renderContent(b *strings.Builder, content []prosemirror.Node) {
	for _, child := range content {
		renderNode(b, child)
	}
}

func contentHTML(content []prosemirror.Node) string {
	var b strings.Builder
	renderContent(&b, content)
	return b.String()
}

func diffClass(marks []prosemirror.Mark) string {
	for _, m := range marks {
		switch m.Type {
		case prosemirror.MarkInserted:
			return ClassInserted
		case prosemirror.MarkDeleted:
			return ClassDeleted
		}
	}
	return ""
}

// renderTextWithMarks renders text with formatting marks
func renderTextWithMarks(text string, marks []prosemirror.Mark) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		mark := marks[i]
		switch mark.Type {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "code":
			htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
		case "link":
			href, _ := mark.Attrs["href"].(string)
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
		case "underline":
			htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
		case prosemirror.MarkInserted:
			htmlText = fmt.Sprintf(`<ins class="%s">%s</ins>`, ClassInserted, htmlText)
		case prosemirror.MarkDeleted:
			htmlText = fmt.Sprintf(`<del class="%s">%s</del>`, ClassDeleted, htmlText)
		}
	}

	return htmlText
}
