package document

import (
	"fmt"

	"gemcast/internal/prosemirror"
)

// Tree returns the revision's content as a document tree under schema.
// Rich content is parsed and validated, text becomes one paragraph per line
// and code a single code block. Image and sheet documents have no tree.
func (r Revision) Tree(schema *prosemirror.Schema) (prosemirror.Node, error) {
	switch r.Kind {
	case KindRich:
		return schema.Parse([]byte(r.Content))
	case KindText:
		return prosemirror.FromPlainText(r.Content), nil
	case KindCode:
		block := prosemirror.Node{Type: "codeBlock"}
		if r.Content != "" {
			block.Content = []prosemirror.Node{{Type: prosemirror.TextType, Text: r.Content}}
		}
		return prosemirror.Node{Type: schema.TopNode(), Content: []prosemirror.Node{block}}, nil
	}
	return prosemirror.Node{}, fmt.Errorf("%s documents have no text tree", r.Kind)
}

// PlainText returns the searchable text of a revision. Images have none;
// rich content that fails to parse falls back to the raw JSON.
func (r Revision) PlainText() string {
	switch r.Kind {
	case KindImage:
		return ""
	case KindRich:
		schema := prosemirror.DefaultSchema()
		tree, err := r.Tree(schema)
		if err != nil {
			return r.Content
		}
		return schema.PlainText(tree)
	}
	return r.Content
}
