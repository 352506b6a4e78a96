// Package prosemirror models ProseMirror document trees, their schema, cursor
// positions, and the structural diff that merges two trees into one
// track-changes tree.
package prosemirror

import (
	"encoding/json"
	"reflect"
	"strings"
)

const (
	TextType = "text"

	// MarkInserted and MarkDeleted are the diff marks applied by Diff.
	MarkInserted = "inserted"
	MarkDeleted  = "deleted"
)

// Node represents a node in a ProseMirror document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark represents formatting applied to a node (bold, link, diff marks).
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

func (n Node) IsText() bool {
	return n.Type == TextType
}

// HasMark reports whether the node carries a mark of the given type.
func (n Node) HasMark(markType string) bool {
	return hasMark(n.Marks, markType)
}

// Clone returns a deep copy so callers can mutate the result freely.
func (n Node) Clone() Node {
	out := Node{Type: n.Type, Text: n.Text}
	if n.Attrs != nil {
		out.Attrs = cloneAttrs(n.Attrs)
	}
	if len(n.Marks) > 0 {
		out.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			out.Marks[i] = Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
		}
	}
	if len(n.Content) > 0 {
		out.Content = make([]Node, len(n.Content))
		for i, child := range n.Content {
			out.Content[i] = child.Clone()
		}
	}
	return out
}

// shallow returns the node without its children.
func (n Node) shallow() Node {
	c := n.Clone()
	c.Content = nil
	return c
}

// Equal reports whether two trees are structurally identical. Empty and nil
// attrs, marks, and content compare equal.
func Equal(a, b Node) bool {
	if a.Type != b.Type || a.Text != b.Text {
		return false
	}
	if !attrsEqual(a.Attrs, b.Attrs) || !marksEqual(a.Marks, b.Marks) {
		return false
	}
	if len(a.Content) != len(b.Content) {
		return false
	}
	for i := range a.Content {
		if !Equal(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

// FromPlainText builds a doc with one paragraph per line. Empty lines become
// empty paragraphs so line positions survive a round trip.
func FromPlainText(text string) Node {
	doc := Node{Type: "doc"}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		p := Node{Type: "paragraph"}
		if line != "" {
			p.Content = []Node{{Type: TextType, Text: line}}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}

func hasMark(marks []Mark, markType string) bool {
	for _, m := range marks {
		if m.Type == markType {
			return true
		}
	}
	return false
}

func addMark(marks []Mark, markType string) []Mark {
	if hasMark(marks, markType) {
		return marks
	}
	out := make([]Mark, 0, len(marks)+1)
	out = append(out, marks...)
	return append(out, Mark{Type: markType})
}

func removeMark(marks []Mark, markType string) []Mark {
	if !hasMark(marks, markType) {
		return marks
	}
	var out []Mark
	for _, m := range marks {
		if m.Type != markType {
			out = append(out, m)
		}
	}
	return out
}

func marksEqual(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || !attrsEqual(a[i].Attrs, b[i].Attrs) {
			return false
		}
	}
	return true
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// canonical renders a value as JSON with sorted keys, used as a stable
// identity for attrs and marks when tokenizing.
func canonical(v any) string {
	if v == nil {
		return ""
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return ""
	}
	if m, ok := v.([]Mark); ok && len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
