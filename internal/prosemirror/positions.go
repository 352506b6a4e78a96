package prosemirror

import "strings"

// NodesBetween calls fn for every descendant of n overlapping the range
// [from, to), where positions are relative to the start of n's content. pos
// is the position directly before the node. Returning false skips the node's
// children.
func (s *Schema) NodesBetween(n Node, from, to int, fn func(node Node, pos int) bool) {
	s.nodesBetween(n, from, to, 0, fn)
}

func (s *Schema) nodesBetween(n Node, from, to, start int, fn func(Node, int) bool) {
	pos := 0
	for _, child := range n.Content {
		if pos >= to {
			return
		}
		end := pos + s.NodeSize(child)
		if end > from {
			if fn(child, start+pos) && len(child.Content) > 0 {
				s.nodesBetween(child, from-pos-1, to-pos-1, start+pos+1, fn)
			}
		}
		pos = end
	}
}

// TextBetween returns the text in [from, to), with blockSeparator inserted
// between textblocks.
func (s *Schema) TextBetween(n Node, from, to int, blockSeparator string) string {
	var b strings.Builder
	separated := true
	s.NodesBetween(n, from, to, func(node Node, pos int) bool {
		text := ""
		switch {
		case node.IsText():
			runes := []rune(node.Text)
			lo := max(from, pos) - pos
			hi := min(to-pos, len(runes))
			if lo < hi {
				text = string(runes[lo:hi])
			}
		case node.Type == "hardBreak":
			text = "\n"
		}
		if !s.IsInline(node.Type) && s.IsTextblock(node.Type) && blockSeparator != "" {
			if separated {
				separated = false
			} else {
				b.WriteString(blockSeparator)
			}
		}
		b.WriteString(text)
		return true
	})
	return b.String()
}

// PlainText returns the whole document's text, one line per textblock.
func (s *Schema) PlainText(doc Node) string {
	return s.TextBetween(doc, 0, s.ContentSize(doc), "\n")
}
